// Package metrics collects the counters of one partition run and renders the
// final report, both as text for the console and as JSON for S3.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics collects counters for a single run. Counters are atomic so the
// collector can be shared with a progress logger.
type Metrics struct {
	accounts            int64 // Accounts discovered
	skippedFolders      int64 // Unrecognized folders under AWSLogs/
	tablesEnsured       int64 // CREATE EXTERNAL TABLE statements that succeeded
	partitionsAdded     int64 // Partition clauses registered
	partitionStatements int64 // ALTER TABLE ADD PARTITION statements issued
	queriesExecuted     int64 // Statements that reached SUCCEEDED

	startTime time.Time
	now       func() time.Time
}

// NewMetrics creates a new Metrics instance with initialized counters
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now(), now: time.Now}
}

// RecordAccounts adds n discovered accounts
func (m *Metrics) RecordAccounts(n int) {
	atomic.AddInt64(&m.accounts, int64(n))
}

// RecordSkipped adds n unrecognized folders
func (m *Metrics) RecordSkipped(n int) {
	atomic.AddInt64(&m.skippedFolders, int64(n))
}

// RecordTable increments the ensured tables counter
func (m *Metrics) RecordTable() {
	atomic.AddInt64(&m.tablesEnsured, 1)
}

// RecordPartitions records one partition statement covering n partitions
func (m *Metrics) RecordPartitions(n int) {
	atomic.AddInt64(&m.partitionStatements, 1)
	atomic.AddInt64(&m.partitionsAdded, int64(n))
}

// SetQueriesExecuted stores the executor's final count
func (m *Metrics) SetQueriesExecuted(n int) {
	atomic.StoreInt64(&m.queriesExecuted, int64(n))
}

// Report is the summary of one run.
type Report struct {
	StartTime           time.Time     `json:"startTime"`
	EndTime             time.Time     `json:"endTime"`
	Duration            time.Duration `json:"duration"`
	Accounts            int64         `json:"accounts"`
	SkippedFolders      int64         `json:"skippedFolders"`
	TablesEnsured       int64         `json:"tablesEnsured"`
	PartitionsAdded     int64         `json:"partitionsAdded"`
	PartitionStatements int64         `json:"partitionStatements"`
	QueriesExecuted     int64         `json:"queriesExecuted"`
	View                string        `json:"view,omitempty"`
	Success             bool          `json:"success"`
	Error               string        `json:"error,omitempty"`
}

// GenerateReport snapshots the counters. runErr is the outcome of the run.
func (m *Metrics) GenerateReport(view string, runErr error) Report {
	endTime := m.now()
	r := Report{
		StartTime:           m.startTime,
		EndTime:             endTime,
		Duration:            endTime.Sub(m.startTime),
		Accounts:            atomic.LoadInt64(&m.accounts),
		SkippedFolders:      atomic.LoadInt64(&m.skippedFolders),
		TablesEnsured:       atomic.LoadInt64(&m.tablesEnsured),
		PartitionsAdded:     atomic.LoadInt64(&m.partitionsAdded),
		PartitionStatements: atomic.LoadInt64(&m.partitionStatements),
		QueriesExecuted:     atomic.LoadInt64(&m.queriesExecuted),
		View:                view,
		Success:             runErr == nil,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// MarshalJSON implements json.Marshaler so Duration reads as "1m2s".
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// String returns a human-readable string representation of the report
func (r Report) String() string {
	status := "completed"
	if !r.Success {
		status = "failed"
	}
	return fmt.Sprintf(
		"Partitioning %s in %s\n"+
			"Accounts: %d (skipped folders: %d)\n"+
			"Tables: %d\n"+
			"Partitions: %d in %d statements\n"+
			"Queries: %d",
		status,
		r.Duration,
		r.Accounts, r.SkippedFolders,
		r.TablesEnsured,
		r.PartitionsAdded, r.PartitionStatements,
		r.QueriesExecuted,
	)
}
