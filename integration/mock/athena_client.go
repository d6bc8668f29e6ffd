package mock

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
)

var (
	createDatabasePattern = regexp.MustCompile(`^CREATE DATABASE IF NOT EXISTS (\w+)`)
	createTablePattern    = regexp.MustCompile("^CREATE EXTERNAL TABLE IF NOT EXISTS `(\\w+)`")
	tableLocationPattern  = regexp.MustCompile(`LOCATION '([^']+)'\s*$`)
	alterTablePattern     = regexp.MustCompile(`^ALTER TABLE (\w+) ADD IF NOT EXISTS`)
	partitionPattern      = regexp.MustCompile(`PARTITION \(([^)]*)\) LOCATION '([^']+)'`)
	dropViewPattern       = regexp.MustCompile(`^DROP VIEW IF EXISTS (\w+)$`)
	createViewPattern     = regexp.MustCompile(`^CREATE OR REPLACE VIEW (\w+) AS (.+)$`)
	viewSourcePattern     = regexp.MustCompile(`SELECT \* FROM (\w+)`)
)

// Table is a table in the mock catalog.
type Table struct {
	Location   string
	Partitions map[string]string // partition spec -> location
}

// Execution is one submitted statement.
type Execution struct {
	ID        string
	Statement string
	Database  string
	Output    string
	State     types.QueryExecutionState
	Reason    string
}

// AthenaClient is a mock implementation of aws.AthenaClient interface for
// testing. It keeps a catalog of databases, tables, partitions and views and
// applies DDL with Athena's IF NOT EXISTS semantics, so running the same
// statements twice leaves the catalog unchanged.
type AthenaClient struct {
	mu sync.Mutex

	Databases map[string]bool
	// Maps database to table name to table
	Tables map[string]map[string]*Table
	// Maps database to view name to source tables
	Views map[string]map[string][]string

	// Every submitted statement, in order
	Executions []*Execution
	// Statements containing this text end in FAILED
	FailOn     string
	FailReason string
	// Number of StartQueryExecution calls to reject with TooManyRequestsException
	Throttle int
}

// NewAthenaClient creates a new mock Athena client with an empty catalog
func NewAthenaClient() *AthenaClient {
	return &AthenaClient{
		Databases: make(map[string]bool),
		Tables:    make(map[string]map[string]*Table),
		Views:     make(map[string]map[string][]string),
	}
}

// StartQueryExecution applies the statement to the catalog immediately
func (m *AthenaClient) StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Throttle > 0 {
		m.Throttle--
		return nil, &types.TooManyRequestsException{Message: aws.String("rate exceeded")}
	}

	exec := &Execution{
		ID:        fmt.Sprintf("qe-%d", len(m.Executions)+1),
		Statement: aws.ToString(params.QueryString),
		State:     types.QueryExecutionStateSucceeded,
	}
	if params.QueryExecutionContext != nil {
		exec.Database = aws.ToString(params.QueryExecutionContext.Database)
	}
	if params.ResultConfiguration != nil {
		exec.Output = aws.ToString(params.ResultConfiguration.OutputLocation)
	}
	m.Executions = append(m.Executions, exec)

	if m.FailOn != "" && strings.Contains(exec.Statement, m.FailOn) {
		exec.State = types.QueryExecutionStateFailed
		exec.Reason = m.FailReason
	} else if err := m.apply(exec.Database, exec.Statement); err != nil {
		exec.State = types.QueryExecutionStateFailed
		exec.Reason = err.Error()
	}

	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String(exec.ID)}, nil
}

// GetQueryExecution reports the final state of a submitted statement
func (m *AthenaClient) GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec := m.find(aws.ToString(params.QueryExecutionId))
	if exec == nil {
		return nil, &types.InvalidRequestException{Message: aws.String("unknown query execution")}
	}

	status := &types.QueryExecutionStatus{State: exec.State}
	if exec.Reason != "" {
		status.StateChangeReason = aws.String(exec.Reason)
	}
	return &athena.GetQueryExecutionOutput{
		QueryExecution: &types.QueryExecution{
			QueryExecutionId: aws.String(exec.ID),
			Query:            aws.String(exec.Statement),
			Status:           status,
		},
	}, nil
}

// GetQueryResults returns an empty result set; DDL produces no rows
func (m *AthenaClient) GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	return &athena.GetQueryResultsOutput{ResultSet: &types.ResultSet{}}, nil
}

// StopQueryExecution marks a statement cancelled
func (m *AthenaClient) StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec := m.find(aws.ToString(params.QueryExecutionId)); exec != nil {
		exec.State = types.QueryExecutionStateCancelled
	}
	return &athena.StopQueryExecutionOutput{}, nil
}

// Statements returns every submitted statement, in order
func (m *AthenaClient) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Executions))
	for i, e := range m.Executions {
		out[i] = e.Statement
	}
	return out
}

// PartitionSpecs returns the sorted partition specs of a table
func (m *AthenaClient) PartitionSpecs(database, table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tables[database][table]
	if !ok {
		return nil
	}
	specs := make([]string, 0, len(t.Partitions))
	for spec := range t.Partitions {
		specs = append(specs, spec)
	}
	sort.Strings(specs)
	return specs
}

func (m *AthenaClient) find(id string) *Execution {
	for _, e := range m.Executions {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// apply mutates the catalog the way Athena would for the supported DDL
func (m *AthenaClient) apply(database, stmt string) error {
	if match := createDatabasePattern.FindStringSubmatch(stmt); match != nil {
		m.Databases[match[1]] = true
		return nil
	}

	if database == "" {
		return fmt.Errorf("no database selected for: %.40s", stmt)
	}
	if !m.Databases[database] {
		return fmt.Errorf("Database %s not found", database)
	}
	if m.Tables[database] == nil {
		m.Tables[database] = make(map[string]*Table)
	}
	if m.Views[database] == nil {
		m.Views[database] = make(map[string][]string)
	}

	switch {
	case createTablePattern.MatchString(stmt):
		name := createTablePattern.FindStringSubmatch(stmt)[1]
		if _, ok := m.Tables[database][name]; ok {
			return nil
		}
		var location string
		if loc := tableLocationPattern.FindStringSubmatch(stmt); loc != nil {
			location = loc[1]
		}
		m.Tables[database][name] = &Table{Location: location, Partitions: make(map[string]string)}
		return nil

	case alterTablePattern.MatchString(stmt):
		name := alterTablePattern.FindStringSubmatch(stmt)[1]
		t, ok := m.Tables[database][name]
		if !ok {
			return fmt.Errorf("Table not found %s", name)
		}
		for _, p := range partitionPattern.FindAllStringSubmatch(stmt, -1) {
			if _, exists := t.Partitions[p[1]]; !exists {
				t.Partitions[p[1]] = p[2]
			}
		}
		return nil

	case dropViewPattern.MatchString(stmt):
		delete(m.Views[database], dropViewPattern.FindStringSubmatch(stmt)[1])
		return nil

	case createViewPattern.MatchString(stmt):
		match := createViewPattern.FindStringSubmatch(stmt)
		var sources []string
		for _, src := range viewSourcePattern.FindAllStringSubmatch(match[2], -1) {
			if _, ok := m.Tables[database][src[1]]; !ok {
				return fmt.Errorf("Table %s does not exist", src[1])
			}
			sources = append(sources, src[1])
		}
		m.Views[database][match[1]] = sources
		return nil
	}

	return fmt.Errorf("unsupported statement: %.40s", stmt)
}
