package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gurre/cloudtrail-partitioner/integration/mock"
)

func fixedMetrics() *Metrics {
	m := NewMetrics()
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	m.startTime = start
	m.now = func() time.Time { return start.Add(90 * time.Second) }
	return m
}

func TestMetricsHappyPath(t *testing.T) {
	m := fixedMetrics()

	m.RecordAccounts(2)
	m.RecordSkipped(1)
	m.RecordTable()
	m.RecordTable()
	m.RecordPartitions(34)
	m.RecordPartitions(34)
	m.SetQueriesExecuted(7)

	report := m.GenerateReport("cloudtrail", nil)

	if report.Accounts != 2 {
		t.Errorf("expected 2 accounts, got %d", report.Accounts)
	}
	if report.SkippedFolders != 1 {
		t.Errorf("expected 1 skipped folder, got %d", report.SkippedFolders)
	}
	if report.TablesEnsured != 2 {
		t.Errorf("expected 2 tables, got %d", report.TablesEnsured)
	}
	if report.PartitionsAdded != 68 || report.PartitionStatements != 2 {
		t.Errorf("expected 68 partitions in 2 statements, got %d in %d", report.PartitionsAdded, report.PartitionStatements)
	}
	if report.QueriesExecuted != 7 {
		t.Errorf("expected 7 queries, got %d", report.QueriesExecuted)
	}
	if report.Duration != 90*time.Second {
		t.Errorf("expected 90s duration, got %v", report.Duration)
	}
	if !report.Success || report.Error != "" {
		t.Errorf("expected success without error, got %+v", report)
	}

	str := report.String()
	if !strings.Contains(str, "completed") || !strings.Contains(str, "Partitions: 68 in 2 statements") {
		t.Errorf("unexpected report text: %s", str)
	}
}

func TestReportFailure(t *testing.T) {
	m := fixedMetrics()
	report := m.GenerateReport("cloudtrail", errors.New("query failed"))
	if report.Success {
		t.Error("expected failed report")
	}
	if report.Error != "query failed" {
		t.Errorf("expected error text, got %q", report.Error)
	}
	if !strings.Contains(report.String(), "failed") {
		t.Errorf("expected failed status in text, got %s", report.String())
	}
}

func TestReportJSON(t *testing.T) {
	m := fixedMetrics()
	m.RecordAccounts(3)

	data, err := json.Marshal(m.GenerateReport("cloudtrail", nil))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded["duration"] != "1m30s" {
		t.Errorf("expected duration string 1m30s, got %v", decoded["duration"])
	}
	if decoded["accounts"] != float64(3) {
		t.Errorf("expected 3 accounts, got %v", decoded["accounts"])
	}
	if _, ok := decoded["error"]; ok {
		t.Error("expected error to be omitted on success")
	}
}

func TestUploadReport(t *testing.T) {
	client := mock.NewS3Client()
	uploader := NewS3ReportUploader(client)
	report := fixedMetrics().GenerateReport("cloudtrail", nil)

	if err := uploader.UploadReport(context.Background(), "s3://reports/partitioner/run.json", report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, ok := client.Objects["reports/partitioner/run.json"]
	if !ok {
		t.Fatalf("expected report object, have %v", client.Objects)
	}
	if !strings.Contains(string(data), `"view":"cloudtrail"`) {
		t.Errorf("unexpected report body: %s", data)
	}
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://my-bucket/a/b.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bucket != "my-bucket" || key != "a/b.json" {
		t.Errorf("unexpected parts %s %s", bucket, key)
	}

	for _, uri := range []string{"https://my-bucket/a.json", "s3://my-bucket", "s3:///key", "::bad"} {
		if _, _, err := ParseS3URI(uri); err == nil {
			t.Errorf("expected error for %q", uri)
		}
	}
}
