package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gurre/cloudtrail-partitioner/discovery"
	"github.com/gurre/cloudtrail-partitioner/metrics"
	"github.com/gurre/cloudtrail-partitioner/query"
)

type recordingExecutor struct {
	statements []string
	optCounts  []int
	failAt     int // 1-based call that fails; 0 never fails
	err        error
}

func (e *recordingExecutor) Query(ctx context.Context, statement string, opts ...query.Option) ([][]string, error) {
	e.statements = append(e.statements, statement)
	e.optCounts = append(e.optCounts, len(opts))
	if e.failAt > 0 && len(e.statements) == e.failAt {
		return nil, e.err
	}
	return nil, nil
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
}

func newTestReconciler(exec Executor, regions []string, days int) (*Reconciler, *metrics.Metrics) {
	m := metrics.NewMetrics()
	r := NewReconciler(exec, Settings{
		Bucket:        "logs",
		Database:      "default",
		TablePrefix:   "cloudtrail",
		PartitionDays: days,
		Regions:       regions,
	}, m, WithClock(fixedNow))
	return r, m
}

func TestTableNaming(t *testing.T) {
	if got := TableName("cloudtrail", "111111111111"); got != "cloudtrail_111111111111" {
		t.Errorf("unexpected table name %s", got)
	}

	tests := []struct {
		pathPrefix string
		want       string
	}{
		{"AWSLogs/111111111111/", "s3://logs/AWSLogs/111111111111/CloudTrail/"},
		{"trail/AWSLogs/o-abc/222222222222/", "s3://logs/trail/AWSLogs/o-abc/222222222222/CloudTrail/"},
	}
	for _, tt := range tests {
		if got := TableLocation("logs", tt.pathPrefix); got != tt.want {
			t.Errorf("TableLocation(%q) = %s, want %s", tt.pathPrefix, got, tt.want)
		}
	}
}

func TestCreateTableStatement(t *testing.T) {
	stmt := CreateTableStatement("cloudtrail_111111111111", "s3://logs/AWSLogs/111111111111/CloudTrail/")

	for _, want := range []string{
		"CREATE EXTERNAL TABLE IF NOT EXISTS `cloudtrail_111111111111`",
		"PARTITIONED BY (region string, year string, month string, day string)",
		"'com.amazon.emr.hive.serde.CloudTrailSerde'",
		"LOCATION 's3://logs/AWSLogs/111111111111/CloudTrail/'",
	} {
		if !strings.Contains(stmt, want) {
			t.Errorf("statement missing %q", want)
		}
	}
}

func TestPartitionDays(t *testing.T) {
	days := PartitionDays(fixedNow(), 3)

	want := []string{"2024-03-09", "2024-03-10", "2024-03-11", "2024-03-12"}
	if len(days) != len(want) {
		t.Fatalf("expected %d days, got %d", len(want), len(days))
	}
	for i, d := range days {
		if got := d.Format("2006-01-02"); got != want[i] {
			t.Errorf("day %d = %s, want %s", i, got, want[i])
		}
	}

	if days := PartitionDays(fixedNow(), 0); days != nil {
		t.Errorf("expected no days for zero window, got %v", days)
	}
}

func TestPartitionDaysUsesUTC(t *testing.T) {
	tz := time.FixedZone("UTC+10", 10*60*60)
	// 2024-03-10 02:00 in UTC+10 is still 2024-03-09 in UTC.
	now := time.Date(2024, 3, 10, 2, 0, 0, 0, tz)

	days := PartitionDays(now, 1)
	if got := days[0].Format("2006-01-02"); got != "2024-03-08" {
		t.Errorf("expected window to start 2024-03-08, got %s", got)
	}
	if got := days[len(days)-1].Format("2006-01-02"); got != "2024-03-09" {
		t.Errorf("expected window to end 2024-03-09, got %s", got)
	}
}

func TestPartitionDaysCrossesMonth(t *testing.T) {
	days := PartitionDays(time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC), 3)
	if got := days[len(days)-1].Format("2006-01-02"); got != "2024-03-01" {
		t.Errorf("expected leap year rollover to 2024-03-01, got %s", got)
	}
}

func TestPartitionLocation(t *testing.T) {
	p := NewPartition("eu-west-1", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	if p.Year != "2024" || p.Month != "03" || p.Day != "09" {
		t.Fatalf("unexpected partition %+v", p)
	}

	loc := "s3://logs/AWSLogs/111111111111/CloudTrail/"
	if got := p.Location(loc); got != loc+"eu-west-1/2024/03/09/" {
		t.Errorf("unexpected location %s", got)
	}
	want := "PARTITION (region='eu-west-1',year='2024',month='03',day='09') LOCATION '" + loc + "eu-west-1/2024/03/09/'"
	if got := p.Clause(loc); got != want {
		t.Errorf("unexpected clause\n got %s\nwant %s", got, want)
	}
}

func TestPartitionsOrder(t *testing.T) {
	days := PartitionDays(fixedNow(), 1)
	parts := Partitions([]string{"us-east-1", "eu-west-1"}, days)

	want := []string{
		"us-east-1/09", "eu-west-1/09",
		"us-east-1/10", "eu-west-1/10",
	}
	if len(parts) != len(want) {
		t.Fatalf("expected %d partitions, got %d", len(want), len(parts))
	}
	for i, p := range parts {
		if got := p.Region + "/" + p.Day; got != want[i] {
			t.Errorf("partition %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestAddPartitionsSingleStatement(t *testing.T) {
	parts := Partitions([]string{"us-east-1", "eu-west-1"}, PartitionDays(fixedNow(), 3))
	batches := AddPartitionsBatches("cloudtrail_111111111111", "s3://logs/x/CloudTrail/", parts)

	if len(batches) != 1 {
		t.Fatalf("expected a single statement, got %d", len(batches))
	}
	stmt := batches[0].Statement
	if !strings.HasPrefix(stmt, "ALTER TABLE cloudtrail_111111111111 ADD IF NOT EXISTS\n") {
		t.Errorf("unexpected header: %s", stmt)
	}
	if n := strings.Count(stmt, "PARTITION ("); n != 8 || batches[0].Partitions != 8 {
		t.Errorf("expected 8 partition clauses, got %d (batch says %d)", n, batches[0].Partitions)
	}

	if AddPartitionsBatches("t", "s3://logs/x/", nil) != nil {
		t.Error("expected no statements without partitions")
	}
}

func TestAddPartitionsSplitsLongStatements(t *testing.T) {
	regions := make([]string, 40)
	for i := range regions {
		regions[i] = fmt.Sprintf("region-%02d", i)
	}
	parts := Partitions(regions, PartitionDays(fixedNow(), 60))
	loc := "s3://logs/" + strings.Repeat("deep/", 20) + "AWSLogs/111111111111/CloudTrail/"

	batches := AddPartitionsBatches("cloudtrail_111111111111", loc, parts)
	if len(batches) < 2 {
		t.Fatalf("expected the statement to be split, got %d", len(batches))
	}

	total := 0
	for i, b := range batches {
		if len(b.Statement) > MaxStatementBytes {
			t.Errorf("batch %d is %d bytes", i, len(b.Statement))
		}
		if n := strings.Count(b.Statement, "PARTITION ("); n != b.Partitions {
			t.Errorf("batch %d has %d clauses but reports %d", i, n, b.Partitions)
		}
		total += b.Partitions
	}
	if total != len(parts) {
		t.Errorf("expected %d partitions across batches, got %d", len(parts), total)
	}
}

func TestViewStatements(t *testing.T) {
	if got := DropViewStatement("cloudtrail"); got != "DROP VIEW IF EXISTS cloudtrail" {
		t.Errorf("unexpected drop statement %s", got)
	}

	got := ViewStatement("cloudtrail", []string{"cloudtrail_111111111111", "cloudtrail_222222222222"})
	want := "CREATE OR REPLACE VIEW cloudtrail AS SELECT * FROM cloudtrail_111111111111 UNION ALL SELECT * FROM cloudtrail_222222222222"
	if got != want {
		t.Errorf("unexpected view\n got %s\nwant %s", got, want)
	}
}

func TestReconcile(t *testing.T) {
	exec := &recordingExecutor{}
	r, m := newTestReconciler(exec, []string{"us-east-1", "eu-west-1"}, 3)

	accounts := []discovery.Account{
		{ID: "111111111111", PathPrefix: "AWSLogs/111111111111/"},
		{ID: "222222222222", PathPrefix: "AWSLogs/o-abc/222222222222/"},
	}
	if err := r.Reconcile(context.Background(), accounts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prefixes := []string{
		"CREATE EXTERNAL TABLE IF NOT EXISTS `cloudtrail_111111111111`",
		"ALTER TABLE cloudtrail_111111111111 ADD IF NOT EXISTS",
		"CREATE EXTERNAL TABLE IF NOT EXISTS `cloudtrail_222222222222`",
		"ALTER TABLE cloudtrail_222222222222 ADD IF NOT EXISTS",
		"DROP VIEW IF EXISTS cloudtrail",
		"CREATE OR REPLACE VIEW cloudtrail AS SELECT * FROM cloudtrail_111111111111 UNION ALL SELECT * FROM cloudtrail_222222222222",
	}
	if len(exec.statements) != len(prefixes) {
		t.Fatalf("expected %d statements, got %d", len(prefixes), len(exec.statements))
	}
	for i, p := range prefixes {
		if !strings.HasPrefix(exec.statements[i], p) {
			t.Errorf("statement %d = %.80s..., want prefix %s", i, exec.statements[i], p)
		}
		if exec.optCounts[i] != 1 {
			t.Errorf("statement %d not scoped to the database", i)
		}
	}

	if !strings.Contains(exec.statements[3], "s3://logs/AWSLogs/o-abc/222222222222/CloudTrail/eu-west-1/2024/03/12/") {
		t.Errorf("organization partition location missing: %s", exec.statements[3])
	}

	report := m.GenerateReport(r.ViewName(), nil)
	if report.TablesEnsured != 2 {
		t.Errorf("expected 2 tables, got %d", report.TablesEnsured)
	}
	if report.PartitionsAdded != 16 || report.PartitionStatements != 2 {
		t.Errorf("expected 16 partitions in 2 statements, got %d in %d", report.PartitionsAdded, report.PartitionStatements)
	}
}

func TestReconcileStopsOnFirstFailure(t *testing.T) {
	boom := errors.New("query failed")
	exec := &recordingExecutor{failAt: 2, err: boom}
	r, _ := newTestReconciler(exec, []string{"us-east-1"}, 1)

	accounts := []discovery.Account{
		{ID: "111111111111", PathPrefix: "AWSLogs/111111111111/"},
		{ID: "222222222222", PathPrefix: "AWSLogs/222222222222/"},
	}
	err := r.Reconcile(context.Background(), accounts)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
	if !strings.Contains(err.Error(), "cloudtrail_111111111111") {
		t.Errorf("expected table name in error, got %v", err)
	}
	if len(exec.statements) != 2 {
		t.Errorf("expected no statements after the failure, got %d", len(exec.statements))
	}
}

func TestReconcileNoAccounts(t *testing.T) {
	exec := &recordingExecutor{}
	r, _ := newTestReconciler(exec, []string{"us-east-1"}, 1)

	if err := r.Reconcile(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.statements) != 1 || exec.statements[0] != "DROP VIEW IF EXISTS cloudtrail" {
		t.Errorf("expected only the view drop, got %v", exec.statements)
	}
}
