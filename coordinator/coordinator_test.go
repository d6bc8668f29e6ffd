package coordinator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/gurre/cloudtrail-partitioner/aws"
	"github.com/gurre/cloudtrail-partitioner/config"
	"github.com/gurre/cloudtrail-partitioner/discovery"
	"github.com/gurre/cloudtrail-partitioner/integration/mock"
	"github.com/gurre/cloudtrail-partitioner/metrics"
	"github.com/gurre/cloudtrail-partitioner/preflight"
	"github.com/gurre/cloudtrail-partitioner/query"
)

type fixture struct {
	athena *mock.AthenaClient
	s3     *mock.S3Client
	ec2    *mock.EC2Client
	iam    *mock.IAMClient
	cfg    *config.Config
	out    bytes.Buffer
}

func newFixture() *fixture {
	f := &fixture{
		athena: mock.NewAthenaClient(),
		s3:     mock.NewS3Client(),
		ec2:    &mock.EC2Client{Regions: []string{"us-east-1", "us-west-2"}},
		iam:    &mock.IAMClient{},
	}
	f.s3.Locations["logs"] = "us-west-2"
	f.s3.AddKeys("logs",
		"AWSLogs/111111111111/CloudTrail/us-west-2/2024/03/10/a.json.gz",
		"AWSLogs/o-abc123/222222222222/CloudTrail/us-east-1/2024/03/10/b.json.gz",
	)

	f.cfg = config.Default()
	f.cfg.LogBucket = "logs"
	f.cfg.PollInterval = time.Millisecond
	return f
}

func (f *fixture) coordinator() *Coordinator {
	clients := &aws.Clients{
		Region: "us-west-2",
		Athena: f.athena,
		S3:     f.s3,
		EC2:    f.ec2,
		STS:    &mock.STSClient{Account: "999999999999", ARN: "arn:aws:sts::999999999999:assumed-role/Partitioner/run"},
		IAM:    f.iam,
	}
	return NewCoordinator(f.cfg, clients, metrics.NewS3ReportUploader(f.s3),
		WithOutput(&f.out),
		WithClock(func() time.Time { return time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC) }),
		WithProgressInterval(0),
	)
}

func TestCoordinatorHappyPath(t *testing.T) {
	f := newFixture()
	coord := f.coordinator()

	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("coordinator failed: %v", err)
	}

	stmts := f.athena.Statements()
	prefixes := []string{
		"CREATE DATABASE IF NOT EXISTS default",
		"CREATE EXTERNAL TABLE IF NOT EXISTS `cloudtrail_111111111111`",
		"ALTER TABLE cloudtrail_111111111111 ADD IF NOT EXISTS",
		"CREATE EXTERNAL TABLE IF NOT EXISTS `cloudtrail_222222222222`",
		"ALTER TABLE cloudtrail_222222222222 ADD IF NOT EXISTS",
		"DROP VIEW IF EXISTS cloudtrail",
		"CREATE OR REPLACE VIEW cloudtrail AS",
	}
	if len(stmts) != len(prefixes) {
		t.Fatalf("expected %d statements, got %d: %v", len(prefixes), len(stmts), stmts)
	}
	for i, p := range prefixes {
		if !strings.HasPrefix(stmts[i], p) {
			t.Errorf("statement %d = %.60s..., want prefix %s", i, stmts[i], p)
		}
	}

	first := f.athena.Executions[0]
	if first.Database != "" {
		t.Errorf("expected database bootstrap without context, got %s", first.Database)
	}
	if first.Output != "s3://aws-athena-query-results-999999999999-us-west-2" {
		t.Errorf("unexpected output location %s", first.Output)
	}
	for _, e := range f.athena.Executions[1:] {
		if e.Database != "default" {
			t.Errorf("statement %.40s ran in %q", e.Statement, e.Database)
		}
	}

	// partition_days 1 registers yesterday and today in both regions
	if specs := f.athena.PartitionSpecs("default", "cloudtrail_111111111111"); len(specs) != 4 {
		t.Errorf("expected 4 partitions, got %v", specs)
	}

	report := coord.Metrics().GenerateReport("cloudtrail", nil)
	if report.Accounts != 2 || report.TablesEnsured != 2 || report.QueriesExecuted != 7 {
		t.Errorf("unexpected report %+v", report)
	}
	if !strings.Contains(f.out.String(), "Partitioning completed") {
		t.Errorf("expected printed report, got %q", f.out.String())
	}
}

func TestCoordinatorRegionMismatch(t *testing.T) {
	f := newFixture()
	f.s3.Locations["logs"] = "EU"

	err := f.coordinator().Run(context.Background())

	var mismatch *discovery.RegionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected RegionMismatchError, got %v", err)
	}
	if mismatch.BucketRegion != "eu-west-1" || mismatch.CurrentRegion != "us-west-2" {
		t.Errorf("unexpected regions %+v", mismatch)
	}
	if n := len(f.athena.Statements()); n != 0 {
		t.Errorf("expected no statements, got %d", n)
	}
	if !strings.Contains(f.out.String(), "Partitioning failed") {
		t.Errorf("expected failed report, got %q", f.out.String())
	}
}

func TestCoordinatorLayoutError(t *testing.T) {
	f := newFixture()
	f.s3.Keys["logs"] = []string{"elsewhere/AWSLogs/111111111111/CloudTrail/x.json.gz"}

	err := f.coordinator().Run(context.Background())

	var layout *discovery.StorageLayoutError
	if !errors.As(err, &layout) {
		t.Fatalf("expected StorageLayoutError, got %v", err)
	}
	if layout.Reason != "S3 bucket path is incorrect" {
		t.Errorf("unexpected reason %s", layout.Reason)
	}
	if n := len(f.athena.Statements()); n != 0 {
		t.Errorf("expected no statements, got %d", n)
	}
}

func TestCoordinatorPermissionDenied(t *testing.T) {
	f := newFixture()
	f.cfg.CheckPermissions = true
	f.iam.Denied = map[string]iamtypes.PolicyEvaluationDecisionType{
		"glue:CreateTable": iamtypes.PolicyEvaluationDecisionTypeImplicitDeny,
	}

	err := f.coordinator().Run(context.Background())

	var permErr *preflight.PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if permErr.Principal != "arn:aws:iam::999999999999:role/Partitioner" {
		t.Errorf("unexpected principal %s", permErr.Principal)
	}
	if f.ec2.Calls != 0 || len(f.athena.Statements()) != 0 {
		t.Error("expected the run to stop before listing regions")
	}
}

func TestCoordinatorChecksBucketPermissionsOnLogBucket(t *testing.T) {
	f := newFixture()
	f.cfg.CheckPermissions = true

	if err := f.coordinator().Run(context.Background()); err != nil {
		t.Fatalf("coordinator failed: %v", err)
	}

	var scoped bool
	for _, call := range f.iam.Calls {
		for _, arn := range call.ResourceArns {
			if arn == "arn:aws:s3:::logs" {
				scoped = true
			}
		}
	}
	if !scoped {
		t.Errorf("expected a simulation against arn:aws:s3:::logs, got %d calls", len(f.iam.Calls))
	}
}

func TestCoordinatorQueryFailure(t *testing.T) {
	f := newFixture()
	f.athena.FailOn = "ALTER TABLE cloudtrail_111111111111"
	f.athena.FailReason = "HIVE_METASTORE_ERROR: boom"

	err := f.coordinator().Run(context.Background())

	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Reason != "HIVE_METASTORE_ERROR: boom" {
		t.Errorf("expected verbatim reason, got %q", execErr.Reason)
	}
	for _, stmt := range f.athena.Statements() {
		if strings.Contains(stmt, "222222222222") || strings.Contains(stmt, "VIEW") {
			t.Errorf("unexpected statement after failure: %.60s", stmt)
		}
	}
}

func TestCoordinatorUploadsReport(t *testing.T) {
	f := newFixture()
	f.cfg.ReportS3URI = "s3://reports/partitioner/last-run.json"

	if err := f.coordinator().Run(context.Background()); err != nil {
		t.Fatalf("coordinator failed: %v", err)
	}

	body, ok := f.s3.Objects["reports/partitioner/last-run.json"]
	if !ok {
		t.Fatal("expected report to be uploaded")
	}
	for _, want := range []string{`"success":true`, `"accounts":2`, `"view":"cloudtrail"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("report missing %s: %s", want, body)
		}
	}
}

func TestCoordinatorUploadsFailedReport(t *testing.T) {
	f := newFixture()
	f.cfg.ReportS3URI = "s3://reports/run.json"
	f.s3.Locations["logs"] = ""

	err := f.coordinator().Run(context.Background())
	if !errors.As(err, new(*discovery.RegionMismatchError)) {
		t.Fatalf("expected RegionMismatchError, got %v", err)
	}
	if body := string(f.s3.Objects["reports/run.json"]); !strings.Contains(body, `"success":false`) {
		t.Errorf("expected failed report, got %s", body)
	}
}
