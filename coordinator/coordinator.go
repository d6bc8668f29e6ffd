// Package coordinator runs one partition pass end to end: it resolves the
// caller, checks the bucket, discovers accounts, reconciles the catalog and
// reports what happened.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurre/cloudtrail-partitioner/aws"
	"github.com/gurre/cloudtrail-partitioner/catalog"
	"github.com/gurre/cloudtrail-partitioner/config"
	"github.com/gurre/cloudtrail-partitioner/discovery"
	"github.com/gurre/cloudtrail-partitioner/logging"
	"github.com/gurre/cloudtrail-partitioner/metrics"
	"github.com/gurre/cloudtrail-partitioner/preflight"
	"github.com/gurre/cloudtrail-partitioner/query"
	"github.com/gurre/cloudtrail-partitioner/storage"
)

// Name and Version make up the startup banner.
const (
	Name    = "cloudtrail-partitioner"
	Version = "1.0.0"
)

// ReportUploader uploads reports to S3.
type ReportUploader interface {
	UploadReport(ctx context.Context, uri string, report metrics.Report) error
}

// Coordinator wires the components of a run together.
type Coordinator struct {
	cfg            *config.Config
	clients        *aws.Clients
	metrics        *metrics.Metrics
	reportUploader ReportUploader

	out              io.Writer
	now              func() time.Time
	progressInterval time.Duration
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithOutput sets where the final report text is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Coordinator) { c.out = w }
}

// WithClock sets the source of "today" for the partition window.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithProgressInterval sets how often progress is logged during
// reconciliation. Zero disables progress logging.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.progressInterval = d }
}

// NewCoordinator creates a Coordinator. reportUploader may be nil, in which
// case reports are only printed.
func NewCoordinator(cfg *config.Config, clients *aws.Clients, reportUploader ReportUploader, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:              cfg,
		clients:          clients,
		metrics:          metrics.NewMetrics(),
		reportUploader:   reportUploader,
		out:              os.Stdout,
		now:              time.Now,
		progressInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metrics exposes the counters of the run.
func (c *Coordinator) Metrics() *metrics.Metrics {
	return c.metrics
}

// Run performs one full partition pass. The report is printed, and uploaded
// when configured, whether or not the pass succeeded.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logging.FromContext(ctx)
	log.Info().Str("version", Version).Msgf("%s %s", Name, Version)

	runErr := c.run(ctx)

	report := c.metrics.GenerateReport(c.cfg.TablePrefix, runErr)
	fmt.Fprintln(c.out, report)

	if c.cfg.ReportS3URI != "" && c.reportUploader != nil {
		if err := c.reportUploader.UploadReport(ctx, c.cfg.ReportS3URI, report); err != nil {
			if runErr != nil {
				log.Error().Err(err).Msg("Failed to upload report")
				return runErr
			}
			return fmt.Errorf("failed to upload report: %w", err)
		}
		log.Info().Str("uri", c.cfg.ReportS3URI).Msg("Report uploaded")
	}

	return runErr
}

func (c *Coordinator) run(ctx context.Context) error {
	log := logging.FromContext(ctx)

	identity, err := aws.CallerIdentity(ctx, c.clients.STS)
	if err != nil {
		return err
	}
	log.Info().Str("arn", identity.ARN).Str("account_id", identity.Account).Msg("Using AWS identity")

	outputLocation := c.cfg.OutputLocation(identity.Account, c.clients.Region)
	log.Debug().Str("output_location", outputLocation).Msg("Resolved query output location")

	if c.cfg.CheckPermissions {
		if err := preflight.NewChecker(c.clients.IAM, c.cfg.LogBucket).Check(ctx, identity.ARN); err != nil {
			return err
		}
	}

	regions, err := aws.ListRegions(ctx, c.clients.EC2)
	if err != nil {
		return err
	}
	log.Debug().Strs("regions", regions).Msg("Partition regions")

	parser := discovery.NewParser(storage.NewLister(c.clients.S3), c.cfg.LogBucket, c.cfg.CloudTrailPrefix)
	if err := parser.VerifyRegion(ctx, c.clients.Region); err != nil {
		return err
	}
	if err := parser.VerifyLayout(ctx); err != nil {
		return err
	}

	exec := query.NewExecutor(c.clients.Athena, query.Settings{
		OutputLocation: outputLocation,
		PollInterval:   c.cfg.PollInterval,
		MaxWait:        c.cfg.MaxQueryWait,
	})
	defer func() { c.metrics.SetQueriesExecuted(exec.Executed()) }()

	if err := exec.CreateDatabase(ctx, c.cfg.Database); err != nil {
		return fmt.Errorf("failed to create database %s: %w", c.cfg.Database, err)
	}

	accounts, skipped, err := parser.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover accounts: %w", err)
	}
	c.metrics.RecordAccounts(len(accounts))
	c.metrics.RecordSkipped(len(skipped))
	log.Info().Int("accounts", len(accounts)).Int("skipped", len(skipped)).Msg("Discovered accounts")

	reconciler := catalog.NewReconciler(exec, catalog.Settings{
		Bucket:        c.cfg.LogBucket,
		Database:      c.cfg.Database,
		TablePrefix:   c.cfg.TablePrefix,
		PartitionDays: c.cfg.PartitionDays,
		Regions:       regions,
	}, c.metrics, catalog.WithClock(c.now))

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	if c.progressInterval > 0 {
		go c.reportProgress(progressCtx, len(accounts))
	}

	return reconciler.Reconcile(ctx, accounts)
}

// reportProgress logs the reconciliation progress until ctx is done.
func (c *Coordinator) reportProgress(ctx context.Context, totalAccounts int) {
	log := logging.FromContext(ctx)
	ticker := time.NewTicker(c.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report := c.metrics.GenerateReport("", nil)
			log.Info().
				Int64("tables", report.TablesEnsured).
				Int("accounts", totalAccounts).
				Int64("partitions", report.PartitionsAdded).
				Msg("Progress")
		case <-ctx.Done():
			return
		}
	}
}
