// Package catalog converges the Athena catalog with the accounts found in the
// CloudTrail bucket: one external table per account, the partitions of the
// recent day window in every region, and a view over all tables.
//
// Every statement is idempotent (IF NOT EXISTS, DROP IF EXISTS, CREATE OR
// REPLACE), so a failed run is recovered by simply running again.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/gurre/cloudtrail-partitioner/discovery"
	"github.com/gurre/cloudtrail-partitioner/logging"
	"github.com/gurre/cloudtrail-partitioner/metrics"
	"github.com/gurre/cloudtrail-partitioner/query"
)

// Executor runs one statement to completion.
type Executor interface {
	Query(ctx context.Context, statement string, opts ...query.Option) ([][]string, error)
}

var _ Executor = (*query.Executor)(nil)

// Settings are the inputs a reconciliation needs besides the accounts.
type Settings struct {
	Bucket        string   // Bucket holding the logs
	Database      string   // Database the tables and view live in
	TablePrefix   string   // Table name prefix, also the view name
	PartitionDays int      // Forward days to register
	Regions       []string // Every region partitions are registered for
}

// Reconciler applies Settings to the catalog.
type Reconciler struct {
	exec     Executor
	settings Settings
	metrics  *metrics.Metrics
	now      func() time.Time
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock sets the source of "today" for the partition window.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a Reconciler. m may be nil.
func NewReconciler(exec Executor, settings Settings, m *metrics.Metrics, opts ...ReconcilerOption) *Reconciler {
	if m == nil {
		m = metrics.NewMetrics()
	}
	r := &Reconciler{exec: exec, settings: settings, metrics: m, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ViewName is the cross-account view.
func (r *Reconciler) ViewName() string {
	return r.settings.TablePrefix
}

// Reconcile ensures a table and its partitions for every account, in order,
// and then rebuilds the view. The first failing statement aborts the run.
func (r *Reconciler) Reconcile(ctx context.Context, accounts []discovery.Account) error {
	days := PartitionDays(r.now(), r.settings.PartitionDays)
	tables := make([]string, 0, len(accounts))

	for _, account := range accounts {
		table, err := r.reconcileAccount(ctx, account, days)
		if err != nil {
			return err
		}
		tables = append(tables, table)
	}

	return r.rebuildView(ctx, tables)
}

func (r *Reconciler) reconcileAccount(ctx context.Context, account discovery.Account, days []time.Time) (string, error) {
	table := TableName(r.settings.TablePrefix, account.ID)
	location := TableLocation(r.settings.Bucket, account.PathPrefix)

	ctx = logging.WithStr(ctx, "account_id", account.ID)
	ctx = logging.WithStr(ctx, "table", table)
	log := logging.FromContext(ctx)

	log.Info().Str("location", location).Msg("Creating table")
	if _, err := r.exec.Query(ctx, CreateTableStatement(table, location), query.InDatabase(r.settings.Database)); err != nil {
		return "", fmt.Errorf("failed to create table %s: %w", table, err)
	}
	r.metrics.RecordTable()

	parts := Partitions(r.settings.Regions, days)
	if len(parts) == 0 {
		return table, nil
	}
	log.Info().
		Str("first_day", days[0].Format("2006-01-02")).
		Str("last_day", days[len(days)-1].Format("2006-01-02")).
		Int("regions", len(r.settings.Regions)).
		Int("partitions", len(parts)).
		Msg("Creating partitions")

	for _, batch := range AddPartitionsBatches(table, location, parts) {
		if _, err := r.exec.Query(ctx, batch.Statement, query.InDatabase(r.settings.Database)); err != nil {
			return "", fmt.Errorf("failed to add partitions to %s: %w", table, err)
		}
		r.metrics.RecordPartitions(batch.Partitions)
	}
	return table, nil
}

func (r *Reconciler) rebuildView(ctx context.Context, tables []string) error {
	view := r.ViewName()
	log := logging.FromContext(ctx)

	if _, err := r.exec.Query(ctx, DropViewStatement(view), query.InDatabase(r.settings.Database)); err != nil {
		return fmt.Errorf("failed to drop view %s: %w", view, err)
	}

	if len(tables) == 0 {
		log.Warn().Str("view", view).Msg("No accounts found, view not created")
		return nil
	}

	log.Info().Str("view", view).Int("tables", len(tables)).Msg("Creating view")
	if _, err := r.exec.Query(ctx, ViewStatement(view, tables), query.InDatabase(r.settings.Database)); err != nil {
		return fmt.Errorf("failed to create view %s: %w", view, err)
	}
	return nil
}
