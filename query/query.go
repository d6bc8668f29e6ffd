// Package query runs SQL statements on Athena. A statement is submitted for
// asynchronous execution, polled at a fixed interval until it reaches a
// terminal state, and on success its result pages are flattened into rows of
// strings.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/smithy-go"
	"github.com/gurre/cloudtrail-partitioner/aws"
	"github.com/gurre/cloudtrail-partitioner/logging"
)

// ErrTimeout is returned when an execution is still running after the
// configured maximum wait.
var ErrTimeout = errors.New("query did not finish in time")

// ExecutionError reports an execution that ended FAILED or CANCELLED. Reason
// is Athena's StateChangeReason, unmodified.
type ExecutionError struct {
	QueryExecutionID string
	State            types.QueryExecutionState
	Reason           string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query %s entered state %s with reason %s", e.QueryExecutionID, e.State, e.Reason)
}

// Settings are fixed for the lifetime of an Executor.
type Settings struct {
	OutputLocation string        // s3:// location Athena writes result files to
	PollInterval   time.Duration // Delay between GetQueryExecution calls
	MaxWait        time.Duration // Upper bound per statement, 0 waits forever
}

// Executor submits statements one at a time and blocks until each finishes.
type Executor struct {
	client   aws.AthenaClient
	settings Settings
	executed int
}

// NewExecutor creates an Executor for client.
func NewExecutor(client aws.AthenaClient, settings Settings) *Executor {
	if settings.PollInterval <= 0 {
		settings.PollInterval = time.Second
	}
	return &Executor{client: client, settings: settings}
}

// Executed returns how many statements reached SUCCEEDED.
func (e *Executor) Executed() int {
	return e.executed
}

type options struct {
	database   string
	keepHeader bool
}

// Option adjusts a single Query call.
type Option func(*options)

// InDatabase scopes the statement to database. Without it the statement has
// no execution context, which only CREATE DATABASE needs.
func InDatabase(database string) Option {
	return func(o *options) { o.database = database }
}

// KeepHeader returns the first result row (the column names) instead of
// dropping it.
func KeepHeader() Option {
	return func(o *options) { o.keepHeader = true }
}

// CreateDatabase bootstraps the catalog database.
func (e *Executor) CreateDatabase(ctx context.Context, database string) error {
	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s COMMENT 'Created by CloudTrail Partitioner'", database)
	_, err := e.Query(ctx, stmt)
	return err
}

// Query runs statement and returns its result rows in order. Each row is the
// ordered list of its column values; cells without a scalar value decode to
// the empty string.
func (e *Executor) Query(ctx context.Context, statement string, opts ...Option) ([][]string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	id, err := e.start(ctx, statement, o.database)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithStr(ctx, "query_execution_id", id)
	if err := e.wait(ctx, id); err != nil {
		return nil, err
	}
	e.executed++

	return e.results(ctx, id, !o.keepHeader)
}

// maxStartAttempts bounds resubmission when Athena throttles StartQueryExecution.
const maxStartAttempts = 5

func (e *Executor) start(ctx context.Context, statement, database string) (string, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: awssdk.String(statement),
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: awssdk.String(e.settings.OutputLocation),
		},
	}
	if database != "" {
		input.QueryExecutionContext = &types.QueryExecutionContext{
			Database: awssdk.String(database),
		}
	}

	log := logging.FromContext(ctx)
	log.Debug().Str("statement", statement).Str("database", database).Msg("Making query")

	for attempt := 0; ; attempt++ {
		out, err := e.client.StartQueryExecution(ctx, input)
		if err == nil {
			return awssdk.ToString(out.QueryExecutionId), nil
		}
		if !isThrottlingError(err) || attempt+1 >= maxStartAttempts {
			return "", fmt.Errorf("failed to start query: %w", err)
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Query submission throttled, backing off")
		if !backoffWait(ctx, attempt) {
			return "", ctx.Err()
		}
	}
}

// wait polls until the execution is terminal. QUEUED and RUNNING keep the
// loop going; any other state, including a missing status, is an error.
func (e *Executor) wait(ctx context.Context, id string) error {
	log := logging.FromContext(ctx)
	started := time.Now()

	for {
		out, err := e.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: awssdk.String(id),
		})
		if err != nil {
			return fmt.Errorf("failed to get status of query %s: %w", id, err)
		}

		var state types.QueryExecutionState
		var reason string
		if qe := out.QueryExecution; qe != nil && qe.Status != nil {
			state = qe.Status.State
			reason = awssdk.ToString(qe.Status.StateChangeReason)
		}

		switch state {
		case types.QueryExecutionStateSucceeded:
			return nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return &ExecutionError{QueryExecutionID: id, State: state, Reason: reason}
		case types.QueryExecutionStateQueued, types.QueryExecutionStateRunning:
		default:
			return fmt.Errorf("query %s returned unexpected state %q", id, state)
		}

		if e.settings.MaxWait > 0 && time.Since(started) >= e.settings.MaxWait {
			e.stop(ctx, id)
			return fmt.Errorf("%w: query %s still %s after %s", ErrTimeout, id, state, e.settings.MaxWait)
		}

		log.Debug().Str("state", string(state)).Dur("interval", e.settings.PollInterval).Msg("Sleeping while query completes")
		select {
		case <-time.After(e.settings.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stop asks Athena to cancel an execution we gave up on. Failure is logged
// only; the caller already has the timeout to report.
func (e *Executor) stop(ctx context.Context, id string) {
	_, err := e.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: awssdk.String(id),
	})
	if err != nil {
		log := logging.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to stop timed out query")
	}
}

func (e *Executor) results(ctx context.Context, id string, skipHeader bool) ([][]string, error) {
	paginator := athena.NewGetQueryResultsPaginator(e.client, &athena.GetQueryResultsInput{
		QueryExecutionId: awssdk.String(id),
	})

	var rows [][]string
	seen := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get results of query %s: %w", id, err)
		}
		if page.ResultSet == nil {
			continue
		}
		for _, row := range page.ResultSet.Rows {
			seen++
			if seen == 1 && skipHeader {
				continue
			}
			rows = append(rows, RowValues(row))
		}
	}
	return rows, nil
}

// RowValues flattens a result row into its column strings.
func RowValues(row types.Row) []string {
	values := make([]string, 0, len(row.Data))
	for _, d := range row.Data {
		values = append(values, awssdk.ToString(d.VarCharValue))
	}
	return values
}

func isThrottlingError(err error) bool {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	return false
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func backoffWait(ctx context.Context, attempt int) bool {
	base := 200 * time.Millisecond
	maxDelay := 10 * time.Second

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay)))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
