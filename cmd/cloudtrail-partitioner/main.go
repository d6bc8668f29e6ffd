// Command cloudtrail-partitioner keeps Athena tables, partitions and a union
// view in step with the accounts delivering CloudTrail logs to a bucket.
//
// It runs once from the console, or as a Lambda function when started by the
// Lambda runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gurre/cloudtrail-partitioner/aws"
	"github.com/gurre/cloudtrail-partitioner/config"
	"github.com/gurre/cloudtrail-partitioner/coordinator"
	"github.com/gurre/cloudtrail-partitioner/logging"
	"github.com/gurre/cloudtrail-partitioner/metrics"
)

type options struct {
	profile          string
	configPath       string
	debug            bool
	human            bool
	checkPermissions bool
	reportS3URI      string
}

func main() {
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		lambda.Start(handler)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// handler is the Lambda entry point. The triggering event is ignored; every
// invocation performs a full pass with settings from the environment.
func handler(ctx context.Context) (bool, error) {
	opts := options{
		configPath: config.DefaultPath,
		debug:      os.Getenv("LOG_LEVEL") == "debug",
	}
	if err := partition(ctx, opts); err != nil {
		return false, err
	}
	return true, nil
}

func run() error {
	fs := flag.NewFlagSet(coordinator.Name, flag.ExitOnError)

	var opts options
	fs.StringVar(&opts.profile, "profile", "", "AWS profile from ~/.aws/config")
	fs.StringVar(&opts.configPath, "config", config.DefaultPath, "Path to the YAML config file")
	fs.BoolVar(&opts.debug, "debug", os.Getenv("LOG_LEVEL") == "debug", "Enable debug logging")
	fs.BoolVar(&opts.human, "human", false, "Human-readable log output instead of JSON")
	fs.BoolVar(&opts.checkPermissions, "check-permissions", false, "Simulate IAM permissions before running")
	fs.StringVar(&opts.reportS3URI, "report", "", "S3 URI for the final report")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	return partition(context.Background(), opts)
}

// partition loads configuration and AWS clients and runs one pass.
func partition(ctx context.Context, opts options) error {
	logger := logging.NewDefault(opts.debug, opts.human)
	ctx = logging.WithLogger(ctx, logger)

	cfg, fileErr, err := config.Load(opts.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if fileErr != nil {
		logger.Info().Err(fileErr).Str("path", opts.configPath).Msg("Config file not used, using environment only")
	}
	if opts.checkPermissions {
		cfg.CheckPermissions = true
	}
	if opts.reportS3URI != "" {
		cfg.ReportS3URI = opts.reportS3URI
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	awsCfg, err := aws.LoadConfig(ctx, opts.profile)
	if err != nil {
		return err
	}
	clients := aws.NewClients(awsCfg)

	coord := coordinator.NewCoordinator(cfg, clients, metrics.NewS3ReportUploader(clients.S3))
	return coord.Run(ctx)
}
