// Package config holds the partitioner configuration. Values come from an
// optional YAML file and are then overridden by environment variables, the
// same precedence the scheduled Lambda deployment relies on.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the console entry point looks for a config file.
const DefaultPath = "config/config.yaml"

// DefaultOutputBucket selects the per-account Athena results bucket.
const DefaultOutputBucket = "default"

// Config holds every setting of a partition run.
type Config struct {
	LogBucket        string        `yaml:"s3_bucket_containing_logs"` // Bucket CloudTrail delivers into
	CloudTrailPrefix string        `yaml:"cloudtrail_prefix"`         // Key prefix above AWSLogs/, empty or ending in "/"
	PartitionDays    int           `yaml:"partition_days"`            // Forward days to register partitions for
	OutputBucket     string        `yaml:"output_s3_bucket"`          // Athena results bucket, or "default"
	Database         string        `yaml:"database"`                  // Athena database holding the tables
	TablePrefix      string        `yaml:"table_prefix"`              // Table and view name prefix
	PollInterval     time.Duration `yaml:"poll_interval"`             // Delay between execution status checks
	MaxQueryWait     time.Duration `yaml:"max_query_wait"`            // Upper bound on one query, 0 waits forever
	ReportS3URI      string        `yaml:"report_s3_uri"`             // Optional s3:// destination for the run report
	CheckPermissions bool          `yaml:"check_permissions"`         // Simulate IAM permissions before running
}

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Default returns a Config populated with the deployment defaults.
func Default() *Config {
	return &Config{
		PartitionDays: 1,
		OutputBucket:  DefaultOutputBucket,
		Database:      "default",
		TablePrefix:   "cloudtrail",
		PollInterval:  time.Second,
		MaxQueryWait:  15 * time.Minute,
	}
}

// LoadFile reads YAML settings from path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// LookupFunc reports the value of an environment variable and whether it is
// set, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads the file at path and applies the environment on top. A file that
// is missing, unreadable or malformed is not fatal: the defaults are used
// instead and fileErr says why, so the caller can log the fallback. err is
// only set for invalid environment values.
func Load(path string, lookup LookupFunc) (cfg *Config, fileErr error, err error) {
	cfg, fileErr = LoadFile(path)
	if fileErr != nil {
		cfg = Default()
	}

	if err = ApplyEnv(cfg, lookup); err != nil {
		return nil, fileErr, err
	}
	return cfg, fileErr, nil
}

// ApplyEnv overrides cfg with every recognised environment variable that is
// set, including ones set to the empty string.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup("S3_BUCKET_CONTAINING_LOGS"); ok {
		cfg.LogBucket = v
	}
	if v, ok := lookup("CLOUDTRAIL_PREFIX"); ok {
		cfg.CloudTrailPrefix = v
	}
	if v, ok := lookup("PARTITION_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{Field: "PARTITION_DAYS", Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		cfg.PartitionDays = n
	}
	if v, ok := lookup("OUTPUT_S3_BUCKET"); ok {
		cfg.OutputBucket = v
	}
	if v, ok := lookup("DATABASE"); ok {
		cfg.Database = v
	}
	if v, ok := lookup("TABLE_PREFIX"); ok {
		cfg.TablePrefix = v
	}
	if v, ok := lookup("POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigurationError{Field: "POLL_INTERVAL", Reason: err.Error()}
		}
		cfg.PollInterval = d
	}
	if v, ok := lookup("MAX_QUERY_WAIT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigurationError{Field: "MAX_QUERY_WAIT", Reason: err.Error()}
		}
		cfg.MaxQueryWait = d
	}
	if v, ok := lookup("REPORT_S3_URI"); ok {
		cfg.ReportS3URI = v
	}
	if v, ok := lookup("CHECK_PERMISSIONS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigurationError{Field: "CHECK_PERMISSIONS", Reason: fmt.Sprintf("not a boolean: %q", v)}
		}
		cfg.CheckPermissions = b
	}
	return nil
}

// Validate checks that the configuration is complete and usable.
func (c *Config) Validate() error {
	if c.LogBucket == "" {
		return &ConfigurationError{Field: "s3_bucket_containing_logs", Reason: "is required"}
	}
	if strings.HasPrefix(c.LogBucket, "s3://") || strings.Contains(c.LogBucket, "/") {
		return &ConfigurationError{Field: "s3_bucket_containing_logs", Reason: "must be a bare bucket name"}
	}

	if c.CloudTrailPrefix != "" && !strings.HasSuffix(c.CloudTrailPrefix, "/") {
		return &ConfigurationError{Field: "cloudtrail_prefix", Reason: `must be empty or end with "/"`}
	}

	if c.PartitionDays < 1 {
		return &ConfigurationError{Field: "partition_days", Reason: "must be at least 1"}
	}

	if c.OutputBucket == "" {
		return &ConfigurationError{Field: "output_s3_bucket", Reason: `is required (use "default" for the standard results bucket)`}
	}

	if !identifierPattern.MatchString(c.Database) {
		return &ConfigurationError{Field: "database", Reason: fmt.Sprintf("invalid identifier %q", c.Database)}
	}
	if !identifierPattern.MatchString(c.TablePrefix) {
		return &ConfigurationError{Field: "table_prefix", Reason: fmt.Sprintf("invalid identifier %q", c.TablePrefix)}
	}

	if c.PollInterval <= 0 {
		return &ConfigurationError{Field: "poll_interval", Reason: "must be positive"}
	}
	if c.MaxQueryWait < 0 {
		return &ConfigurationError{Field: "max_query_wait", Reason: "must not be negative"}
	}

	if c.ReportS3URI != "" && !strings.HasPrefix(c.ReportS3URI, "s3://") {
		return &ConfigurationError{Field: "report_s3_uri", Reason: "must start with s3://"}
	}

	return nil
}

// OutputLocation returns the Athena results location. The "default" bucket
// resolves to the per-account, per-region bucket the Athena console uses.
func (c *Config) OutputLocation(accountID, region string) string {
	bucket := c.OutputBucket
	if bucket == DefaultOutputBucket {
		bucket = fmt.Sprintf("aws-athena-query-results-%s-%s", accountID, region)
	}
	if strings.HasPrefix(bucket, "s3://") {
		return bucket
	}
	return "s3://" + bucket
}
