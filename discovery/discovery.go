// Package discovery finds the AWS accounts whose CloudTrail logs are stored
// under a bucket's AWSLogs/ folder. Accounts appear either directly as a
// 12-digit folder or grouped one level deeper under an organization folder
// ("o-" prefix).
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gurre/cloudtrail-partitioner/logging"
	"github.com/gurre/cloudtrail-partitioner/storage"
)

// LogsFolder is the folder CloudTrail creates under the configured prefix.
const LogsFolder = "AWSLogs/"

// OrganizationPrefix marks a folder grouping organization member accounts.
const OrganizationPrefix = "o-"

var accountIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

// Account is one account found in the bucket. PathPrefix is the account
// folder, ending in "/".
type Account struct {
	ID         string
	PathPrefix string
}

// Lister is the slice of storage.Lister the parser needs.
type Lister interface {
	ListChildPrefixes(ctx context.Context, bucket, prefix string) ([]string, error)
	FirstChildPrefix(ctx context.Context, bucket, prefix string) (string, error)
	BucketRegion(ctx context.Context, bucket string) (string, error)
}

var _ Lister = (*storage.Lister)(nil)

// RegionMismatchError reports that the run is not co-located with the bucket.
type RegionMismatchError struct {
	CurrentRegion string
	BucketRegion  string
}

func (e *RegionMismatchError) Error() string {
	return fmt.Sprintf("this application must be run from the same region as the bucket. Current location: %s; Bucket location: %s",
		e.CurrentRegion, e.BucketRegion)
}

// StorageLayoutError reports that the bucket does not look like a CloudTrail
// destination.
type StorageLayoutError struct {
	Bucket string
	Prefix string
	Reason string
}

func (e *StorageLayoutError) Error() string {
	return fmt.Sprintf("%s: ensure you have logs at s3://%s/%s%s", e.Reason, e.Bucket, e.Prefix, LogsFolder)
}

// Parser inspects one bucket and prefix.
type Parser struct {
	lister Lister
	bucket string
	prefix string
}

// NewParser creates a Parser for the CloudTrail root s3://bucket/prefix.
// prefix is empty or ends in "/".
func NewParser(lister Lister, bucket, prefix string) *Parser {
	return &Parser{lister: lister, bucket: bucket, prefix: prefix}
}

// LogsPrefix is the full key prefix of the AWSLogs/ folder.
func (p *Parser) LogsPrefix() string {
	return p.prefix + LogsFolder
}

// VerifyRegion fails with RegionMismatchError when the bucket lives outside
// currentRegion.
func (p *Parser) VerifyRegion(ctx context.Context, currentRegion string) error {
	bucketRegion, err := p.lister.BucketRegion(ctx, p.bucket)
	if err != nil {
		return err
	}
	if bucketRegion != currentRegion {
		return &RegionMismatchError{CurrentRegion: currentRegion, BucketRegion: bucketRegion}
	}
	return nil
}

// VerifyLayout checks that the configured prefix has content and that its
// first child is the AWSLogs/ folder.
func (p *Parser) VerifyLayout(ctx context.Context) error {
	first, err := p.lister.FirstChildPrefix(ctx, p.bucket, p.prefix)
	if err != nil {
		return err
	}
	if first == "" {
		return &StorageLayoutError{Bucket: p.bucket, Prefix: p.prefix, Reason: "S3 bucket has no contents"}
	}
	if first != p.LogsPrefix() {
		return &StorageLayoutError{Bucket: p.bucket, Prefix: p.prefix, Reason: "S3 bucket path is incorrect"}
	}
	return nil
}

// Accounts lists every account under AWSLogs/ in listing order. Folders that
// are neither an account id nor an organization are returned in skipped and
// logged; they never fail the run.
func (p *Parser) Accounts(ctx context.Context) (accounts []Account, skipped []string, err error) {
	log := logging.FromContext(ctx)
	root := p.LogsPrefix()

	children, err := p.lister.ListChildPrefixes(ctx, p.bucket, root)
	if err != nil {
		return nil, nil, err
	}

	for _, child := range children {
		name := FolderName(root, child)

		switch {
		case strings.HasPrefix(name, OrganizationPrefix):
			members, err := p.lister.ListChildPrefixes(ctx, p.bucket, child)
			if err != nil {
				return nil, nil, err
			}
			for _, member := range members {
				accounts = append(accounts, Account{ID: FolderName(child, member), PathPrefix: member})
			}
		case IsAccountID(name):
			accounts = append(accounts, Account{ID: name, PathPrefix: child})
		default:
			log.Warn().Str("folder", name).Msg("Unexpected folder")
			skipped = append(skipped, name)
		}
	}
	return accounts, skipped, nil
}

// IsAccountID reports whether name is a 12-digit AWS account id.
func IsAccountID(name string) bool {
	return accountIDPattern.MatchString(name)
}

// FolderName strips parent and the trailing delimiter from child.
func FolderName(parent, child string) string {
	return strings.TrimSuffix(strings.TrimPrefix(child, parent), storage.Delimiter)
}
