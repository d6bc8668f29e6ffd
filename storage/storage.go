// Package storage lists the key hierarchy of the CloudTrail bucket one level
// at a time by grouping keys on the "/" delimiter.
package storage

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/cloudtrail-partitioner/aws"
)

// Delimiter separates path segments in object keys.
const Delimiter = "/"

// Lister enumerates immediate child prefixes in a bucket.
type Lister struct {
	client aws.S3Client
}

// NewLister creates a Lister backed by client.
func NewLister(client aws.S3Client) *Lister {
	return &Lister{client: client}
}

// ListChildPrefixes returns the first-level children of prefix, each of the
// form prefix + segment + "/", in the order S3 returns them. Only the first
// page of grouped results is read, so a prefix with more than 1000 children
// is truncated.
func (l *Lister) ListChildPrefixes(ctx context.Context, bucket, prefix string) ([]string, error) {
	return l.list(ctx, bucket, prefix, nil)
}

// FirstChildPrefix returns the lexically first child of prefix, or "" when
// prefix has no children.
func (l *Lister) FirstChildPrefix(ctx context.Context, bucket, prefix string) (string, error) {
	children, err := l.list(ctx, bucket, prefix, awssdk.Int32(1))
	if err != nil {
		return "", err
	}
	if len(children) == 0 {
		return "", nil
	}
	return children[0], nil
}

func (l *Lister) list(ctx context.Context, bucket, prefix string, maxKeys *int32) ([]string, error) {
	out, err := l.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    awssdk.String(bucket),
		Prefix:    awssdk.String(prefix),
		Delimiter: awssdk.String(Delimiter),
		MaxKeys:   maxKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
	}

	children := make([]string, 0, len(out.CommonPrefixes))
	for _, cp := range out.CommonPrefixes {
		if p := awssdk.ToString(cp.Prefix); p != "" {
			children = append(children, p)
		}
	}
	return children, nil
}

// BucketRegion returns the region a bucket lives in. S3 reports us-east-1 as
// an empty location constraint and eu-west-1 sometimes as the legacy "EU".
func (l *Lister) BucketRegion(ctx context.Context, bucket string) (string, error) {
	out, err := l.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{
		Bucket: awssdk.String(bucket),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get location of bucket %s: %w", bucket, err)
	}

	switch loc := string(out.LocationConstraint); loc {
	case "":
		return "us-east-1", nil
	case "EU":
		return "eu-west-1", nil
	default:
		return loc, nil
	}
}
