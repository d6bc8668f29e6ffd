package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/gurre/cloudtrail-partitioner/aws"
)

// S3ReportUploader writes run reports as JSON objects.
// Example:
//
//	uploader := metrics.NewS3ReportUploader(client)
//	err := uploader.UploadReport(ctx, "s3://my-bucket/partitioner/last-run.json", report)
type S3ReportUploader struct {
	client aws.S3Client
}

// NewS3ReportUploader creates a new S3ReportUploader instance
func NewS3ReportUploader(client aws.S3Client) *S3ReportUploader {
	return &S3ReportUploader{client: client}
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid S3 URI scheme: %s", u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("S3 URI must name a bucket and key: %s", uri)
	}
	return u.Host, key, nil
}

// UploadReport stores report at uri.
func (u *S3ReportUploader) UploadReport(ctx context.Context, uri string, report Report) error {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awssdk.String(bucket),
		Key:         awssdk.String(key),
		Body:        bytes.NewReader(data),
		ContentType: awssdk.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return nil
}
