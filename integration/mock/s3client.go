package mock

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is a mock implementation of aws.S3Client interface for testing.
// Keys are grouped on the request delimiter the way S3 does, so a bucket
// populated with object keys answers prefix listings realistically.
type S3Client struct {
	mu sync.Mutex

	// Maps bucket to its object keys
	Keys map[string][]string
	// Maps bucket to its location constraint ("" for us-east-1)
	Locations map[string]string
	// Maps bucket/key to uploaded content
	Objects map[string][]byte
	// Every ListObjectsV2 request, in order
	ListCalls []*s3.ListObjectsV2Input
	// Error returned by ListObjectsV2 when set
	ListErr error
}

// NewS3Client creates a new mock S3 client
func NewS3Client() *S3Client {
	return &S3Client{
		Keys:      make(map[string][]string),
		Locations: make(map[string]string),
		Objects:   make(map[string][]byte),
	}
}

// AddKeys adds object keys to bucket.
func (m *S3Client) AddKeys(bucket string, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Keys[bucket] = append(m.Keys[bucket], keys...)
}

// ListObjectsV2 returns keys and common prefixes under the requested prefix
func (m *S3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls = append(m.ListCalls, params)
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	bucket := aws.ToString(params.Bucket)
	keys, ok := m.Keys[bucket]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String(fmt.Sprintf("The specified bucket does not exist: %s", bucket))}
	}

	prefix := aws.ToString(params.Prefix)
	delimiter := aws.ToString(params.Delimiter)
	maxKeys := int32(1000)
	if params.MaxKeys != nil && *params.MaxKeys < maxKeys {
		maxKeys = *params.MaxKeys
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	out := &s3.ListObjectsV2Output{Name: params.Bucket, Prefix: params.Prefix, Delimiter: params.Delimiter}
	seen := make(map[string]bool)
	var count int32
	for _, key := range sorted {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if count >= maxKeys {
			out.IsTruncated = aws.Bool(true)
			break
		}
		rest := key[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
					count++
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		count++
	}
	out.KeyCount = aws.Int32(count)
	return out, nil
}

// GetBucketLocation returns the configured location constraint of a bucket
func (m *S3Client) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, ok := m.Locations[aws.ToString(params.Bucket)]
	if !ok {
		if _, exists := m.Keys[aws.ToString(params.Bucket)]; !exists {
			return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
		}
	}
	return &s3.GetBucketLocationOutput{LocationConstraint: types.BucketLocationConstraint(loc)}, nil
}

// PutObject stores the uploaded body
func (m *S3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[fmt.Sprintf("%s/%s", aws.ToString(params.Bucket), aws.ToString(params.Key))] = data
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("\"%x\"", len(data)))}, nil
}
