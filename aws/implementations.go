package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AthenaClientImpl implements AthenaClient using the AWS SDK.
type AthenaClientImpl struct {
	client *athena.Client
}

// NewAthenaClient creates a new AthenaClientImpl instance
func NewAthenaClient(client *athena.Client) *AthenaClientImpl {
	return &AthenaClientImpl{client: client}
}

// StartQueryExecution submits a statement for asynchronous execution
func (c *AthenaClientImpl) StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	return c.client.StartQueryExecution(ctx, params, optFns...)
}

// GetQueryExecution returns the current status of an execution
func (c *AthenaClientImpl) GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	return c.client.GetQueryExecution(ctx, params, optFns...)
}

// GetQueryResults returns one page of results of a finished execution
func (c *AthenaClientImpl) GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	return c.client.GetQueryResults(ctx, params, optFns...)
}

// StopQueryExecution cancels a running execution
func (c *AthenaClientImpl) StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	return c.client.StopQueryExecution(ctx, params, optFns...)
}

// S3ClientImpl implements S3Client using the AWS SDK.
type S3ClientImpl struct {
	client *s3.Client
}

// NewS3Client creates a new S3ClientImpl instance
func NewS3Client(client *s3.Client) *S3ClientImpl {
	return &S3ClientImpl{client: client}
}

// ListObjectsV2 implements the S3Client interface for listing keys and common prefixes
func (c *S3ClientImpl) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return c.client.ListObjectsV2(ctx, params, optFns...)
}

// GetBucketLocation implements the S3Client interface for resolving a bucket's region
func (c *S3ClientImpl) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	return c.client.GetBucketLocation(ctx, params, optFns...)
}

// PutObject implements the S3Client interface for writing objects
func (c *S3ClientImpl) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return c.client.PutObject(ctx, params, optFns...)
}

// EC2ClientImpl implements EC2Client using the AWS SDK.
type EC2ClientImpl struct {
	client *ec2.Client
}

// NewEC2Client creates a new EC2ClientImpl instance
func NewEC2Client(client *ec2.Client) *EC2ClientImpl {
	return &EC2ClientImpl{client: client}
}

// DescribeRegions implements the EC2Client interface for region enumeration
func (c *EC2ClientImpl) DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	return c.client.DescribeRegions(ctx, params, optFns...)
}

// STSClientImpl implements STSClient using the AWS SDK.
type STSClientImpl struct {
	client *sts.Client
}

// NewSTSClient creates a new STSClientImpl instance
func NewSTSClient(client *sts.Client) *STSClientImpl {
	return &STSClientImpl{client: client}
}

// GetCallerIdentity implements the STSClient interface
func (c *STSClientImpl) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return c.client.GetCallerIdentity(ctx, params, optFns...)
}

// IAMClientImpl implements IAMClient using the AWS SDK.
// It provides concrete implementations for simulating permissions.
type IAMClientImpl struct {
	client *iam.Client
}

// NewIAMClient creates a new IAMClientImpl instance
func NewIAMClient(client *iam.Client) *IAMClientImpl {
	return &IAMClientImpl{client: client}
}

// SimulatePrincipalPolicy implements the IAMClient interface for permission simulation
func (c *IAMClientImpl) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	return c.client.SimulatePrincipalPolicy(ctx, params, optFns...)
}
