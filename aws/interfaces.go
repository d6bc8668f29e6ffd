// Package aws holds the narrow AWS service abstractions the partitioner talks
// through. Each interface mirrors the subset of the SDK client it needs so that
// tests can substitute hand-written fakes.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AthenaClient defines the Athena operations used by the query executor.
// GetQueryResults is also what athena.NewGetQueryResultsPaginator requires.
type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// S3Client defines the S3 operations used for prefix discovery and report upload.
type S3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// EC2Client defines the EC2 operation used to enumerate partition regions.
type EC2Client interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// STSClient defines the STS operation used to validate credentials and
// resolve the caller account.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IAMClient defines the IAM operation used by the permission preflight.
type IAMClient interface {
	SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error)
}

// Compile-time interface checks to ensure implementations satisfy interfaces
var (
	_ AthenaClient = (*AthenaClientImpl)(nil)
	_ S3Client     = (*S3ClientImpl)(nil)
	_ EC2Client    = (*EC2ClientImpl)(nil)
	_ STSClient    = (*STSClientImpl)(nil)
	_ IAMClient    = (*IAMClientImpl)(nil)

	// AWS SDK interface checks to ensure SDK clients satisfy interfaces
	_ AthenaClient = (*athena.Client)(nil)
	_ S3Client     = (*s3.Client)(nil)
	_ EC2Client    = (*ec2.Client)(nil)
	_ STSClient    = (*sts.Client)(nil)
	_ IAMClient    = (*iam.Client)(nil)
)
