package aws

import (
	"context"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients bundles every service client a partition run needs, all built from
// one session.
type Clients struct {
	Region string
	Athena AthenaClient
	S3     S3Client
	EC2    EC2Client
	STS    STSClient
	IAM    IAMClient
}

// LoadConfig resolves credentials and region from the default chain,
// optionally scoped to a named profile from ~/.aws/config.
func LoadConfig(ctx context.Context, profile string) (awssdk.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		return awssdk.Config{}, errors.New("no AWS region configured (set AWS_REGION or a profile region)")
	}
	return cfg, nil
}

// NewClients builds the service clients from a loaded session.
func NewClients(cfg awssdk.Config) *Clients {
	return &Clients{
		Region: cfg.Region,
		Athena: NewAthenaClient(athena.NewFromConfig(cfg)),
		S3:     NewS3Client(s3.NewFromConfig(cfg)),
		EC2:    NewEC2Client(ec2.NewFromConfig(cfg)),
		STS:    NewSTSClient(sts.NewFromConfig(cfg)),
		IAM:    NewIAMClient(iam.NewFromConfig(cfg)),
	}
}

// Identity is the caller principal resolved through STS.
type Identity struct {
	Account string
	ARN     string
}

// CallerIdentity validates the session credentials and returns the caller's
// account id and ARN.
func CallerIdentity(ctx context.Context, client STSClient) (Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to get caller identity: %w", err)
	}
	id := Identity{
		Account: awssdk.ToString(out.Account),
		ARN:     awssdk.ToString(out.Arn),
	}
	if id.Account == "" {
		return Identity{}, errors.New("caller identity returned no account")
	}
	return id, nil
}

// ListRegions returns the names of every region in the partition, including
// ones not enabled for the account, in the order EC2 reports them.
func ListRegions(ctx context.Context, client EC2Client) ([]string, error) {
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: awssdk.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe regions: %w", err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if name := awssdk.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	if len(regions) == 0 {
		return nil, errors.New("describe regions returned no regions")
	}
	return regions, nil
}
