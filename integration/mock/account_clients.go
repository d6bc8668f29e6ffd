package mock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSClient is a mock implementation of aws.STSClient interface for testing.
type STSClient struct {
	Account string
	ARN     string
	Err     error
}

// GetCallerIdentity returns the configured identity
func (m *STSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(m.Account),
		Arn:     aws.String(m.ARN),
	}, nil
}

// EC2Client is a mock implementation of aws.EC2Client interface for testing.
type EC2Client struct {
	Regions []string
	Calls   int
}

// DescribeRegions returns the configured regions in order
func (m *EC2Client) DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	m.Calls++
	out := &ec2.DescribeRegionsOutput{}
	for _, r := range m.Regions {
		out.Regions = append(out.Regions, ec2types.Region{RegionName: aws.String(r)})
	}
	return out, nil
}

// IAMClient is a mock implementation of aws.IAMClient interface for testing.
// Actions missing from Denied are allowed.
type IAMClient struct {
	Denied map[string]iamtypes.PolicyEvaluationDecisionType
	Calls  []*iam.SimulatePrincipalPolicyInput
}

// SimulatePrincipalPolicy evaluates every requested action
func (m *IAMClient) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	m.Calls = append(m.Calls, params)
	out := &iam.SimulatePrincipalPolicyOutput{}
	for _, action := range params.ActionNames {
		decision := iamtypes.PolicyEvaluationDecisionTypeAllowed
		if d, ok := m.Denied[action]; ok {
			decision = d
		}
		out.EvaluationResults = append(out.EvaluationResults, iamtypes.EvaluationResult{
			EvalActionName: aws.String(action),
			EvalDecision:   decision,
		})
	}
	return out, nil
}
