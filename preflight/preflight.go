// Package preflight checks that the caller may perform every action a run
// needs before anything in the catalog is touched.
package preflight

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/gurre/cloudtrail-partitioner/aws"
	"github.com/gurre/cloudtrail-partitioner/logging"
)

// RequiredActions are the IAM actions a partition run performs, directly or
// through Athena's use of Glue. They are simulated against any resource.
var RequiredActions = []string{
	"athena:StartQueryExecution",
	"athena:GetQueryExecution",
	"athena:GetQueryResults",
	"glue:CreateDatabase",
	"glue:GetDatabase",
	"glue:CreateTable",
	"glue:GetTable",
	"glue:BatchCreatePartition",
	"glue:BatchGetPartition",
	"glue:DeleteTable",
	"glue:UpdateTable",
	"ec2:DescribeRegions",
}

// BucketActions are simulated against the log bucket ARN.
var BucketActions = []string{
	"s3:ListBucket",
	"s3:GetBucketLocation",
}

// PermissionError lists the actions the principal is not allowed.
type PermissionError struct {
	Principal string
	Denied    map[string]string // action -> decision
}

func (e *PermissionError) Error() string {
	actions := make([]string, 0, len(e.Denied))
	for a := range e.Denied {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = fmt.Sprintf("%s (%s)", a, e.Denied[a])
	}
	return fmt.Sprintf("principal %s is missing permissions: %s", e.Principal, strings.Join(parts, ", "))
}

// Checker simulates RequiredActions and BucketActions against a principal.
type Checker struct {
	client        aws.IAMClient
	actions       []string
	bucketActions []string
	bucketARN     string
}

// NewChecker creates a Checker for a run against the given log bucket.
func NewChecker(client aws.IAMClient, bucket string) *Checker {
	return &Checker{
		client:        client,
		actions:       RequiredActions,
		bucketActions: BucketActions,
		bucketARN:     "arn:aws:s3:::" + bucket,
	}
}

// PrincipalARN maps a caller identity ARN to something IAM can simulate.
// Assumed-role sessions are reported by STS as
// arn:aws:sts::ACCOUNT:assumed-role/NAME/SESSION and become the role ARN.
func PrincipalARN(callerARN string) (string, error) {
	parts := strings.SplitN(callerARN, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return "", fmt.Errorf("invalid caller ARN: %s", callerARN)
	}
	if parts[2] != "sts" {
		return callerARN, nil
	}

	resource := strings.Split(parts[5], "/")
	if len(resource) < 2 || resource[0] != "assumed-role" {
		return "", fmt.Errorf("cannot simulate policies for %s", callerARN)
	}
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", parts[1], parts[4], resource[1]), nil
}

// Check fails with a *PermissionError when any required action is not
// allowed for the principal behind callerARN.
func (c *Checker) Check(ctx context.Context, callerARN string) error {
	principal, err := PrincipalARN(callerARN)
	if err != nil {
		return err
	}
	log := logging.FromContext(ctx)
	log.Info().
		Str("principal", principal).
		Str("bucket", c.bucketARN).
		Int("actions", len(c.actions)+len(c.bucketActions)).
		Msg("Checking permissions")

	denied := make(map[string]string)
	if err := c.simulate(ctx, principal, c.actions, nil, denied); err != nil {
		return err
	}
	if err := c.simulate(ctx, principal, c.bucketActions, []string{c.bucketARN}, denied); err != nil {
		return err
	}

	if len(denied) > 0 {
		return &PermissionError{Principal: principal, Denied: denied}
	}
	log.Debug().Msg("All permissions allowed")
	return nil
}

// simulate records every action that is not allowed on resources into
// denied. No resources means the simulation runs against "*".
func (c *Checker) simulate(ctx context.Context, principal string, actions, resources []string, denied map[string]string) error {
	if len(actions) == 0 {
		return nil
	}
	paginator := iam.NewSimulatePrincipalPolicyPaginator(c.client, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: &principal,
		ActionNames:     actions,
		ResourceArns:    resources,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to simulate policy for %s: %w", principal, err)
		}
		for _, result := range page.EvaluationResults {
			if result.EvalDecision == types.PolicyEvaluationDecisionTypeAllowed || result.EvalActionName == nil {
				continue
			}
			denied[*result.EvalActionName] = string(result.EvalDecision)
		}
	}
	return nil
}
