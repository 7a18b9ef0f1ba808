package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

const trustPolicyTemplate = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"Service": "%s"},
      "Action": "sts:AssumeRole"
    }
  ]
}`

// ensureRole creates an execution role trusting the given service and
// attaches the configured managed policies. Attachment is idempotent, so
// re-running converges a role with missing policies.
func (p *Provider) ensureRole(ctx context.Context, spec *stack.ResourceSpec) (*provider.EnsureResult, error) {
	trustService := spec.ParamString("trustService", "ecs-tasks.amazonaws.com")
	policyArns := paramStrings(spec, "policyArns", nil)

	var roleArn string
	created, err := p.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(spec.Name),
		AssumeRolePolicyDocument: aws.String(fmt.Sprintf(trustPolicyTemplate, trustService)),
	})
	switch {
	case err == nil:
		roleArn = *created.Role.Arn
	case isAlreadyExists(err):
		got, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(spec.Name)})
		if err != nil {
			return nil, classify(spec.ID(), fmt.Errorf("get role: %w", err))
		}
		roleArn = *got.Role.Arn
	default:
		return nil, classify(spec.ID(), fmt.Errorf("create role: %w", err))
	}

	for _, arn := range policyArns {
		_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(spec.Name),
			PolicyArn: aws.String(arn),
		})
		if err != nil {
			return nil, classify(spec.ID(), fmt.Errorf("attach policy %s: %w", arn, err))
		}
	}

	return &provider.EnsureResult{
		ExternalID: roleArn,
		Outputs: map[string]any{
			"role_name": spec.Name,
			"role_arn":  roleArn,
		},
	}, nil
}

// roleArn resolves a role name to its ARN.
func (p *Provider) roleArn(ctx context.Context, roleName string) (string, error) {
	got, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return "", err
	}
	return *got.Role.Arn, nil
}

// teardownRole detaches every managed policy, then deletes the role.
func (p *Provider) teardownRole(ctx context.Context, spec *stack.ResourceSpec) error {
	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(spec.Name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify(spec.ID(), fmt.Errorf("list attached policies: %w", err))
	}
	for _, pol := range attached.AttachedPolicies {
		_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(spec.Name),
			PolicyArn: pol.PolicyArn,
		})
		if err != nil && !isNotFound(err) {
			return classify(spec.ID(), fmt.Errorf("detach policy: %w", err))
		}
	}

	_, err = p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(spec.Name)})
	if err != nil && !isNotFound(err) {
		return classify(spec.ID(), fmt.Errorf("delete role: %w", err))
	}
	return nil
}
