package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// ensureLogGroup creates the log group and pins its retention policy. The
// retention update runs even when the group already existed so a changed
// retention converges.
func (p *Provider) ensureLogGroup(ctx context.Context, spec *stack.ResourceSpec) (*provider.EnsureResult, error) {
	groupName := spec.ParamString("logGroupName", "/ecs/"+spec.Name)
	retention := spec.ParamInt("retentionDays", 14)

	_, err := p.logsClient.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(groupName),
	})
	if err != nil && !isAlreadyExists(err) {
		return nil, classify(spec.ID(), fmt.Errorf("create log group: %w", err))
	}

	_, err = p.logsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(groupName),
		RetentionInDays: aws.Int32(int32(retention)),
	})
	if err != nil {
		return nil, classify(spec.ID(), fmt.Errorf("set retention policy: %w", err))
	}

	return &provider.EnsureResult{
		ExternalID: groupName,
		Outputs: map[string]any{
			"log_group_name": groupName,
			"retention_days": retention,
		},
	}, nil
}

func (p *Provider) teardownLogGroup(ctx context.Context, spec *stack.ResourceSpec) error {
	groupName := spec.ParamString("logGroupName", "/ecs/"+spec.Name)
	_, err := p.logsClient.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: aws.String(groupName),
	})
	if err != nil && !isNotFound(err) {
		return classify(spec.ID(), fmt.Errorf("delete log group: %w", err))
	}
	return nil
}
