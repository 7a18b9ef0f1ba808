// Package aws implements the provider contract against AWS: VPC networking
// with an application load balancer, ECS on Fargate, ECR, CloudWatch Logs,
// IAM, S3 and SageMaker.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// Provider talks to AWS. One instance serves every resource kind.
type Provider struct {
	region string

	ec2Client       *ec2.Client
	elbv2Client     *elasticloadbalancingv2.Client
	ecsClient       *ecs.Client
	ecrClient       *ecr.Client
	logsClient      *cloudwatchlogs.Client
	iamClient       *iam.Client
	s3Client        *s3.Client
	sagemakerClient *sagemaker.Client
	stsClient       *sts.Client
}

// New loads the default AWS configuration for the region and constructs
// clients for every service the provider drives.
func New(ctx context.Context, region string) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &Provider{
		region:          region,
		ec2Client:       ec2.NewFromConfig(cfg),
		elbv2Client:     elasticloadbalancingv2.NewFromConfig(cfg),
		ecsClient:       ecs.NewFromConfig(cfg),
		ecrClient:       ecr.NewFromConfig(cfg),
		logsClient:      cloudwatchlogs.NewFromConfig(cfg),
		iamClient:       iam.NewFromConfig(cfg),
		s3Client:        s3.NewFromConfig(cfg),
		sagemakerClient: sagemaker.NewFromConfig(cfg),
		stsClient:       sts.NewFromConfig(cfg),
	}, nil
}

// AccountID resolves the caller's account from STS.
func (p *Provider) AccountID(ctx context.Context) (string, error) {
	out, err := p.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("resolve caller identity: %w", err)
	}
	return *out.Account, nil
}

// Ensure converges a resource to its spec, adopting anything that already
// exists.
func (p *Provider) Ensure(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) (*provider.EnsureResult, error) {
	switch spec.Kind {
	case stack.KindNetwork:
		return p.ensureNetwork(ctx, spec)
	case stack.KindRegistry:
		return p.ensureRepository(ctx, spec)
	case stack.KindComputeService:
		return p.ensureService(ctx, spec, prior)
	case stack.KindLogGroup:
		return p.ensureLogGroup(ctx, spec)
	case stack.KindStorageBucket:
		return p.ensureBucket(ctx, spec)
	case stack.KindIamRole:
		return p.ensureRole(ctx, spec)
	case stack.KindTrainingJob:
		return p.ensureTrainingJob(ctx, spec)
	case stack.KindModelEndpoint:
		return p.ensureEndpoint(ctx, spec)
	}
	return nil, fmt.Errorf("unknown resource kind: %s", spec.Kind)
}

// Teardown removes a resource; a resource that is already gone is success.
func (p *Provider) Teardown(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) error {
	switch spec.Kind {
	case stack.KindNetwork:
		return p.teardownNetwork(ctx, spec, prior)
	case stack.KindRegistry:
		return p.teardownRepository(ctx, spec)
	case stack.KindComputeService:
		return p.teardownService(ctx, spec)
	case stack.KindLogGroup:
		return p.teardownLogGroup(ctx, spec)
	case stack.KindStorageBucket:
		return p.teardownBucket(ctx, spec)
	case stack.KindIamRole:
		return p.teardownRole(ctx, spec)
	case stack.KindTrainingJob:
		return p.teardownTrainingJob(ctx, spec)
	case stack.KindModelEndpoint:
		return p.teardownEndpoint(ctx, spec)
	}
	return fmt.Errorf("unknown resource kind: %s", spec.Kind)
}

// Health probes a resource's readiness.
func (p *Provider) Health(ctx context.Context, spec *stack.ResourceSpec, externalID string) (provider.Health, error) {
	switch spec.Kind {
	case stack.KindNetwork:
		return p.networkHealth(ctx, spec)
	case stack.KindComputeService:
		return p.serviceHealth(ctx, spec)
	case stack.KindModelEndpoint:
		return p.endpointHealth(ctx, spec)
	case stack.KindRegistry, stack.KindLogGroup, stack.KindStorageBucket, stack.KindIamRole, stack.KindTrainingJob:
		// These are ready as soon as the create call returns.
		return provider.HealthReady, nil
	}
	return provider.HealthUnknown, fmt.Errorf("unknown resource kind: %s", spec.Kind)
}
