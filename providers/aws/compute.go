package aws

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// networkAttachment is the network fabric a service binds to, rediscovered
// by the same name conventions the network resource creates under.
type networkAttachment struct {
	subnetIDs      []string
	serviceSGID    string
	targetGroupArn string
}

// ensureService converges the ECS side: cluster, a fresh Fargate task
// definition revision, and a create-or-update of the service wired to the
// stack's target group.
func (p *Provider) ensureService(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) (*provider.EnsureResult, error) {
	id := spec.ID()
	clusterName := spec.ParamString("cluster", spec.Name)
	image := spec.ParamString("image", "")
	containerPort := spec.ParamInt("containerPort", 8080)
	cpu := spec.ParamInt("cpu", 256)
	memory := spec.ParamInt("memory", 512)
	desired := spec.ParamInt("desiredCount", 1)
	logGroup := spec.ParamString("logGroupName", "/ecs/"+spec.Name)

	attach, err := p.lookupNetworkAttachment(ctx, spec.Name)
	if err != nil {
		return nil, classify(id, err)
	}

	cluster, err := p.ecsClient.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: aws.String(clusterName),
	})
	if err != nil {
		return nil, classify(id, fmt.Errorf("create cluster: %w", err))
	}

	roleArn, err := p.executionRoleArn(ctx, spec.Name+"-task-execution")
	if err != nil {
		return nil, classify(id, err)
	}

	taskDef, err := p.ecsClient.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(spec.Name),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String(strconv.Itoa(cpu)),
		Memory:                  aws.String(strconv.Itoa(memory)),
		ExecutionRoleArn:        aws.String(roleArn),
		ContainerDefinitions: []ecstypes.ContainerDefinition{{
			Name:      aws.String(spec.Name),
			Image:     aws.String(image),
			Essential: aws.Bool(true),
			PortMappings: []ecstypes.PortMapping{{
				ContainerPort: aws.Int32(int32(containerPort)),
				Protocol:      ecstypes.TransportProtocolTcp,
			}},
			LogConfiguration: &ecstypes.LogConfiguration{
				LogDriver: ecstypes.LogDriverAwslogs,
				Options: map[string]string{
					"awslogs-group":         logGroup,
					"awslogs-region":        p.region,
					"awslogs-stream-prefix": "ecs",
				},
			},
		}},
	})
	if err != nil {
		return nil, classify(id, fmt.Errorf("register task definition: %w", err))
	}
	taskDefArn := *taskDef.TaskDefinition.TaskDefinitionArn

	svcCfg := &ecstypes.NetworkConfiguration{
		AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
			Subnets:        attach.subnetIDs,
			SecurityGroups: []string{attach.serviceSGID},
			AssignPublicIp: ecstypes.AssignPublicIpEnabled,
		},
	}

	existing, err := p.activeService(ctx, clusterName, spec.Name)
	if err != nil {
		return nil, classify(id, err)
	}
	if existing != nil {
		_, err = p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:              aws.String(clusterName),
			Service:              aws.String(spec.Name),
			TaskDefinition:       aws.String(taskDefArn),
			DesiredCount:         aws.Int32(int32(desired)),
			NetworkConfiguration: svcCfg,
			ForceNewDeployment:   true,
		})
		if err != nil {
			return nil, classify(id, fmt.Errorf("update service: %w", err))
		}
	} else {
		_, err = p.ecsClient.CreateService(ctx, &ecs.CreateServiceInput{
			Cluster:              aws.String(clusterName),
			ServiceName:          aws.String(spec.Name),
			TaskDefinition:       aws.String(taskDefArn),
			DesiredCount:         aws.Int32(int32(desired)),
			LaunchType:           ecstypes.LaunchTypeFargate,
			NetworkConfiguration: svcCfg,
			LoadBalancers: []ecstypes.LoadBalancer{{
				TargetGroupArn: aws.String(attach.targetGroupArn),
				ContainerName:  aws.String(spec.Name),
				ContainerPort:  aws.Int32(int32(containerPort)),
			}},
		})
		if err != nil {
			return nil, classify(id, fmt.Errorf("create service: %w", err))
		}
	}

	return &provider.EnsureResult{
		ExternalID: *cluster.Cluster.ClusterArn,
		Outputs: map[string]any{
			"cluster":         clusterName,
			"service_name":    spec.Name,
			"task_definition": taskDefArn,
			"desired_count":   desired,
		},
	}, nil
}

// serviceHealth reports ready once the running task count reaches the
// desired count.
func (p *Provider) serviceHealth(ctx context.Context, spec *stack.ResourceSpec) (provider.Health, error) {
	clusterName := spec.ParamString("cluster", spec.Name)
	out, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(clusterName),
		Services: []string{spec.Name},
	})
	if err != nil {
		if isNotFound(err) {
			return provider.HealthNotReady, nil
		}
		return provider.HealthUnknown, classify(spec.ID(), err)
	}
	for _, svc := range out.Services {
		if svc.Status == nil || *svc.Status != "ACTIVE" {
			continue
		}
		if svc.DesiredCount > 0 && svc.RunningCount >= svc.DesiredCount {
			return provider.HealthReady, nil
		}
	}
	return provider.HealthNotReady, nil
}

// teardownService drains the service to zero, deletes it, deregisters the
// task definition revisions and removes the cluster.
func (p *Provider) teardownService(ctx context.Context, spec *stack.ResourceSpec) error {
	id := spec.ID()
	clusterName := spec.ParamString("cluster", spec.Name)

	existing, err := p.activeService(ctx, clusterName, spec.Name)
	if err != nil {
		return classify(id, err)
	}
	if existing != nil {
		_, err = p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:      aws.String(clusterName),
			Service:      aws.String(spec.Name),
			DesiredCount: aws.Int32(0),
		})
		if err != nil && !isNotFound(err) {
			return classify(id, fmt.Errorf("drain service: %w", err))
		}
		_, err = p.ecsClient.DeleteService(ctx, &ecs.DeleteServiceInput{
			Cluster: aws.String(clusterName),
			Service: aws.String(spec.Name),
			Force:   aws.Bool(true),
		})
		if err != nil && !isNotFound(err) {
			return classify(id, fmt.Errorf("delete service: %w", err))
		}
	}

	defs, err := p.ecsClient.ListTaskDefinitions(ctx, &ecs.ListTaskDefinitionsInput{
		FamilyPrefix: aws.String(spec.Name),
	})
	if err == nil {
		for _, arn := range defs.TaskDefinitionArns {
			_, _ = p.ecsClient.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
				TaskDefinition: aws.String(arn),
			})
		}
	}

	_, err = p.ecsClient.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: aws.String(clusterName)})
	if err != nil && !isNotFound(err) {
		return classify(id, fmt.Errorf("delete cluster: %w", err))
	}
	return nil
}

func (p *Provider) activeService(ctx context.Context, clusterName, serviceName string) (*ecstypes.Service, error) {
	out, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(clusterName),
		Services: []string{serviceName},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe services: %w", err)
	}
	for i, svc := range out.Services {
		if svc.Status != nil && *svc.Status == "ACTIVE" {
			return &out.Services[i], nil
		}
	}
	return nil, nil
}

// lookupNetworkAttachment rediscovers the subnets, service security group
// and target group the network resource created for this stack name.
func (p *Provider) lookupNetworkAttachment(ctx context.Context, name string) (*networkAttachment, error) {
	vpcID, err := p.findVpc(ctx, name)
	if err != nil {
		return nil, err
	}
	if vpcID == "" {
		return nil, fmt.Errorf("network for stack %q not found", name)
	}

	subnets, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpcID}}},
	})
	if err != nil {
		return nil, fmt.Errorf("describe subnets: %w", err)
	}
	var subnetIDs []string
	for _, sn := range subnets.Subnets {
		subnetIDs = append(subnetIDs, *sn.SubnetId)
	}
	if len(subnetIDs) == 0 {
		return nil, fmt.Errorf("no subnets in vpc %s", vpcID)
	}

	sgs, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("group-name"), Values: []string{name + "-svc-sg"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describe security groups: %w", err)
	}
	if len(sgs.SecurityGroups) == 0 {
		return nil, fmt.Errorf("service security group for stack %q not found", name)
	}

	tgs, err := p.elbv2Client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		Names: []string{name + "-tg"},
	})
	if err != nil {
		return nil, fmt.Errorf("describe target group: %w", err)
	}
	if len(tgs.TargetGroups) == 0 {
		return nil, fmt.Errorf("target group for stack %q not found", name)
	}

	return &networkAttachment{
		subnetIDs:      subnetIDs,
		serviceSGID:    *sgs.SecurityGroups[0].GroupId,
		targetGroupArn: *tgs.TargetGroups[0].TargetGroupArn,
	}, nil
}

func (p *Provider) executionRoleArn(ctx context.Context, roleName string) (string, error) {
	arn, err := p.roleArn(ctx, roleName)
	if err != nil {
		return "", fmt.Errorf("resolve execution role %s: %w", roleName, err)
	}
	return arn, nil
}
