package aws

import (
	"context"
	"fmt"
	"strconv"

	smaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/mlstack-io/mlstack/internal/engine"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// Deployer rolls published models out to serving: it points the SageMaker
// endpoint at the new artifact and triggers a rolling update of the ECS
// service with the model location in its environment. Endpoint deploys reuse
// the endpoint resource logic, so deploys through the pipeline and through
// the graph behave identically.
type Deployer struct {
	provider *Provider
	roleArn  string
	topo     *stack.Topology
}

// Deployer returns a deployer serving models under the given execution role.
func (p *Provider) Deployer(roleArn string, topo *stack.Topology) *Deployer {
	return &Deployer{provider: p, roleArn: roleArn, topo: topo}
}

// UpdateModel points the endpoint at a new model artifact, creating the
// endpoint on first deploy, then rolls the container service so it picks up
// the new model location from its environment.
func (d *Deployer) UpdateModel(ctx context.Context, endpointName, modelDataURI string, version int) error {
	spec := d.topo.EndpointSpec(modelDataURI, d.roleArn, XGBoostImage(d.provider.region))
	if _, err := d.provider.ensureEndpoint(ctx, spec); err != nil {
		return err
	}
	return d.rollService(ctx, modelDataURI, version)
}

// rollService registers a task definition revision with MODEL_URI and
// MODEL_VERSION set to the new artifact and forces a new deployment. A stack
// provisioned without the container service is left alone.
func (d *Deployer) rollService(ctx context.Context, modelDataURI string, version int) error {
	name := d.topo.Name
	svc, err := d.provider.activeService(ctx, name, name)
	if err != nil {
		return classify(name, err)
	}
	if svc == nil {
		return nil
	}

	def, err := d.provider.ecsClient.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: svc.TaskDefinition,
	})
	if err != nil {
		return classify(name, fmt.Errorf("describe task definition: %w", err))
	}

	containers := def.TaskDefinition.ContainerDefinitions
	for i := range containers {
		containers[i].Environment = setEnv(containers[i].Environment, "MODEL_URI", modelDataURI)
		containers[i].Environment = setEnv(containers[i].Environment, "MODEL_VERSION", strconv.Itoa(version))
	}

	registered, err := d.provider.ecsClient.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  def.TaskDefinition.Family,
		ContainerDefinitions:    containers,
		Cpu:                     def.TaskDefinition.Cpu,
		Memory:                  def.TaskDefinition.Memory,
		NetworkMode:             def.TaskDefinition.NetworkMode,
		RequiresCompatibilities: def.TaskDefinition.RequiresCompatibilities,
		ExecutionRoleArn:        def.TaskDefinition.ExecutionRoleArn,
		TaskRoleArn:             def.TaskDefinition.TaskRoleArn,
	})
	if err != nil {
		return classify(name, fmt.Errorf("register task definition: %w", err))
	}

	_, err = d.provider.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            smaws.String(name),
		Service:            smaws.String(name),
		TaskDefinition:     registered.TaskDefinition.TaskDefinitionArn,
		ForceNewDeployment: true,
	})
	if err != nil {
		return classify(name, fmt.Errorf("update service: %w", err))
	}
	return nil
}

// Healthy reports whether the endpoint is in service and the rolled container
// service reached its desired count. Transitional states are unhealthy but
// not an error.
func (d *Deployer) Healthy(ctx context.Context, endpointName string) (bool, error) {
	out, err := d.provider.sagemakerClient.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: smaws.String(endpointName),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify(endpointName, err)
	}
	if out.EndpointStatus == smtypes.EndpointStatusFailed {
		reason := ""
		if out.FailureReason != nil {
			reason = *out.FailureReason
		}
		return false, engine.NewPermanentError(endpointName, fmt.Errorf("endpoint failed: %s", reason))
	}
	if out.EndpointStatus != smtypes.EndpointStatusInService {
		return false, nil
	}
	return d.serviceSettled(ctx)
}

// serviceSettled reports whether the container service, if present, is
// running its desired count on the latest deployment.
func (d *Deployer) serviceSettled(ctx context.Context) (bool, error) {
	name := d.topo.Name
	svc, err := d.provider.activeService(ctx, name, name)
	if err != nil {
		return false, classify(name, err)
	}
	if svc == nil {
		return true, nil
	}
	return svc.RunningCount >= svc.DesiredCount && svc.DesiredCount > 0, nil
}

// setEnv replaces or appends a key in a container environment.
func setEnv(env []ecstypes.KeyValuePair, key, value string) []ecstypes.KeyValuePair {
	for i := range env {
		if env[i].Name != nil && *env[i].Name == key {
			env[i].Value = smaws.String(value)
			return env
		}
	}
	return append(env, ecstypes.KeyValuePair{Name: smaws.String(key), Value: smaws.String(value)})
}
