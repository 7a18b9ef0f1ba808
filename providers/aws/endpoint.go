package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/mlstack-io/mlstack/internal/engine"
	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// ensureEndpoint converges a serving endpoint: a model wrapping the artifact,
// an endpoint config with one instance, and the endpoint itself. An existing
// endpoint is updated to the new config so a redeploy rolls without downtime.
func (p *Provider) ensureEndpoint(ctx context.Context, spec *stack.ResourceSpec) (*provider.EnsureResult, error) {
	id := spec.ID()
	endpointName := spec.Name
	modelDataURL := spec.ParamString("modelDataUrl", "")
	roleArn := spec.ParamString("executionRole", "")
	image := spec.ParamString("image", XGBoostImage(p.region))
	instanceType := spec.ParamString("instanceType", "ml.m5.large")
	instanceCount := spec.ParamInt("instanceCount", 1)

	if modelDataURL == "" || roleArn == "" {
		return nil, engine.NewPermanentError(id, fmt.Errorf("modelDataUrl and executionRole are required"))
	}

	// Model and config names carry a timestamp so every deploy gets fresh,
	// immutable objects; stale ones are swept on teardown by prefix.
	suffix := time.Now().UTC().Format("20060102-150405")
	modelName := fmt.Sprintf("%s-model-%s", endpointName, suffix)
	configName := fmt.Sprintf("%s-config-%s", endpointName, suffix)

	_, err := p.sagemakerClient.CreateModel(ctx, &sagemaker.CreateModelInput{
		ModelName:        aws.String(modelName),
		ExecutionRoleArn: aws.String(roleArn),
		PrimaryContainer: &smtypes.ContainerDefinition{
			Image:        aws.String(image),
			ModelDataUrl: aws.String(modelDataURL),
		},
	})
	if err != nil {
		return nil, classify(id, fmt.Errorf("create model: %w", err))
	}

	_, err = p.sagemakerClient.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(configName),
		ProductionVariants: []smtypes.ProductionVariant{{
			VariantName:          aws.String("AllTraffic"),
			ModelName:            aws.String(modelName),
			InitialInstanceCount: aws.Int32(int32(instanceCount)),
			InstanceType:         smtypes.ProductionVariantInstanceType(instanceType),
		}},
	})
	if err != nil {
		return nil, classify(id, fmt.Errorf("create endpoint config: %w", err))
	}

	_, err = p.sagemakerClient.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(endpointName),
	})
	switch {
	case err == nil:
		_, err = p.sagemakerClient.UpdateEndpoint(ctx, &sagemaker.UpdateEndpointInput{
			EndpointName:       aws.String(endpointName),
			EndpointConfigName: aws.String(configName),
		})
		if err != nil {
			return nil, classify(id, fmt.Errorf("update endpoint: %w", err))
		}
	case isNotFound(err):
		_, err = p.sagemakerClient.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
			EndpointName:       aws.String(endpointName),
			EndpointConfigName: aws.String(configName),
		})
		if err != nil {
			return nil, classify(id, fmt.Errorf("create endpoint: %w", err))
		}
	default:
		return nil, classify(id, fmt.Errorf("describe endpoint: %w", err))
	}

	return &provider.EnsureResult{
		ExternalID: endpointName,
		Outputs: map[string]any{
			"endpoint_name": endpointName,
			"model_name":    modelName,
			"config_name":   configName,
		},
	}, nil
}

// endpointHealth reports ready once the endpoint is in service.
func (p *Provider) endpointHealth(ctx context.Context, spec *stack.ResourceSpec) (provider.Health, error) {
	out, err := p.sagemakerClient.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(spec.Name),
	})
	if err != nil {
		if isNotFound(err) {
			return provider.HealthNotReady, nil
		}
		return provider.HealthUnknown, classify(spec.ID(), err)
	}
	switch out.EndpointStatus {
	case smtypes.EndpointStatusInService:
		return provider.HealthReady, nil
	case smtypes.EndpointStatusFailed:
		reason := ""
		if out.FailureReason != nil {
			reason = *out.FailureReason
		}
		return provider.HealthUnknown, engine.NewPermanentError(spec.ID(),
			fmt.Errorf("endpoint failed: %s", reason))
	}
	return provider.HealthNotReady, nil
}

// teardownEndpoint deletes the endpoint, then sweeps every endpoint config
// and model created for it, matched by name prefix.
func (p *Provider) teardownEndpoint(ctx context.Context, spec *stack.ResourceSpec) error {
	id := spec.ID()
	endpointName := spec.Name

	_, err := p.sagemakerClient.DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{
		EndpointName: aws.String(endpointName),
	})
	if err != nil && !isNotFound(err) {
		return classify(id, fmt.Errorf("delete endpoint: %w", err))
	}

	configs, err := p.sagemakerClient.ListEndpointConfigs(ctx, &sagemaker.ListEndpointConfigsInput{
		NameContains: aws.String(endpointName + "-config"),
	})
	if err != nil {
		return classify(id, fmt.Errorf("list endpoint configs: %w", err))
	}
	for _, cfg := range configs.EndpointConfigs {
		_, err := p.sagemakerClient.DeleteEndpointConfig(ctx, &sagemaker.DeleteEndpointConfigInput{
			EndpointConfigName: cfg.EndpointConfigName,
		})
		if err != nil && !isNotFound(err) {
			return classify(id, fmt.Errorf("delete endpoint config: %w", err))
		}
	}

	models, err := p.sagemakerClient.ListModels(ctx, &sagemaker.ListModelsInput{
		NameContains: aws.String(endpointName + "-model"),
	})
	if err != nil {
		return classify(id, fmt.Errorf("list models: %w", err))
	}
	for _, m := range models.Models {
		_, err := p.sagemakerClient.DeleteModel(ctx, &sagemaker.DeleteModelInput{
			ModelName: m.ModelName,
		})
		if err != nil && !isNotFound(err) {
			return classify(id, fmt.Errorf("delete model: %w", err))
		}
	}
	return nil
}
