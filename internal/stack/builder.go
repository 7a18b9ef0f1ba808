package stack

import "fmt"

// Topology holds the inputs the default stack layout is derived from.
type Topology struct {
	Name          string
	Region        string
	AccountID     string
	ContainerPort int
	CPU           int
	Memory        int
	Image         string // optional override for the service image
}

// Spec IDs the builder wires together. Derived helpers keep the CLI and
// pipeline from re-deriving name conventions.
func (t Topology) NetworkID() string  { return fmt.Sprintf("%s.%s", KindNetwork, t.Name) }
func (t Topology) RegistryID() string { return fmt.Sprintf("%s.%s", KindRegistry, t.Name) }
func (t Topology) ComputeID() string  { return fmt.Sprintf("%s.%s", KindComputeService, t.Name) }
func (t Topology) LogGroupID() string { return fmt.Sprintf("%s.%s", KindLogGroup, t.Name) }
func (t Topology) BucketID() string   { return fmt.Sprintf("%s.%s-ml", KindStorageBucket, t.Name) }
func (t Topology) TaskRoleID() string {
	return fmt.Sprintf("%s.%s-task-execution", KindIamRole, t.Name)
}
func (t Topology) TrainingRoleID() string {
	return fmt.Sprintf("%s.%s-sagemaker-exec", KindIamRole, t.Name)
}
func (t Topology) EndpointID() string { return fmt.Sprintf("%s.%s-ep", KindModelEndpoint, t.Name) }

// BucketName is the globally unique model bucket name.
func (t Topology) BucketName() string {
	return fmt.Sprintf("%s-%s-ml", t.Name, t.AccountID)
}

// LogGroupName is the CloudWatch log group path for the container service.
func (t Topology) LogGroupName() string {
	return fmt.Sprintf("/ecs/%s", t.Name)
}

// BaseSpecs returns the base infrastructure resources: network fabric,
// log group, task execution role, image registry and the container service
// that depends on all of them.
func (t Topology) BaseSpecs() []*ResourceSpec {
	network := &ResourceSpec{
		Kind: KindNetwork,
		Name: t.Name,
		Parameters: map[string]any{
			"cidr":          "10.0.0.0/16",
			"subnetCidrs":   []any{"10.0.1.0/24", "10.0.2.0/24"},
			"containerPort": t.ContainerPort,
		},
	}
	logGroup := &ResourceSpec{
		Kind: KindLogGroup,
		Name: t.Name,
		Parameters: map[string]any{
			"logGroupName":  t.LogGroupName(),
			"retentionDays": 14,
		},
	}
	taskRole := &ResourceSpec{
		Kind: KindIamRole,
		Name: t.Name + "-task-execution",
		Parameters: map[string]any{
			"trustService": "ecs-tasks.amazonaws.com",
			"policyArns": []any{
				"arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy",
			},
		},
	}
	registry := &ResourceSpec{
		Kind: KindRegistry,
		Name: t.Name,
		Parameters: map[string]any{
			"repositoryName": t.Name,
		},
	}

	image := t.Image
	if image == "" {
		image = fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:latest", t.AccountID, t.Region, t.Name)
	}
	compute := &ResourceSpec{
		Kind: KindComputeService,
		Name: t.Name,
		Parameters: map[string]any{
			"cluster":       t.Name,
			"image":         image,
			"containerPort": t.ContainerPort,
			"cpu":           t.CPU,
			"memory":        t.Memory,
			"desiredCount":  1,
			"logGroupName":  t.LogGroupName(),
		},
		DependsOn: []string{
			network.ID(),
			logGroup.ID(),
			taskRole.ID(),
			registry.ID(),
		},
	}

	return []*ResourceSpec{network, logGroup, taskRole, registry, compute}
}

// MLSpecs returns the machine-learning onboarding resources: the model
// storage bucket and the training execution role. The bucket doubles as the
// model registry root; versioned artifacts live under models/<stack>/.
func (t Topology) MLSpecs() []*ResourceSpec {
	bucket := &ResourceSpec{
		Kind: KindStorageBucket,
		Name: t.Name + "-ml",
		Parameters: map[string]any{
			"bucket": t.BucketName(),
		},
	}
	trainingRole := &ResourceSpec{
		Kind: KindIamRole,
		Name: t.Name + "-sagemaker-exec",
		Parameters: map[string]any{
			"trustService": "sagemaker.amazonaws.com",
			"policyArns": []any{
				"arn:aws:iam::aws:policy/AmazonSageMakerFullAccess",
				"arn:aws:iam::aws:policy/AmazonS3FullAccess",
				"arn:aws:iam::aws:policy/CloudWatchLogsFullAccess",
				"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly",
			},
		},
	}
	return []*ResourceSpec{bucket, trainingRole}
}

// AllSpecs returns base and ML resources as one graph.
func (t Topology) AllSpecs() []*ResourceSpec {
	return append(t.BaseSpecs(), t.MLSpecs()...)
}

// DynamicSpecs reconstructs specs for resources the pipeline recorded at
// runtime, so a full teardown covers serving endpoints and training jobs
// that no builder spec describes. Both depend on the training role so they
// are removed before it.
func (t Topology) DynamicSpecs(st *Stack) []*ResourceSpec {
	var specs []*ResourceSpec
	for _, rs := range st.Resources {
		if rs.Kind != KindModelEndpoint && rs.Kind != KindTrainingJob {
			continue
		}
		if rs.Status == StatusAbsent {
			continue
		}
		specs = append(specs, &ResourceSpec{
			Kind:      rs.Kind,
			Name:      rs.Name,
			DependsOn: []string{t.TrainingRoleID(), t.BucketID()},
		})
	}
	return specs
}

// EndpointSpec builds the serving endpoint resource for a published model.
// It is ensured by the pipeline's deploy stage, not by `up`.
func (t Topology) EndpointSpec(modelDataURI, roleARN, image string) *ResourceSpec {
	return &ResourceSpec{
		Kind: KindModelEndpoint,
		Name: t.Name + "-ep",
		Parameters: map[string]any{
			"modelDataUrl":  modelDataURI,
			"executionRole": roleARN,
			"image":         image,
			"instanceType":  "ml.m5.large",
			"instanceCount": 1,
		},
		DependsOn: []string{t.TrainingRoleID()},
	}
}
