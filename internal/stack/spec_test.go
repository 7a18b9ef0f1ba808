package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceSpec_ID(t *testing.T) {
	s := &ResourceSpec{Kind: KindNetwork, Name: "lab"}
	assert.Equal(t, "network.lab", s.ID())
}

func TestResourceSpec_HashStable(t *testing.T) {
	a := &ResourceSpec{Kind: KindLogGroup, Name: "lab", Parameters: map[string]any{
		"logGroupName":  "/ecs/lab",
		"retentionDays": 14,
	}}
	b := &ResourceSpec{Kind: KindLogGroup, Name: "lab", Parameters: map[string]any{
		"retentionDays": 14,
		"logGroupName":  "/ecs/lab",
	}}

	// Parameter map order must not affect the digest.
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestResourceSpec_HashChangesWithParameters(t *testing.T) {
	a := &ResourceSpec{Kind: KindLogGroup, Name: "lab", Parameters: map[string]any{"retentionDays": 14}}
	b := &ResourceSpec{Kind: KindLogGroup, Name: "lab", Parameters: map[string]any{"retentionDays": 30}}
	c := &ResourceSpec{Kind: KindLogGroup, Name: "other", Parameters: map[string]any{"retentionDays": 14}}

	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestResourceSpec_ParamHelpers(t *testing.T) {
	s := &ResourceSpec{Parameters: map[string]any{
		"image": "repo/app:latest",
		"cpu":   256,
		// JSON round-trips numbers as float64.
		"memory": float64(512),
	}}

	assert.Equal(t, "repo/app:latest", s.ParamString("image", ""))
	assert.Equal(t, "fallback", s.ParamString("missing", "fallback"))
	assert.Equal(t, 256, s.ParamInt("cpu", 0))
	assert.Equal(t, 512, s.ParamInt("memory", 0))
	assert.Equal(t, 1, s.ParamInt("missing", 1))
}

func TestTopology_BaseSpecs(t *testing.T) {
	topo := Topology{
		Name:          "lab",
		Region:        "us-west-2",
		AccountID:     "123456789012",
		ContainerPort: 8080,
		CPU:           256,
		Memory:        512,
	}

	specs := topo.BaseSpecs()
	require.Len(t, specs, 5)

	byID := make(map[string]*ResourceSpec, len(specs))
	for _, s := range specs {
		byID[s.ID()] = s
	}

	compute := byID["compute-service.lab"]
	require.NotNil(t, compute)
	assert.ElementsMatch(t, []string{
		"network.lab",
		"log-group.lab",
		"iam-role.lab-task-execution",
		"registry.lab",
	}, compute.DependsOn)
	assert.Equal(t, "123456789012.dkr.ecr.us-west-2.amazonaws.com/lab:latest", compute.ParamString("image", ""))
	assert.Equal(t, 1, compute.ParamInt("desiredCount", 0))

	logs := byID["log-group.lab"]
	require.NotNil(t, logs)
	assert.Equal(t, "/ecs/lab", logs.ParamString("logGroupName", ""))
	assert.Equal(t, 14, logs.ParamInt("retentionDays", 0))
}

func TestTopology_MLSpecs(t *testing.T) {
	topo := Topology{Name: "lab", Region: "us-west-2", AccountID: "123456789012"}

	specs := topo.MLSpecs()
	require.Len(t, specs, 2)

	byID := make(map[string]*ResourceSpec, len(specs))
	for _, s := range specs {
		byID[s.ID()] = s
	}

	bucket := byID["storage-bucket.lab-ml"]
	require.NotNil(t, bucket)
	assert.Equal(t, "lab-123456789012-ml", bucket.ParamString("bucket", ""))

	role := byID["iam-role.lab-sagemaker-exec"]
	require.NotNil(t, role)
	assert.Equal(t, "sagemaker.amazonaws.com", role.ParamString("trustService", ""))
}

func TestTopology_EndpointSpec(t *testing.T) {
	topo := Topology{Name: "lab", Region: "us-west-2", AccountID: "123456789012"}

	s := topo.EndpointSpec("s3://lab-123456789012-ml/models/lab/1/model.pkl", "arn:aws:iam::123456789012:role/lab-sagemaker-exec", "img")
	assert.Equal(t, "model-endpoint.lab-ep", s.ID())
	assert.Equal(t, []string{"iam-role.lab-sagemaker-exec"}, s.DependsOn)
	assert.Equal(t, "ml.m5.large", s.ParamString("instanceType", ""))
}

func TestTopology_DynamicSpecs(t *testing.T) {
	topo := Topology{Name: "lab", Region: "us-west-2", AccountID: "123456789012"}
	st := NewStack("lab", "us-west-2")

	st.SetResource(&ResourceState{SpecID: "model-endpoint.lab-ep", Kind: KindModelEndpoint, Name: "lab-ep", Status: StatusReady})
	st.SetResource(&ResourceState{SpecID: "training-job.lab-train-1", Kind: KindTrainingJob, Name: "lab-train-1", Status: StatusReady})
	st.SetResource(&ResourceState{SpecID: "training-job.lab-train-0", Kind: KindTrainingJob, Name: "lab-train-0", Status: StatusAbsent})
	st.SetResource(&ResourceState{SpecID: "network.lab", Kind: KindNetwork, Name: "lab", Status: StatusReady})

	specs := topo.DynamicSpecs(st)
	require.Len(t, specs, 2, "only live pipeline resources are reconstructed")
	for _, s := range specs {
		assert.Contains(t, s.DependsOn, topo.TrainingRoleID())
	}
}

func TestStack_MaxModelVersion(t *testing.T) {
	st := NewStack("lab", "us-west-2")
	assert.Equal(t, 0, st.MaxModelVersion())

	st.Runs = append(st.Runs,
		&TrainingRun{ID: "a", ModelVersion: 1},
		&TrainingRun{ID: "b", ModelVersion: 3},
		&TrainingRun{ID: "c"}, // failed before publishing
	)
	assert.Equal(t, 3, st.MaxModelVersion())
}
