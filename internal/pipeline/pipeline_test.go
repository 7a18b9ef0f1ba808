package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlstack-io/mlstack/internal/engine"
	"github.com/mlstack-io/mlstack/internal/stack"
	"github.com/mlstack-io/mlstack/internal/state"
)

type fakeArtifacts struct {
	mu      sync.Mutex
	objects map[string]bool
	copies  [][2]string
	bodies  map[string][]byte
}

func newFakeArtifacts(existing ...string) *fakeArtifacts {
	f := &fakeArtifacts{objects: make(map[string]bool), bodies: make(map[string][]byte)}
	for _, uri := range existing {
		f.objects[uri] = true
	}
	return f
}

func (f *fakeArtifacts) Exists(ctx context.Context, uri string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[uri], nil
}

func (f *fakeArtifacts) Copy(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, [2]string{src, dst})
	f.objects[dst] = true
	return nil
}

func (f *fakeArtifacts) Put(ctx context.Context, uri string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[uri] = true
	f.bodies[uri] = body
	return nil
}

type fakeTrainer struct {
	submitFailures int
	submitted      []string
	result         *JobState
}

func (f *fakeTrainer) Submit(ctx context.Context, jobName, inputURI, outputURI string) error {
	if f.submitFailures > 0 {
		f.submitFailures--
		return engine.NewTransientError(jobName, errors.New("capacity unavailable"))
	}
	f.submitted = append(f.submitted, jobName)
	return nil
}

func (f *fakeTrainer) Status(ctx context.Context, jobName string) (*JobState, error) {
	return f.result, nil
}

type fakeDeployer struct {
	deployed  []string
	deployErr error
}

func (f *fakeDeployer) UpdateModel(ctx context.Context, endpointName, modelDataURI string, version int) error {
	if f.deployErr != nil {
		return f.deployErr
	}
	f.deployed = append(f.deployed, modelDataURI)
	return nil
}

func (f *fakeDeployer) Healthy(ctx context.Context, endpointName string) (bool, error) {
	return true, nil
}

func testTopology() *stack.Topology {
	return &stack.Topology{
		Name:          "lab",
		Region:        "us-west-2",
		AccountID:     "123456789012",
		ContainerPort: 8080,
		CPU:           256,
		Memory:        512,
	}
}

func newTestPipeline(t *testing.T, artifacts ArtifactStore, trainer Trainer, deployer Deployer) *Pipeline {
	t.Helper()
	p := New(state.NewStore(t.TempDir()), artifacts, trainer, deployer, testTopology())
	p.DataWait = 50 * time.Millisecond
	p.Poll = &engine.PollPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Deadline: time.Second}
	return p
}

const testInput = "s3://lab-123456789012-ml/data/train.csv"

func completedJob() *JobState {
	return &JobState{
		Status:       JobCompleted,
		ModelDataURI: "s3://lab-123456789012-ml/jobs/output/model.tar.gz",
	}
}

func TestPipelineRun_Success(t *testing.T) {
	artifacts := newFakeArtifacts(testInput)
	trainer := &fakeTrainer{result: completedJob()}
	deployer := &fakeDeployer{}
	p := newTestPipeline(t, artifacts, trainer, deployer)
	st := stack.NewStack("lab", "us-west-2")

	run, err := p.Run(context.Background(), st, testInput)
	require.NoError(t, err)

	assert.Equal(t, stack.RunSucceeded, run.Status)
	assert.Equal(t, 1, run.ModelVersion)
	assert.Equal(t, "s3://lab-123456789012-ml/models/lab/1/model.pkl", run.ModelURI)
	assert.False(t, run.FinishedAt.IsZero())

	// The artifact was published and the latest pointer moved.
	assert.True(t, artifacts.objects["s3://lab-123456789012-ml/models/lab/1/model.pkl"])
	assert.True(t, artifacts.objects["s3://lab-123456789012-ml/models/lab/latest/model.pkl"])

	// Metadata is well-formed JSON naming the version and source job.
	var meta struct {
		Version     int    `json:"version"`
		Job         string `json:"job"`
		PublishedAt string `json:"published_at"`
	}
	require.NoError(t, json.Unmarshal(artifacts.bodies["s3://lab-123456789012-ml/models/lab/latest/metadata.json"], &meta))
	assert.Equal(t, 1, meta.Version)
	assert.Equal(t, run.JobName, meta.Job)
	assert.NotEmpty(t, meta.PublishedAt)

	// The deployer received the versioned URI, not the raw job artifact.
	require.Len(t, deployer.deployed, 1)
	assert.Equal(t, run.ModelURI, deployer.deployed[0])

	// Endpoint and training job are recorded for teardown.
	ep := st.Resource("model-endpoint.lab-ep")
	require.NotNil(t, ep)
	assert.Equal(t, stack.StatusReady, ep.Status)
	require.NotNil(t, st.Resource("training-job."+run.JobName))

	require.Len(t, st.Runs, 1)
}

func TestPipelineRun_VersionsAreMonotonic(t *testing.T) {
	artifacts := newFakeArtifacts(testInput)
	trainer := &fakeTrainer{result: completedJob()}
	p := newTestPipeline(t, artifacts, trainer, &fakeDeployer{})
	st := stack.NewStack("lab", "us-west-2")

	first, err := p.Run(context.Background(), st, testInput)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), st, testInput)
	require.NoError(t, err)

	assert.Equal(t, 1, first.ModelVersion)
	assert.Equal(t, 2, second.ModelVersion)
	assert.Equal(t, "s3://lab-123456789012-ml/models/lab/2/model.pkl", second.ModelURI)
	assert.NotEqual(t, first.ID, second.ID)

	// Version 1 is still present after version 2 published.
	assert.True(t, artifacts.objects["s3://lab-123456789012-ml/models/lab/1/model.pkl"])
}

func TestPipelineRun_MissingInputFails(t *testing.T) {
	artifacts := newFakeArtifacts() // input never appears
	p := newTestPipeline(t, artifacts, &fakeTrainer{result: completedJob()}, &fakeDeployer{})
	st := stack.NewStack("lab", "us-west-2")

	run, err := p.Run(context.Background(), st, testInput)
	require.Error(t, err)
	assert.Equal(t, stack.RunFailed, run.Status)
	assert.Contains(t, run.Reason, "not available")
	assert.Empty(t, run.JobName)
}

func TestPipelineRun_SubmitRetries(t *testing.T) {
	artifacts := newFakeArtifacts(testInput)
	trainer := &fakeTrainer{submitFailures: 2, result: completedJob()}
	p := newTestPipeline(t, artifacts, trainer, &fakeDeployer{})
	p.SubmitRetries = 2
	st := stack.NewStack("lab", "us-west-2")

	run, err := p.Run(context.Background(), st, testInput)
	require.NoError(t, err)
	assert.Equal(t, stack.RunSucceeded, run.Status)
	assert.Equal(t, 3, run.AttemptCount)
	require.Len(t, trainer.submitted, 1)
}

func TestPipelineRun_SubmitGivesUp(t *testing.T) {
	artifacts := newFakeArtifacts(testInput)
	trainer := &fakeTrainer{submitFailures: 10, result: completedJob()}
	p := newTestPipeline(t, artifacts, trainer, &fakeDeployer{})
	p.SubmitRetries = 2
	st := stack.NewStack("lab", "us-west-2")

	run, err := p.Run(context.Background(), st, testInput)
	require.Error(t, err)
	assert.Equal(t, stack.RunFailed, run.Status)
	assert.Equal(t, 3, run.AttemptCount)
	assert.Empty(t, trainer.submitted)
}

func TestPipelineRun_TrainingFailureRecordsReason(t *testing.T) {
	artifacts := newFakeArtifacts(testInput)
	trainer := &fakeTrainer{result: &JobState{Status: JobFailed, Reason: "input contained no rows"}}
	p := newTestPipeline(t, artifacts, trainer, &fakeDeployer{})
	st := stack.NewStack("lab", "us-west-2")

	run, err := p.Run(context.Background(), st, testInput)
	require.Error(t, err)
	assert.Equal(t, stack.RunFailed, run.Status)
	assert.Contains(t, run.Reason, "input contained no rows")
	assert.Equal(t, 0, run.ModelVersion)
}

func TestPipelineRun_DeployFailureDoesNotRollBack(t *testing.T) {
	artifacts := newFakeArtifacts(testInput)
	trainer := &fakeTrainer{result: completedJob()}
	deployer := &fakeDeployer{deployErr: engine.NewPermanentError("lab-ep", errors.New("image pull failed"))}
	p := newTestPipeline(t, artifacts, trainer, deployer)
	st := stack.NewStack("lab", "us-west-2")

	run, err := p.Run(context.Background(), st, testInput)
	require.Error(t, err)
	assert.Equal(t, stack.RunFailed, run.Status)

	// The version was published before the deploy and stays published.
	assert.Equal(t, 1, run.ModelVersion)
	assert.True(t, artifacts.objects["s3://lab-123456789012-ml/models/lab/1/model.pkl"])

	// No endpoint was recorded.
	assert.Nil(t, st.Resource("model-endpoint.lab-ep"))
}
