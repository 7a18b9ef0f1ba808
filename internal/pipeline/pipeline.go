// Package pipeline drives the train, publish, deploy flow for a stack's
// model: wait for input data, run a training job, publish the resulting
// artifact under a monotonically increasing version, and roll the serving
// endpoint to it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mlstack-io/mlstack/internal/engine"
	"github.com/mlstack-io/mlstack/internal/logging"
	"github.com/mlstack-io/mlstack/internal/stack"
	"github.com/mlstack-io/mlstack/internal/state"
)

// DefaultSubmitRetries bounds re-submission of a training job that could not
// be accepted by the backend.
const DefaultSubmitRetries = 2

// DefaultDataWait bounds how long a run waits for its input data to appear
// before failing.
const DefaultDataWait = 2 * time.Minute

// JobStatus is the lifecycle state of a submitted training job.
type JobStatus string

const (
	JobInProgress JobStatus = "InProgress"
	JobCompleted  JobStatus = "Completed"
	JobFailed     JobStatus = "Failed"
	JobStopped    JobStatus = "Stopped"
)

// JobState is a point-in-time view of a training job.
type JobState struct {
	Status       JobStatus
	ModelDataURI string // artifact location, set once Completed
	Reason       string // failure reason, set once Failed or Stopped
}

// Trainer submits training jobs and reports their progress.
type Trainer interface {
	Submit(ctx context.Context, jobName, inputURI, outputURI string) error
	Status(ctx context.Context, jobName string) (*JobState, error)
}

// ArtifactStore reads and writes model artifacts in the stack's bucket.
type ArtifactStore interface {
	Exists(ctx context.Context, uri string) (bool, error)
	Copy(ctx context.Context, srcURI, dstURI string) error
	Put(ctx context.Context, uri string, body []byte) error
}

// Deployer rolls the serving endpoint to a published model and reports its
// health.
type Deployer interface {
	UpdateModel(ctx context.Context, endpointName, modelDataURI string, version int) error
	Healthy(ctx context.Context, endpointName string) (bool, error)
}

// Pipeline executes training runs against a provisioned stack. There is no
// automatic rollback: a failed deploy leaves the previous model serving and
// the run marked failed.
type Pipeline struct {
	store     *state.Store
	artifacts ArtifactStore
	trainer   Trainer
	deployer  Deployer
	topo      *stack.Topology

	// SubmitRetries is how many times a rejected submission is retried.
	SubmitRetries int

	// DataWait bounds the wait for input data.
	DataWait time.Duration

	// Poll bounds training job and endpoint health polling.
	Poll *engine.PollPolicy
}

// New returns a pipeline with default policies.
func New(store *state.Store, artifacts ArtifactStore, trainer Trainer, deployer Deployer, topo *stack.Topology) *Pipeline {
	return &Pipeline{
		store:         store,
		artifacts:     artifacts,
		trainer:       trainer,
		deployer:      deployer,
		topo:          topo,
		SubmitRetries: DefaultSubmitRetries,
		DataWait:      DefaultDataWait,
		Poll:          engine.DefaultPollPolicy(),
	}
}

// Run executes one training run end to end and records every stage
// transition in the stack state, so an interrupted run is visible afterwards.
// The returned run is always recorded, alongside any error.
func (p *Pipeline) Run(ctx context.Context, st *stack.Stack, inputURI string) (*stack.TrainingRun, error) {
	run := &stack.TrainingRun{
		ID:           uuid.NewString(),
		InputDataURI: inputURI,
		Status:       stack.RunPending,
		StartedAt:    time.Now().UTC(),
	}
	st.Runs = append(st.Runs, run)
	p.save(st)

	log := logging.With("pipeline")
	log.Info().Str("run", run.ID).Str("input", inputURI).Msg("run started")

	if err := p.awaitInput(ctx, st, run); err != nil {
		return run, p.fail(st, run, err)
	}
	if err := p.train(ctx, st, run); err != nil {
		return run, p.fail(st, run, err)
	}
	if err := p.publish(ctx, st, run); err != nil {
		return run, p.fail(st, run, err)
	}
	if err := p.deploy(ctx, st, run); err != nil {
		return run, p.fail(st, run, err)
	}

	run.Status = stack.RunSucceeded
	run.FinishedAt = time.Now().UTC()
	p.save(st)
	log.Info().Str("run", run.ID).Int("version", run.ModelVersion).Str("model", run.ModelURI).Msg("run succeeded")
	return run, nil
}

// awaitInput waits a bounded time for the input object to appear.
func (p *Pipeline) awaitInput(ctx context.Context, st *stack.Stack, run *stack.TrainingRun) error {
	run.Status = stack.RunUploading
	p.save(st)

	poll := &engine.PollPolicy{
		BaseDelay: 2 * time.Second,
		MaxDelay:  15 * time.Second,
		Deadline:  p.DataWait,
	}
	err := engine.PollUntil(ctx, poll, func(ctx context.Context) (bool, error) {
		return p.artifacts.Exists(ctx, run.InputDataURI)
	})
	if err != nil {
		return fmt.Errorf("input data %s not available: %w", run.InputDataURI, err)
	}
	return nil
}

// train submits the job, retrying rejected submissions, and polls it to a
// terminal status.
func (p *Pipeline) train(ctx context.Context, st *stack.Stack, run *stack.TrainingRun) error {
	run.Status = stack.RunTraining
	run.JobName = fmt.Sprintf("%s-train-%s", p.topo.Name, shortID(run.ID))
	p.save(st)

	outputURI := fmt.Sprintf("s3://%s/jobs", p.topo.BucketName())

	retry := &engine.RetryPolicy{
		MaxRetries: p.SubmitRetries,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
	err := engine.RetryWithBackoff(ctx, retry, func() error {
		run.AttemptCount++
		p.save(st)
		return p.trainer.Submit(ctx, run.JobName, run.InputDataURI, outputURI)
	}, engine.IsRetryable)
	if err != nil {
		return fmt.Errorf("submit training job %s: %w", run.JobName, err)
	}

	var final *JobState
	err = engine.PollUntil(ctx, p.Poll, func(ctx context.Context) (bool, error) {
		js, err := p.trainer.Status(ctx, run.JobName)
		if err != nil {
			return false, err
		}
		if js.Status == JobInProgress {
			return false, nil
		}
		final = js
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("training job %s: %w", run.JobName, err)
	}
	if final.Status != JobCompleted {
		return fmt.Errorf("training job %s ended %s: %s", run.JobName, final.Status, final.Reason)
	}

	run.ModelURI = final.ModelDataURI
	st.SetResource(&stack.ResourceState{
		SpecID:     fmt.Sprintf("%s.%s", stack.KindTrainingJob, run.JobName),
		Kind:       stack.KindTrainingJob,
		Name:       run.JobName,
		Status:     stack.StatusReady,
		ExternalID: run.JobName,
		Outputs:    map[string]any{"model_data_uri": run.ModelURI},
	})
	p.save(st)
	return nil
}

// modelMetadata is written next to the latest pointer so consumers can tell
// which version and job it came from.
type modelMetadata struct {
	Version     int    `json:"version"`
	Job         string `json:"job"`
	PublishedAt string `json:"published_at"`
}

// publish copies the job artifact to the next version slot and moves the
// latest pointer. Versions only ever increase, so a concurrent reader of an
// older version is never disturbed.
func (p *Pipeline) publish(ctx context.Context, st *stack.Stack, run *stack.TrainingRun) error {
	run.Status = stack.RunPublishing
	p.save(st)

	version := st.MaxModelVersion() + 1
	bucket := p.topo.BucketName()
	versioned := fmt.Sprintf("s3://%s/models/%s/%d/model.pkl", bucket, p.topo.Name, version)
	latest := fmt.Sprintf("s3://%s/models/%s/latest/model.pkl", bucket, p.topo.Name)

	if err := p.artifacts.Copy(ctx, run.ModelURI, versioned); err != nil {
		return fmt.Errorf("publish model version %d: %w", version, err)
	}
	if err := p.artifacts.Copy(ctx, versioned, latest); err != nil {
		return fmt.Errorf("update latest pointer: %w", err)
	}

	meta, err := json.Marshal(modelMetadata{
		Version:     version,
		Job:         run.JobName,
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode model metadata: %w", err)
	}
	metaURI := fmt.Sprintf("s3://%s/models/%s/latest/metadata.json", bucket, p.topo.Name)
	if err := p.artifacts.Put(ctx, metaURI, meta); err != nil {
		return fmt.Errorf("write model metadata: %w", err)
	}

	run.ModelVersion = version
	run.ModelURI = versioned
	p.save(st)
	return nil
}

// deploy rolls the endpoint to the published model and waits for it to
// report healthy. The endpoint is recorded in stack state so teardown
// removes it.
func (p *Pipeline) deploy(ctx context.Context, st *stack.Stack, run *stack.TrainingRun) error {
	run.Status = stack.RunDeploying
	p.save(st)

	endpoint := fmt.Sprintf("%s-ep", p.topo.Name)
	if err := p.deployer.UpdateModel(ctx, endpoint, run.ModelURI, run.ModelVersion); err != nil {
		return fmt.Errorf("deploy model to %s: %w", endpoint, err)
	}

	err := engine.PollUntil(ctx, p.Poll, func(ctx context.Context) (bool, error) {
		return p.deployer.Healthy(ctx, endpoint)
	})
	if err != nil {
		return fmt.Errorf("endpoint %s did not become healthy: %w", endpoint, err)
	}

	st.SetResource(&stack.ResourceState{
		SpecID:     p.topo.EndpointID(),
		Kind:       stack.KindModelEndpoint,
		Name:       endpoint,
		Status:     stack.StatusReady,
		ExternalID: endpoint,
		Outputs:    map[string]any{"model_uri": run.ModelURI, "model_version": run.ModelVersion},
	})
	p.save(st)
	return nil
}

func (p *Pipeline) fail(st *stack.Stack, run *stack.TrainingRun, err error) error {
	run.Status = stack.RunFailed
	run.Reason = err.Error()
	run.FinishedAt = time.Now().UTC()
	p.save(st)
	log := logging.With("pipeline")
	log.Error().Str("run", run.ID).Err(err).Msg("run failed")
	return err
}

func (p *Pipeline) save(st *stack.Stack) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(st); err != nil {
		logging.Warn("failed to persist state", "stack", st.Name, "error", err)
	}
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
