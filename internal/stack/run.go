package stack

import "time"

// RunStatus is the state of one training pipeline run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunUploading  RunStatus = "uploading"
	RunTraining   RunStatus = "training"
	RunPublishing RunStatus = "publishing"
	RunDeploying  RunStatus = "deploying"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// TrainingRun tracks one execution of the train -> publish -> deploy
// pipeline. Terminal on Succeeded, or on Failed after retry exhaustion.
type TrainingRun struct {
	ID           string    `json:"id"`
	InputDataURI string    `json:"inputDataUri"`
	Status       RunStatus `json:"status"`
	JobName      string    `json:"jobName,omitempty"`
	ModelURI     string    `json:"modelUri,omitempty"`
	ModelVersion int       `json:"modelVersion,omitempty"`
	AttemptCount int       `json:"attemptCount"`
	Reason       string    `json:"reason,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt,omitzero"`
}
