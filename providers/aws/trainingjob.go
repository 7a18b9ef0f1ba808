package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// xgboostAccountByRegion maps regions to the account hosting the managed
// XGBoost training image. Regions outside the map fall back to us-west-2.
var xgboostAccountByRegion = map[string]string{
	"ap-northeast-2": "382416733822",
	"us-east-1":      "811284229777",
	"us-west-2":      "433757028032",
	"eu-west-1":      "685385470294",
}

// XGBoostImage returns the managed XGBoost training image URI for a region.
func XGBoostImage(region string) string {
	account, ok := xgboostAccountByRegion[region]
	if !ok {
		account = xgboostAccountByRegion["us-west-2"]
		region = "us-west-2"
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/xgboost:latest", account, region)
}

// ensureTrainingJob adopts a training job by name. Jobs are submitted by the
// pipeline; as a graph resource this only verifies the job exists, so a
// resumed `up` does not resubmit work.
func (p *Provider) ensureTrainingJob(ctx context.Context, spec *stack.ResourceSpec) (*provider.EnsureResult, error) {
	out, err := p.sagemakerClient.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(spec.Name),
	})
	if err != nil {
		return nil, classify(spec.ID(), fmt.Errorf("describe training job: %w", err))
	}
	outputs := map[string]any{"status": string(out.TrainingJobStatus)}
	if out.ModelArtifacts != nil && out.ModelArtifacts.S3ModelArtifacts != nil {
		outputs["model_data_uri"] = *out.ModelArtifacts.S3ModelArtifacts
	}
	return &provider.EnsureResult{ExternalID: spec.Name, Outputs: outputs}, nil
}

// teardownTraining stops a job that is still in progress. Finished jobs are
// immutable records and need no cleanup.
func (p *Provider) teardownTrainingJob(ctx context.Context, spec *stack.ResourceSpec) error {
	out, err := p.sagemakerClient.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(spec.Name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify(spec.ID(), fmt.Errorf("describe training job: %w", err))
	}
	if out.TrainingJobStatus != smtypes.TrainingJobStatusInProgress {
		return nil
	}
	_, err = p.sagemakerClient.StopTrainingJob(ctx, &sagemaker.StopTrainingJobInput{
		TrainingJobName: aws.String(spec.Name),
	})
	if err != nil && !isNotFound(err) {
		return classify(spec.ID(), fmt.Errorf("stop training job: %w", err))
	}
	return nil
}
