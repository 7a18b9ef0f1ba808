package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/mlstack-io/mlstack/internal/pipeline"
)

// Trainer runs XGBoost training jobs on SageMaker.
type Trainer struct {
	client  *sagemaker.Client
	region  string
	roleArn string
}

// Trainer returns a trainer submitting jobs under the given execution role.
func (p *Provider) Trainer(roleArn string) *Trainer {
	return &Trainer{client: p.sagemakerClient, region: p.region, roleArn: roleArn}
}

// Submit starts a training job reading CSV data from inputURI and writing
// artifacts under outputURI.
func (t *Trainer) Submit(ctx context.Context, jobName, inputURI, outputURI string) error {
	_, err := t.client.CreateTrainingJob(ctx, &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(jobName),
		RoleArn:         aws.String(t.roleArn),
		AlgorithmSpecification: &smtypes.AlgorithmSpecification{
			TrainingImage:     aws.String(XGBoostImage(t.region)),
			TrainingInputMode: smtypes.TrainingInputModeFile,
		},
		InputDataConfig: []smtypes.Channel{{
			ChannelName: aws.String("train"),
			ContentType: aws.String("text/csv"),
			DataSource: &smtypes.DataSource{
				S3DataSource: &smtypes.S3DataSource{
					S3DataType:             smtypes.S3DataTypeS3Prefix,
					S3Uri:                  aws.String(inputURI),
					S3DataDistributionType: smtypes.S3DataDistributionFullyReplicated,
				},
			},
		}},
		OutputDataConfig: &smtypes.OutputDataConfig{
			S3OutputPath: aws.String(outputURI),
		},
		ResourceConfig: &smtypes.ResourceConfig{
			InstanceType:   smtypes.TrainingInstanceTypeMlM5Large,
			InstanceCount:  aws.Int32(1),
			VolumeSizeInGB: aws.Int32(30),
		},
		StoppingCondition: &smtypes.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(3600),
		},
		HyperParameters: map[string]string{
			"objective": "reg:squarederror",
			"num_round": "50",
		},
	})
	if err != nil {
		return classify(jobName, fmt.Errorf("create training job: %w", err))
	}
	return nil
}

// Status reports the job's current lifecycle state.
func (t *Trainer) Status(ctx context.Context, jobName string) (*pipeline.JobState, error) {
	out, err := t.client.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(jobName),
	})
	if err != nil {
		return nil, classify(jobName, fmt.Errorf("describe training job: %w", err))
	}

	js := &pipeline.JobState{}
	switch out.TrainingJobStatus {
	case smtypes.TrainingJobStatusCompleted:
		js.Status = pipeline.JobCompleted
		if out.ModelArtifacts != nil && out.ModelArtifacts.S3ModelArtifacts != nil {
			js.ModelDataURI = *out.ModelArtifacts.S3ModelArtifacts
		}
	case smtypes.TrainingJobStatusFailed:
		js.Status = pipeline.JobFailed
		if out.FailureReason != nil {
			js.Reason = *out.FailureReason
		}
	case smtypes.TrainingJobStatusStopped, smtypes.TrainingJobStatusStopping:
		js.Status = pipeline.JobStopped
	default:
		js.Status = pipeline.JobInProgress
	}
	return js, nil
}
