package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// ensureBucket creates the model artifact bucket. Bucket names are global,
// so owning the name already counts as success.
func (p *Provider) ensureBucket(ctx context.Context, spec *stack.ResourceSpec) (*provider.EnsureResult, error) {
	bucket := spec.ParamString("bucket", spec.Name)

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}
	_, err := p.s3Client.CreateBucket(ctx, input)
	if err != nil && !isAlreadyExists(err) {
		return nil, classify(spec.ID(), fmt.Errorf("create bucket: %w", err))
	}

	return &provider.EnsureResult{
		ExternalID: bucket,
		Outputs: map[string]any{
			"bucket": bucket,
			"arn":    fmt.Sprintf("arn:aws:s3:::%s", bucket),
		},
	}, nil
}

// teardownBucket empties the bucket page by page, then deletes it.
func (p *Provider) teardownBucket(ctx context.Context, spec *stack.ResourceSpec) error {
	bucket := spec.ParamString("bucket", spec.Name)

	var token *string
	for {
		listed, err := p.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			ContinuationToken: token,
		})
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return classify(spec.ID(), fmt.Errorf("list objects: %w", err))
		}
		if len(listed.Contents) > 0 {
			objects := make([]s3types.ObjectIdentifier, 0, len(listed.Contents))
			for _, obj := range listed.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = p.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return classify(spec.ID(), fmt.Errorf("delete objects: %w", err))
			}
		}
		if listed.IsTruncated == nil || !*listed.IsTruncated {
			break
		}
		token = listed.NextContinuationToken
	}

	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !isNotFound(err) {
		return classify(spec.ID(), fmt.Errorf("delete bucket: %w", err))
	}
	return nil
}
