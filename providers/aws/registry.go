package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// ensureRepository creates the image repository, adopting an existing one.
func (p *Provider) ensureRepository(ctx context.Context, spec *stack.ResourceSpec) (*provider.EnsureResult, error) {
	repoName := spec.ParamString("repositoryName", spec.Name)

	created, err := p.ecrClient.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repoName),
	})
	if err == nil {
		repo := created.Repository
		return &provider.EnsureResult{
			ExternalID: *repo.RepositoryArn,
			Outputs: map[string]any{
				"repository_name": repoName,
				"repository_uri":  *repo.RepositoryUri,
			},
		}, nil
	}
	if !isAlreadyExists(err) {
		return nil, classify(spec.ID(), fmt.Errorf("create repository: %w", err))
	}

	out, err := p.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repoName},
	})
	if err != nil {
		return nil, classify(spec.ID(), fmt.Errorf("describe repository: %w", err))
	}
	repo := out.Repositories[0]
	return &provider.EnsureResult{
		ExternalID: *repo.RepositoryArn,
		Outputs: map[string]any{
			"repository_name": repoName,
			"repository_uri":  *repo.RepositoryUri,
		},
	}, nil
}

// teardownRepository force-deletes the repository including its images.
func (p *Provider) teardownRepository(ctx context.Context, spec *stack.ResourceSpec) error {
	repoName := spec.ParamString("repositoryName", spec.Name)
	_, err := p.ecrClient.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: aws.String(repoName),
		Force:          true,
	})
	if err != nil && !isNotFound(err) {
		return classify(spec.ID(), fmt.Errorf("delete repository: %w", err))
	}
	return nil
}
