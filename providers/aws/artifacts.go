package aws

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArtifactStore reads and writes model artifacts addressed by s3:// URIs.
type ArtifactStore struct {
	client *s3.Client
}

// Artifacts returns the provider's artifact store.
func (p *Provider) Artifacts() *ArtifactStore {
	return &ArtifactStore{client: p.s3Client}
}

// Exists reports whether the object behind the URI is present.
func (s *ArtifactStore) Exists(ctx context.Context, uri string) (bool, error) {
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify(uri, fmt.Errorf("head object: %w", err))
	}
	return true, nil
}

// Copy copies one object to another location, server side.
func (s *ArtifactStore) Copy(ctx context.Context, srcURI, dstURI string) error {
	srcBucket, srcKey, err := splitS3URI(srcURI)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := splitS3URI(dstURI)
	if err != nil {
		return err
	}
	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	if err != nil {
		return classify(dstURI, fmt.Errorf("copy object: %w", err))
	}
	return nil
}

// Put writes a small object such as a metadata document.
func (s *ArtifactStore) Put(ctx context.Context, uri string, body []byte) error {
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return classify(uri, fmt.Errorf("put object: %w", err))
	}
	return nil
}

func splitS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 uri: %s", uri)
	}
	return bucket, key, nil
}
