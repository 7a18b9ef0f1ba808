package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/mlstack-io/mlstack/internal/engine"
)

// classify maps an AWS error onto the engine's error taxonomy so the
// orchestrator retries throttling and gives up on everything else.
func classify(resource string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return engine.NewTransientError(resource, err)
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		if isTransientCode(ae.ErrorCode()) {
			return engine.NewTransientError(resource, err)
		}
	}
	return engine.NewPermanentError(resource, err)
}

func isTransientCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "TooManyRequestsException",
		"RequestLimitExceeded", "RequestThrottled", "SlowDown",
		"ServiceUnavailable", "InternalError", "InternalFailure",
		"RequestTimeout", "RequestTimeoutException":
		return true
	}
	return false
}

// isNotFound reports whether the error means the resource does not exist.
func isNotFound(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	code := ae.ErrorCode()
	switch code {
	case "NoSuchEntity", "NotFound", "NoSuchBucket", "NoSuchKey",
		"LoadBalancerNotFound", "TargetGroupNotFound", "ListenerNotFound",
		"ClusterNotFoundException", "ServiceNotFoundException",
		"RepositoryNotFoundException", "ResourceNotFoundException",
		"InvalidVpcID.NotFound", "InvalidGroup.NotFound",
		"InvalidSubnetID.NotFound", "InvalidInternetGatewayID.NotFound",
		"InvalidRouteTableID.NotFound":
		return true
	}
	// SageMaker surfaces missing resources as ValidationException with a
	// "Could not find" message.
	if code == "ValidationException" && strings.Contains(ae.ErrorMessage(), "Could not find") {
		return true
	}
	return strings.HasSuffix(code, ".NotFound")
}

// isAlreadyExists reports whether a create failed because the resource is
// already there, which the ensure path treats as adoption.
func isAlreadyExists(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "EntityAlreadyExists", "BucketAlreadyOwnedByYou",
		"RepositoryAlreadyExistsException", "ResourceAlreadyExistsException",
		"DuplicateLoadBalancerName", "DuplicateTargetGroupName",
		"DuplicateListener", "InvalidGroup.Duplicate",
		"ResourceInUseException":
		return true
	}
	return false
}
