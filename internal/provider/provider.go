// Package provider defines the contract between the lifecycle engine and the
// capability-polymorphic resource providers that do the actual provisioning.
package provider

import (
	"context"

	"github.com/mlstack-io/mlstack/internal/stack"
)

// Health is the observed readiness of an external resource.
type Health int

const (
	HealthUnknown Health = iota
	HealthNotReady
	HealthReady
)

func (h Health) String() string {
	switch h {
	case HealthReady:
		return "ready"
	case HealthNotReady:
		return "not-ready"
	default:
		return "unknown"
	}
}

// EnsureResult is what a provider reports back after converging a resource.
type EnsureResult struct {
	// ExternalID is the provider-assigned identifier. Ensure must converge to
	// the same ExternalID when called repeatedly with an unchanged spec.
	ExternalID string

	// Outputs carries resource attributes worth publishing (addresses, ARNs).
	Outputs map[string]any
}

// Provider manages one or more resource kinds against an external API.
//
// Ensure is an idempotent create-or-adopt: on an ambiguous "already exists"
// response it must look up and adopt the existing identifier rather than
// fail. Teardown must treat "not found" as success. Health is polled by the
// orchestrator before dependents are released.
type Provider interface {
	Ensure(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) (*EnsureResult, error)
	Teardown(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) error
	Health(ctx context.Context, spec *stack.ResourceSpec, externalID string) (Health, error)
}
