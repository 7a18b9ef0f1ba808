// Package memory implements an in-process provider that tracks resources in
// a map. It backs tests and dry runs, and its failure knobs let callers
// exercise orchestrator error paths without a cloud account.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

type record struct {
	externalID string
	outputs    map[string]any
}

// Provider stores resources in memory. The zero value is not usable; use New.
type Provider struct {
	mu        sync.Mutex
	resources map[string]*record

	ensureCalls   map[string]int
	teardownCalls map[string]int

	// FailEnsure makes Ensure fail for the given spec IDs.
	FailEnsure map[string]error
	// FailTeardown makes Teardown fail for the given spec IDs.
	FailTeardown map[string]error
	// NotReadyPolls makes Health report not ready the given number of times
	// per spec ID before reporting ready.
	NotReadyPolls map[string]int
}

// New returns an empty in-memory provider.
func New() *Provider {
	return &Provider{
		resources:     make(map[string]*record),
		ensureCalls:   make(map[string]int),
		teardownCalls: make(map[string]int),
		FailEnsure:    make(map[string]error),
		FailTeardown:  make(map[string]error),
		NotReadyPolls: make(map[string]int),
	}
}

// Ensure creates the resource if absent and adopts it if present.
func (p *Provider) Ensure(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) (*provider.EnsureResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := spec.ID()
	p.ensureCalls[id]++
	if err := p.FailEnsure[id]; err != nil {
		return nil, err
	}

	rec, ok := p.resources[id]
	if !ok {
		rec = &record{
			externalID: fmt.Sprintf("mem-%s-%s", spec.Kind, spec.Name),
			outputs:    map[string]any{},
		}
		p.resources[id] = rec
	}
	for k, v := range spec.Parameters {
		rec.outputs[k] = v
	}
	return &provider.EnsureResult{ExternalID: rec.externalID, Outputs: rec.outputs}, nil
}

// Teardown removes the resource; removing an absent resource succeeds.
func (p *Provider) Teardown(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := spec.ID()
	p.teardownCalls[id]++
	if err := p.FailTeardown[id]; err != nil {
		return err
	}
	delete(p.resources, id)
	return nil
}

// Health reports ready once the resource exists and any configured
// not-ready polls are exhausted.
func (p *Provider) Health(ctx context.Context, spec *stack.ResourceSpec, externalID string) (provider.Health, error) {
	if err := ctx.Err(); err != nil {
		return provider.HealthUnknown, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := spec.ID()
	if _, ok := p.resources[id]; !ok {
		return provider.HealthNotReady, nil
	}
	if p.NotReadyPolls[id] > 0 {
		p.NotReadyPolls[id]--
		return provider.HealthNotReady, nil
	}
	return provider.HealthReady, nil
}

// Exists reports whether a resource is currently stored.
func (p *Provider) Exists(specID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.resources[specID]
	return ok
}

// EnsureCalls returns how many times Ensure ran for the spec ID.
func (p *Provider) EnsureCalls(specID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureCalls[specID]
}

// TeardownCalls returns how many times Teardown ran for the spec ID.
func (p *Provider) TeardownCalls(specID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.teardownCalls[specID]
}
