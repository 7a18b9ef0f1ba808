package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlstack-io/mlstack/internal/engine"
	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
	"github.com/mlstack-io/mlstack/internal/state"
	"github.com/mlstack-io/mlstack/providers/memory"
)

func newTestOrchestrator(t *testing.T, prov provider.Provider) (*engine.Orchestrator, *state.Store) {
	t.Helper()
	store := state.NewStore(t.TempDir())
	registry := provider.NewRegistry()
	registry.RegisterAll(prov)

	o := engine.NewOrchestrator(registry, store)
	o.Retry = &engine.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	o.Poll = &engine.PollPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Deadline: time.Second}
	o.ResourceTimeout = 5 * time.Second
	return o, store
}

func chainSpecs() []*stack.ResourceSpec {
	// a <- b <- c, with d independent.
	return []*stack.ResourceSpec{
		{Kind: stack.KindNetwork, Name: "a"},
		{Kind: stack.KindLogGroup, Name: "b", DependsOn: []string{"network.a"}},
		{Kind: stack.KindComputeService, Name: "c", DependsOn: []string{"log-group.b"}},
		{Kind: stack.KindStorageBucket, Name: "d"},
	}
}

func TestOrchestratorUp_AllReady(t *testing.T) {
	prov := memory.New()
	o, store := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	result, err := o.Up(context.Background(), st, chainSpecs())
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Len(t, result.Ready, 4)

	for _, id := range []string{"network.a", "log-group.b", "compute-service.c", "storage-bucket.d"} {
		rs := st.Resource(id)
		require.NotNil(t, rs, id)
		assert.Equal(t, stack.StatusReady, rs.Status, id)
		assert.NotEmpty(t, rs.ExternalID, id)
		assert.NotEmpty(t, rs.SpecHash, id)
	}

	// Persisted state round-trips.
	loaded, err := store.Load("test", "us-west-2")
	require.NoError(t, err)
	assert.Equal(t, stack.StatusReady, loaded.Resource("network.a").Status)
}

func TestOrchestratorUp_Idempotent(t *testing.T) {
	prov := memory.New()
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")
	specs := chainSpecs()

	_, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)

	result, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)
	assert.True(t, result.OK())

	// Second pass short-circuits without touching the provider.
	assert.Equal(t, 1, prov.EnsureCalls("network.a"))
	assert.Equal(t, 1, prov.EnsureCalls("compute-service.c"))
}

func TestOrchestratorUp_SpecChangeReEnsures(t *testing.T) {
	prov := memory.New()
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	specs := []*stack.ResourceSpec{
		{Kind: stack.KindLogGroup, Name: "logs", Parameters: map[string]any{"retentionDays": 14}},
	}
	_, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)

	specs[0].Parameters["retentionDays"] = 30
	_, err = o.Up(context.Background(), st, specs)
	require.NoError(t, err)

	assert.Equal(t, 2, prov.EnsureCalls("log-group.logs"))
}

func TestOrchestratorUp_FailureHaltsDependentsOnly(t *testing.T) {
	prov := memory.New()
	prov.FailEnsure["log-group.b"] = engine.NewPermanentError("log-group.b", errors.New("quota exceeded"))

	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	result, err := o.Up(context.Background(), st, chainSpecs())
	require.NoError(t, err)
	assert.False(t, result.OK())

	// The independent branch still converged.
	assert.Contains(t, result.Ready, "network.a")
	assert.Contains(t, result.Ready, "storage-bucket.d")

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "log-group.b", result.Failed[0].SpecID)
	assert.Equal(t, []string{"compute-service.c"}, result.Skipped)

	assert.Equal(t, stack.StatusFailed, st.Resource("log-group.b").Status)
	assert.NotEmpty(t, st.Resource("log-group.b").LastError)
	assert.Equal(t, 0, prov.EnsureCalls("compute-service.c"))

	require.Error(t, result.Err())
}

func TestOrchestratorUp_ResumesAfterFailure(t *testing.T) {
	prov := memory.New()
	prov.FailEnsure["log-group.b"] = engine.NewPermanentError("log-group.b", errors.New("quota exceeded"))

	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")
	specs := chainSpecs()

	_, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)

	delete(prov.FailEnsure, "log-group.b")
	result, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)
	assert.True(t, result.OK())

	// The already-ready resources were not re-ensured.
	assert.Equal(t, 1, prov.EnsureCalls("network.a"))
	assert.Equal(t, 1, prov.EnsureCalls("storage-bucket.d"))
	assert.Equal(t, stack.StatusReady, st.Resource("compute-service.c").Status)
}

func TestOrchestratorUp_RetriesTransient(t *testing.T) {
	prov := memory.New()
	transient := engine.NewTransientError("network.a", errors.New("throttled"))
	prov.FailEnsure["network.a"] = transient

	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	result, err := o.Up(context.Background(), st, []*stack.ResourceSpec{{Kind: stack.KindNetwork, Name: "a"}})
	require.NoError(t, err)
	assert.False(t, result.OK())

	// One attempt plus one retry under the test policy.
	assert.Equal(t, 2, prov.EnsureCalls("network.a"))
}

func TestOrchestratorUp_WaitsForHealth(t *testing.T) {
	prov := memory.New()
	prov.NotReadyPolls["network.a"] = 2

	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	result, err := o.Up(context.Background(), st, []*stack.ResourceSpec{{Kind: stack.KindNetwork, Name: "a"}})
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, stack.StatusReady, st.Resource("network.a").Status)
}

func TestOrchestratorUp_ExternalDependencyNotReady(t *testing.T) {
	prov := memory.New()
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	specs := []*stack.ResourceSpec{
		{Kind: stack.KindModelEndpoint, Name: "ep", DependsOn: []string{"iam-role.exec"}},
	}
	result, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)

	var engineErr *engine.Error
	require.ErrorAs(t, result.Failed[0].Err, &engineErr)
	assert.Equal(t, engine.KindDependencyNotReady, engineErr.Kind)
	assert.Equal(t, 0, prov.EnsureCalls("model-endpoint.ep"))
}

func TestOrchestratorDown_ReverseAndIdempotent(t *testing.T) {
	prov := memory.New()
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")
	specs := chainSpecs()

	_, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)

	result, err := o.Down(context.Background(), st, specs)
	require.NoError(t, err)
	assert.True(t, result.OK())

	for _, id := range []string{"network.a", "log-group.b", "compute-service.c", "storage-bucket.d"} {
		assert.Equal(t, stack.StatusAbsent, st.Resource(id).Status, id)
		assert.False(t, prov.Exists(id), id)
	}

	// A second down touches nothing.
	result, err = o.Down(context.Background(), st, specs)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, 1, prov.TeardownCalls("network.a"))
}

func TestOrchestratorDown_StuckDependentBlocksPrerequisite(t *testing.T) {
	prov := memory.New()
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")
	specs := chainSpecs()

	_, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)

	prov.FailTeardown["log-group.b"] = engine.NewPermanentError("log-group.b", errors.New("still in use"))

	result, err := o.Down(context.Background(), st, specs)
	require.NoError(t, err)
	assert.False(t, result.OK())

	// c above b is gone, b failed, a below b is blocked; d is independent.
	assert.Contains(t, result.Ready, "compute-service.c")
	assert.Contains(t, result.Ready, "storage-bucket.d")
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "log-group.b", result.Failed[0].SpecID)
	assert.Equal(t, []string{"network.a"}, result.Skipped)

	assert.Equal(t, 0, prov.TeardownCalls("network.a"))
	assert.True(t, prov.Exists("network.a"))
}

func TestOrchestratorUp_CancelledContext(t *testing.T) {
	prov := memory.New()
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Up(ctx, st, chainSpecs())
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Equal(t, 0, prov.EnsureCalls("network.a"))
}

func TestOrchestratorUp_ReRecordsReplacedExternalID(t *testing.T) {
	prov := memory.New()
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")
	specs := []*stack.ResourceSpec{{Kind: stack.KindNetwork, Name: "a"}}

	// A stale record from before the resource was replaced out of band. The
	// empty spec hash forces a re-ensure.
	st.SetResource(&stack.ResourceState{
		SpecID:     "network.a",
		Kind:       stack.KindNetwork,
		Name:       "a",
		Status:     stack.StatusReady,
		ExternalID: "vpc-gone",
	})

	result, err := o.Up(context.Background(), st, specs)
	require.NoError(t, err)
	assert.True(t, result.OK())

	rs := st.Resource("network.a")
	require.NotNil(t, rs)
	assert.NotEqual(t, "vpc-gone", rs.ExternalID)
	assert.Equal(t, stack.StatusReady, rs.Status)
}

// blockingProvider holds every Ensure for a fixed delay and records whether
// the call's context was cancelled while it was in flight.
type blockingProvider struct {
	delay       time.Duration
	mu          sync.Mutex
	interrupted bool
	ensured     []string
}

func (p *blockingProvider) Ensure(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) (*provider.EnsureResult, error) {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		p.mu.Lock()
		p.interrupted = true
		p.mu.Unlock()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	p.ensured = append(p.ensured, spec.ID())
	p.mu.Unlock()
	return &provider.EnsureResult{ExternalID: "ext-" + spec.Name}, nil
}

func (p *blockingProvider) Teardown(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) error {
	return nil
}

func (p *blockingProvider) Health(ctx context.Context, spec *stack.ResourceSpec, externalID string) (provider.Health, error) {
	return provider.HealthReady, nil
}

func TestOrchestratorUp_CancelWaitsForInFlightCall(t *testing.T) {
	prov := &blockingProvider{delay: 150 * time.Millisecond}
	o, _ := newTestOrchestrator(t, prov)
	st := stack.NewStack("test", "us-west-2")

	specs := []*stack.ResourceSpec{
		{Kind: stack.KindNetwork, Name: "a"},
		{Kind: stack.KindLogGroup, Name: "b", DependsOn: []string{"network.a"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	result, err := o.Up(ctx, st, specs)
	require.NoError(t, err)

	// The in-flight call ran to completion despite the cancel.
	prov.mu.Lock()
	defer prov.mu.Unlock()
	assert.False(t, prov.interrupted, "provider call was interrupted mid-flight")
	assert.Equal(t, []string{"network.a"}, prov.ensured)

	// Its resource is Ready; the next node stopped at the boundary.
	assert.Equal(t, stack.StatusReady, st.Resource("network.a").Status)
	assert.Contains(t, result.Ready, "network.a")
	assert.Contains(t, result.Skipped, "log-group.b")
}
