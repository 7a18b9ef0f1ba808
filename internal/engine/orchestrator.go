package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mlstack-io/mlstack/internal/logging"
	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
	"github.com/mlstack-io/mlstack/internal/state"
)

const defaultParallelism = 4

// Orchestrator drives resource lifecycles over the dependency graph: ensure
// in forward topological order for up, teardown in reverse order for down.
type Orchestrator struct {
	registry *provider.Registry
	store    *state.Store

	// Parallelism bounds concurrently provisioned independent branches.
	Parallelism int

	// Retry applies to individual provider calls.
	Retry *RetryPolicy

	// Poll bounds health probing before a resource is declared failed.
	Poll *PollPolicy

	// ResourceTimeout is the orchestrator-side deadline per resource.
	ResourceTimeout time.Duration
}

// NewOrchestrator returns an orchestrator with default policies.
func NewOrchestrator(registry *provider.Registry, store *state.Store) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		store:           store,
		Parallelism:     defaultParallelism,
		Retry:           DefaultRetryPolicy(),
		Poll:            DefaultPollPolicy(),
		ResourceTimeout: DefaultResourceTimeout,
	}
}

// Failure records one resource that could not be converged.
type Failure struct {
	SpecID string
	Err    error
}

// Result summarizes one up or down pass over a graph.
type Result struct {
	Ready   []string  // reached Ready (up) or Absent (down)
	Skipped []string  // blocked behind a failed prerequisite or dependent
	Failed  []Failure // failed outright
}

// OK reports whether every resource converged.
func (r *Result) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// Err aggregates the failures, or returns nil when the pass succeeded.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failed)+len(r.Skipped))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	for _, id := range r.Skipped {
		errs = append(errs, &Error{Kind: KindDependencyNotReady, Resource: id, Message: "skipped"})
	}
	return fmt.Errorf("%d resource(s) did not converge: %w", len(errs), errors.Join(errs...))
}

// Up builds and validates the graph, then ensures every resource in forward
// topological order. Resources already Ready with an unchanged spec are
// skipped without a provider call. A failure halts the failed resource's
// dependents but independent branches continue. State is persisted after
// every transition so a later invocation resumes instead of restarting.
func (o *Orchestrator) Up(ctx context.Context, st *stack.Stack, specs []*stack.ResourceSpec) (*Result, error) {
	g, err := BuildGraph(specs)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex // guards st and store writes

	outcome := o.runParallel(ctx, g.TopoOrder(), g.Dependencies, func(ctx context.Context, id string) error {
		return o.ensureOne(ctx, g, st, id, &mu)
	})

	return o.collect(g.TopoOrder(), outcome), nil
}

// Down tears resources down in reverse topological order. A resource is only
// torn down once everything depending on it is Absent; a stuck resource
// blocks its prerequisites but independent branches continue, so down is
// best-effort and reports partial success.
func (o *Orchestrator) Down(ctx context.Context, st *stack.Stack, specs []*stack.ResourceSpec) (*Result, error) {
	g, err := BuildGraph(specs)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex

	outcome := o.runParallel(ctx, g.ReverseTopoOrder(), g.Dependents, func(ctx context.Context, id string) error {
		return o.teardownOne(ctx, g, st, id, &mu)
	})

	return o.collect(g.ReverseTopoOrder(), outcome), nil
}

type nodeOutcome int

const (
	outcomePending nodeOutcome = iota
	outcomeDone
	outcomeFailed
	outcomeSkipped
)

type outcomes struct {
	status map[string]nodeOutcome
	errs   map[string]error
}

// runParallel drains the order with a bounded worker pool. Each node waits
// until all of blockersOf(id) are done; if any blocker failed or was skipped
// the node is skipped without running work. Cancellation is honored at node
// boundaries only, never mid-call.
func (o *Orchestrator) runParallel(ctx context.Context, order []string, blockersOf func(string) []string, work func(context.Context, string) error) *outcomes {
	parallelism := o.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	out := &outcomes{
		status: make(map[string]nodeOutcome, len(order)),
		errs:   make(map[string]error, len(order)),
	}

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for _, id := range order {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			mu.Lock()
			for {
				blocked, waiting := false, false
				for _, b := range blockersOf(id) {
					switch out.status[b] {
					case outcomeFailed, outcomeSkipped:
						blocked = true
					case outcomePending:
						waiting = true
					}
				}
				if blocked {
					out.status[id] = outcomeSkipped
					mu.Unlock()
					cond.Broadcast()
					return
				}
				if !waiting {
					break
				}
				cond.Wait()
			}
			mu.Unlock()

			if err := ctx.Err(); err != nil {
				mu.Lock()
				out.status[id] = outcomeSkipped
				out.errs[id] = fmt.Errorf("run cancelled: %w", err)
				mu.Unlock()
				cond.Broadcast()
				return
			}

			sem <- struct{}{}
			err := work(ctx, id)
			<-sem

			mu.Lock()
			if err != nil {
				out.status[id] = outcomeFailed
				out.errs[id] = err
			} else {
				out.status[id] = outcomeDone
			}
			mu.Unlock()
			cond.Broadcast()
		}(id)
	}

	wg.Wait()
	return out
}

func (o *Orchestrator) collect(order []string, out *outcomes) *Result {
	res := &Result{}
	for _, id := range order {
		switch out.status[id] {
		case outcomeDone:
			res.Ready = append(res.Ready, id)
		case outcomeFailed:
			res.Failed = append(res.Failed, Failure{SpecID: id, Err: out.errs[id]})
		default:
			res.Skipped = append(res.Skipped, id)
		}
	}
	return res
}

// ensureOne converges a single resource: short-circuit when already Ready
// with an unchanged spec, otherwise ensure, poll health, and persist the
// transition.
func (o *Orchestrator) ensureOne(ctx context.Context, g *Graph, st *stack.Stack, id string, mu *sync.Mutex) error {
	spec := g.Spec(id)
	log := logging.With("orchestrator")

	mu.Lock()
	for _, dep := range g.ExternalDependencies(id) {
		rs := st.Resource(dep)
		if rs == nil || rs.Status != stack.StatusReady {
			mu.Unlock()
			return NewDependencyNotReadyError(id, dep)
		}
	}

	prior := st.Resource(id)
	if prior != nil && prior.Status == stack.StatusReady && prior.SpecHash == spec.Hash() {
		mu.Unlock()
		log.Debug().Str("resource", id).Msg("already ready, skipping")
		return nil
	}
	var priorCopy *stack.ResourceState
	if prior != nil {
		c := *prior
		priorCopy = &c
	}
	mu.Unlock()

	prov, err := o.registry.Get(spec.Kind)
	if err != nil {
		return NewPermanentError(id, err)
	}

	o.persist(st, mu, &stack.ResourceState{
		SpecID:     id,
		Kind:       spec.Kind,
		Name:       spec.Name,
		Status:     stack.StatusProvisioning,
		ExternalID: externalID(priorCopy),
	})

	// The per-call context carries the resource deadline but not the run's
	// cancellation: an in-flight provider call always runs to completion so a
	// cancel never leaves a resource half-created. The run context is checked
	// between attempts and polls instead.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.ResourceTimeout)
	defer cancel()

	log.Info().Str("resource", id).Msg("ensuring")

	var result *provider.EnsureResult
	err = RetryWithBackoff(opCtx, o.Retry, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ensureErr error
		result, ensureErr = prov.Ensure(opCtx, spec, priorCopy)
		return ensureErr
	}, IsRetryable)
	if err == nil {
		err = o.awaitHealthy(ctx, opCtx, prov, spec, result.ExternalID)
	}

	if err != nil {
		o.persist(st, mu, &stack.ResourceState{
			SpecID:     id,
			Kind:       spec.Kind,
			Name:       spec.Name,
			Status:     stack.StatusFailed,
			ExternalID: externalID(priorCopy),
			LastError:  err.Error(),
		})
		log.Error().Str("resource", id).Err(err).Msg("ensure failed")
		if _, ok := err.(*Error); ok {
			return err
		}
		return &Error{Kind: KindOf(err), Resource: id, Err: err}
	}

	// A recorded external id that no longer matches what the provider found
	// means the resource was replaced outside this tool. State is re-recorded
	// against the live resource; nothing is healed automatically.
	if prev := externalID(priorCopy); prev != "" && prev != result.ExternalID {
		drift := NewDriftError(id, prev, result.ExternalID)
		log.Warn().Str("resource", id).Str("recorded", prev).
			Str("observed", result.ExternalID).Msg(drift.Message)
	}

	o.persist(st, mu, &stack.ResourceState{
		SpecID:     id,
		Kind:       spec.Kind,
		Name:       spec.Name,
		Status:     stack.StatusReady,
		ExternalID: result.ExternalID,
		SpecHash:   spec.Hash(),
		Outputs:    result.Outputs,
	})
	log.Info().Str("resource", id).Str("external_id", result.ExternalID).Msg("ready")
	return nil
}

// teardownOne removes a single resource, tolerating already-absent ones.
func (o *Orchestrator) teardownOne(ctx context.Context, g *Graph, st *stack.Stack, id string, mu *sync.Mutex) error {
	spec := g.Spec(id)
	log := logging.With("orchestrator")

	mu.Lock()
	prior := st.Resource(id)
	if prior == nil || prior.Status == stack.StatusAbsent {
		mu.Unlock()
		return nil
	}
	priorCopy := *prior
	mu.Unlock()

	prov, err := o.registry.Get(spec.Kind)
	if err != nil {
		return NewPermanentError(id, err)
	}

	o.persist(st, mu, &stack.ResourceState{
		SpecID:     id,
		Kind:       spec.Kind,
		Name:       spec.Name,
		Status:     stack.StatusTearingDown,
		ExternalID: priorCopy.ExternalID,
	})

	// As with ensure, the provider call itself is never interrupted by a run
	// cancel; only further attempts are.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.ResourceTimeout)
	defer cancel()

	log.Info().Str("resource", id).Msg("tearing down")

	err = RetryWithBackoff(opCtx, o.Retry, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return prov.Teardown(opCtx, spec, &priorCopy)
	}, IsRetryable)
	if err != nil {
		o.persist(st, mu, &stack.ResourceState{
			SpecID:     id,
			Kind:       spec.Kind,
			Name:       spec.Name,
			Status:     stack.StatusFailed,
			ExternalID: priorCopy.ExternalID,
			LastError:  err.Error(),
		})
		log.Error().Str("resource", id).Err(err).Msg("teardown failed")
		if _, ok := err.(*Error); ok {
			return err
		}
		return &Error{Kind: KindOf(err), Resource: id, Err: err}
	}

	o.persist(st, mu, &stack.ResourceState{
		SpecID: id,
		Kind:   spec.Kind,
		Name:   spec.Name,
		Status: stack.StatusAbsent,
	})
	log.Info().Str("resource", id).Msg("absent")
	return nil
}

// awaitHealthy polls the provider until the resource reports Ready. Run
// cancellation stops the polling between probes; the probe itself runs on
// the deadline-only call context.
func (o *Orchestrator) awaitHealthy(runCtx, opCtx context.Context, prov provider.Provider, spec *stack.ResourceSpec, externalID string) error {
	return PollUntil(opCtx, o.Poll, func(ctx context.Context) (bool, error) {
		h, err := prov.Health(ctx, spec, externalID)
		if err != nil {
			return false, err
		}
		if h == provider.HealthReady {
			return true, nil
		}
		if err := runCtx.Err(); err != nil {
			return false, err
		}
		return false, nil
	})
}

func (o *Orchestrator) persist(st *stack.Stack, mu *sync.Mutex, rs *stack.ResourceState) {
	mu.Lock()
	defer mu.Unlock()
	st.SetResource(rs)
	if o.store != nil {
		if err := o.store.Save(st); err != nil {
			logging.Warn("failed to persist state", "stack", st.Name, "error", err)
		}
	}
}

func externalID(rs *stack.ResourceState) string {
	if rs == nil {
		return ""
	}
	return rs.ExternalID
}
