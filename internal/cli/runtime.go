package cli

import (
	"context"
	"fmt"

	"github.com/mlstack-io/mlstack/internal/config"
	"github.com/mlstack-io/mlstack/internal/engine"
	"github.com/mlstack-io/mlstack/internal/logging"
	"github.com/mlstack-io/mlstack/internal/pipeline"
	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
	"github.com/mlstack-io/mlstack/internal/state"
	awsprovider "github.com/mlstack-io/mlstack/providers/aws"
)

// runtime bundles everything a command needs: validated config, the derived
// topology, the state store and the AWS provider.
type runtime struct {
	cfg      *config.Config
	topo     *stack.Topology
	store    *state.Store
	aws      *awsprovider.Provider
	registry *provider.Registry
}

// newRuntime loads configuration, initializes logging, resolves the account
// and builds the provider registry. Validation failures surface here, before
// any cloud call.
func newRuntime(ctx context.Context) (*runtime, error) {
	overrides := map[string]any{}
	if stackName != "" {
		overrides["name"] = stackName
	}
	if region != "" {
		overrides["region"] = region
	}
	cfg, err := config.Load(cfgFile, overrides)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	aws, err := awsprovider.New(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	accountID := cfg.AccountID
	if accountID == "" {
		accountID, err = aws.AccountID(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve account id: %w", err)
		}
	}

	dir := stateDir
	if dir == "" {
		dir = cfg.StateDir
	}
	if dir == "" {
		dir = state.DefaultDir()
	}

	registry := provider.NewRegistry()
	registry.RegisterAll(aws)

	return &runtime{
		cfg:      cfg,
		topo:     cfg.Topology(accountID),
		store:    state.NewStore(dir),
		aws:      aws,
		registry: registry,
	}, nil
}

// orchestrator builds an orchestrator honoring the configured parallelism.
func (r *runtime) orchestrator() *engine.Orchestrator {
	o := engine.NewOrchestrator(r.registry, r.store)
	if r.cfg.Parallelism > 0 {
		o.Parallelism = r.cfg.Parallelism
	}
	return o
}

// pipeline builds the training pipeline against st. The bucket and the
// training role must be ready from a prior provisioning pass.
func (r *runtime) pipeline(st *stack.Stack) (*pipeline.Pipeline, error) {
	for _, id := range []string{r.topo.BucketID(), r.topo.TrainingRoleID()} {
		rs := st.Resource(id)
		if rs == nil || rs.Status != stack.StatusReady {
			return nil, fmt.Errorf("resource %s is not ready; run `mlstack up` first", id)
		}
	}
	roleArn, _ := st.Resource(r.topo.TrainingRoleID()).Outputs["role_arn"].(string)
	if roleArn == "" {
		return nil, fmt.Errorf("training role has no recorded ARN; run `mlstack up` first")
	}
	return pipeline.New(r.store, r.aws.Artifacts(), r.aws.Trainer(roleArn),
		r.aws.Deployer(roleArn, r.topo), r.topo), nil
}

// withLock runs fn while holding the stack's lease.
func (r *runtime) withLock(fn func() error) error {
	if err := r.store.Lock(r.cfg.Name); err != nil {
		return err
	}
	defer func() {
		if err := r.store.Unlock(r.cfg.Name); err != nil {
			logging.Warn("failed to release lock", "stack", r.cfg.Name, "error", err)
		}
	}()
	return fn()
}
