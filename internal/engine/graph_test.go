package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlstack-io/mlstack/internal/stack"
)

func spec(kind stack.Kind, name string, deps ...string) *stack.ResourceSpec {
	return &stack.ResourceSpec{Kind: kind, Name: name, DependsOn: deps}
}

func TestBuildGraph_NoDependencies(t *testing.T) {
	specs := []*stack.ResourceSpec{
		spec(stack.KindLogGroup, "a"),
		spec(stack.KindRegistry, "b"),
		spec(stack.KindStorageBucket, "c"),
	}

	g, err := BuildGraph(specs)
	require.NoError(t, err)
	assert.Len(t, g.TopoOrder(), 3)
}

func TestBuildGraph_DependencyOrder(t *testing.T) {
	specs := []*stack.ResourceSpec{
		spec(stack.KindComputeService, "svc", "network.net", "log-group.logs"),
		spec(stack.KindNetwork, "net"),
		spec(stack.KindLogGroup, "logs"),
	}

	g, err := BuildGraph(specs)
	require.NoError(t, err)

	order := g.TopoOrder()
	require.Len(t, order, 3)

	posNet := indexOf(order, "network.net")
	posLogs := indexOf(order, "log-group.logs")
	posSvc := indexOf(order, "compute-service.svc")

	assert.Less(t, posNet, posSvc, "network should come before the service")
	assert.Less(t, posLogs, posSvc, "log group should come before the service")
}

func TestBuildGraph_DeterministicOrder(t *testing.T) {
	// Independent nodes drain lexicographically, so repeated builds agree.
	specs := []*stack.ResourceSpec{
		spec(stack.KindIamRole, "zeta"),
		spec(stack.KindIamRole, "alpha"),
		spec(stack.KindIamRole, "mid"),
	}

	g, err := BuildGraph(specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"iam-role.alpha", "iam-role.mid", "iam-role.zeta"}, g.TopoOrder())

	for i := 0; i < 10; i++ {
		g2, err := BuildGraph(specs)
		require.NoError(t, err)
		assert.Equal(t, g.TopoOrder(), g2.TopoOrder())
	}
}

func TestBuildGraph_ReverseTopoOrder(t *testing.T) {
	specs := []*stack.ResourceSpec{
		spec(stack.KindNetwork, "net"),
		spec(stack.KindComputeService, "svc", "network.net"),
	}

	g, err := BuildGraph(specs)
	require.NoError(t, err)

	forward := g.TopoOrder()
	reverse := g.ReverseTopoOrder()
	require.Len(t, reverse, len(forward))
	for i := range forward {
		assert.Equal(t, forward[i], reverse[len(reverse)-1-i])
	}
}

func TestBuildGraph_CycleRejected(t *testing.T) {
	specs := []*stack.ResourceSpec{
		spec(stack.KindIamRole, "a", "iam-role.b"),
		spec(stack.KindIamRole, "b", "iam-role.c"),
		spec(stack.KindIamRole, "c", "iam-role.a"),
	}

	_, err := BuildGraph(specs)
	require.Error(t, err)

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindValidation, engineErr.Kind)
	assert.Contains(t, err.Error(), "->", "cycle error should name the path")
}

func TestBuildGraph_SelfDependencyRejected(t *testing.T) {
	_, err := BuildGraph([]*stack.ResourceSpec{
		spec(stack.KindIamRole, "a", "iam-role.a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestBuildGraph_DuplicateRejected(t *testing.T) {
	_, err := BuildGraph([]*stack.ResourceSpec{
		spec(stack.KindIamRole, "a"),
		spec(stack.KindIamRole, "a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestBuildGraph_ExternalDependencies(t *testing.T) {
	// A dependency outside the graph is not an edge; it is checked against
	// persisted state instead.
	specs := []*stack.ResourceSpec{
		spec(stack.KindStorageBucket, "models", "network.net"),
	}

	g, err := BuildGraph(specs)
	require.NoError(t, err)
	assert.Empty(t, g.Dependencies("storage-bucket.models"))
	assert.Equal(t, []string{"network.net"}, g.ExternalDependencies("storage-bucket.models"))
}

func TestBuildGraph_Dependents(t *testing.T) {
	specs := []*stack.ResourceSpec{
		spec(stack.KindNetwork, "net"),
		spec(stack.KindComputeService, "svc", "network.net"),
		spec(stack.KindLogGroup, "logs", "network.net"),
	}

	g, err := BuildGraph(specs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"compute-service.svc", "log-group.logs"}, g.Dependents("network.net"))
}

func indexOf(list []string, val string) int {
	for i, v := range list {
		if v == val {
			return i
		}
	}
	return -1
}
