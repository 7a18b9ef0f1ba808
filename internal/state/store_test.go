package state

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlstack-io/mlstack/internal/stack"
)

func TestStore_LoadMissingReturnsEmptyStack(t *testing.T) {
	store := NewStore(t.TempDir())

	st, err := store.Load("lab", "us-west-2")
	require.NoError(t, err)
	assert.Equal(t, "lab", st.Name)
	assert.Equal(t, "us-west-2", st.Region)
	assert.Empty(t, st.Resources)
	assert.Equal(t, 0, st.Serial)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	st := stack.NewStack("lab", "us-west-2")
	st.SetResource(&stack.ResourceState{
		SpecID:     "network.lab",
		Kind:       stack.KindNetwork,
		Name:       "lab",
		Status:     stack.StatusReady,
		ExternalID: "vpc-0abc",
		SpecHash:   "deadbeef",
		Outputs:    map[string]any{"vpc_id": "vpc-0abc"},
	})
	st.SetOutput("service_url", "http://lab-alb.example")
	st.Runs = append(st.Runs, &stack.TrainingRun{
		ID:           "r1",
		Status:       stack.RunSucceeded,
		ModelVersion: 1,
		ModelURI:     "s3://lab-123456789012-ml/models/lab/1/model.pkl",
	})
	require.NoError(t, store.Save(st))

	loaded, err := store.Load("lab", "us-west-2")
	require.NoError(t, err)

	rs := loaded.Resource("network.lab")
	require.NotNil(t, rs)
	assert.Equal(t, stack.StatusReady, rs.Status)
	assert.Equal(t, "vpc-0abc", rs.ExternalID)
	assert.Equal(t, "deadbeef", rs.SpecHash)
	assert.Equal(t, "http://lab-alb.example", loaded.Outputs["service_url"])
	require.Len(t, loaded.Runs, 1)
	assert.Equal(t, 1, loaded.MaxModelVersion())
}

func TestStore_SaveBumpsSerial(t *testing.T) {
	store := NewStore(t.TempDir())
	st := stack.NewStack("lab", "us-west-2")

	require.NoError(t, store.Save(st))
	require.NoError(t, store.Save(st))
	assert.Equal(t, 2, st.Serial)
}

func TestStore_Remove(t *testing.T) {
	store := NewStore(t.TempDir())
	st := stack.NewStack("lab", "us-west-2")
	require.NoError(t, store.Save(st))

	require.NoError(t, store.Remove("lab"))
	require.NoError(t, store.Remove("lab"), "removing twice is fine")

	loaded, err := store.Load("lab", "us-west-2")
	require.NoError(t, err)
	assert.Empty(t, loaded.Resources)
}

func TestStore_LockConflict(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Lock("lab"))
	err := store.Lock("lab")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")

	require.NoError(t, store.Unlock("lab"))
	require.NoError(t, store.Lock("lab"))
	require.NoError(t, store.Unlock("lab"))
}

func TestStore_StaleLockIsReclaimed(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Lock("lab"))
	stale := time.Now().Add(-staleLockAge - time.Minute)
	require.NoError(t, os.Chtimes(store.lockPath("lab"), stale, stale))

	require.NoError(t, store.Lock("lab"))
	require.NoError(t, store.Unlock("lab"))
}

func TestStore_UnlockWithoutLock(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Unlock("lab"))
}

func TestStore_LockSingleWinner(t *testing.T) {
	store := NewStore(t.TempDir())

	const contenders = 16
	var wg sync.WaitGroup
	var acquired atomic.Int32
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Lock("lab") == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
	require.NoError(t, store.Unlock("lab"))
}
