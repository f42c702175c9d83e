package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sweep/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateStatusIsCompareAndSet(t *testing.T) {
	store := newTestStore(t)

	first := &types.StatusMarker{Name: types.StatusStarted, Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, store.CreateStatus(first))

	err := store.CreateStatus(&types.StatusMarker{Name: types.StatusStarted, Timestamp: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, ErrExists)

	got, err := store.GetStatus(types.StatusStarted)
	require.NoError(t, err)
	assert.True(t, first.Timestamp.Equal(got.Timestamp))
}

func TestCreateStatusConcurrent(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateStatus(&types.StatusMarker{Name: types.StatusStarted})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.True(t, errors.Is(err, ErrExists))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestGetStatusNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetStatus(types.StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutStatus(&types.StatusMarker{Name: types.StatusCompleted}))
	markers, err := store.ListStatus()
	require.NoError(t, err)
	assert.Len(t, markers, 1)
}

func TestResultsFirstWriteWins(t *testing.T) {
	store := newTestStore(t)
	scope := types.ResultScope("beam:sliding", "I1")

	require.NoError(t, store.PutResult(scope, &types.TaskResult{Key: "3:1,1", Value: 0.5}))
	require.NoError(t, store.PutResult(scope, &types.TaskResult{Key: "3:1,1", Value: 99}))
	require.NoError(t, store.PutResult(scope, &types.TaskResult{Key: "3:1,2", Value: 0}))
	require.NoError(t, store.PutResult(types.ResultScope("beam:sliding", "I2"), &types.TaskResult{Key: "3:1,1"}))

	got, err := store.GetResult(scope, "3:1,1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Value)

	results, err := store.ListResults(scope)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.CacheKey("3:1,1"), results[0].Key)
	assert.Equal(t, types.CacheKey("3:1,2"), results[1].Key)

	_, err = store.GetResult("missing/scope", "3:1,1")
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := store.ListResults("missing/scope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTablesByPartition(t *testing.T) {
	store := newTestStore(t)

	for _, tbl := range []*types.PartialTable{
		{Partition: "beam:sliding", Name: "I1"},
		{Partition: "beam:sliding", Name: "I2"},
		{Partition: "beam:simply_supported", Name: "I1"},
	} {
		require.NoError(t, store.PutTable(tbl))
	}

	tables, err := store.ListTables("beam:sliding")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "I1", tables[0].Name)
	assert.Equal(t, "I2", tables[1].Name)

	_, err = store.GetTable("beam:sliding", "I5")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskSequence(t *testing.T) {
	store := newTestStore(t)

	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		require.NoError(t, store.CreateTask(&types.Task{ID: id, State: types.TaskStatePending, CreatedAt: time.Now()}))
	}

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, ids[i], task.ID)
		assert.Equal(t, uint64(i+1), task.Seq)
	}

	tasks[0].State = types.TaskStateComplete
	require.NoError(t, store.UpdateTask(tasks[0]))
	got, err := store.GetTask("c")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateComplete, got.State)
	assert.Equal(t, uint64(1), got.Seq)

	require.NoError(t, store.DeleteTask("c"))
	_, err = store.GetTask("c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraphNodes(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveNodes(
		&types.GraphNode{ID: "k1", Kind: types.NodeKernel, State: types.NodeSubmitted},
		&types.GraphNode{ID: "r1", Kind: types.NodeCombine, Remaining: 1, State: types.NodePending},
	))

	node, err := store.GetNode("r1")
	require.NoError(t, err)
	assert.Equal(t, 1, node.Remaining)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.CreateStatus(&types.StatusMarker{Name: types.StatusStarted}))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()
	assert.ErrorIs(t, store.CreateStatus(&types.StatusMarker{Name: types.StatusStarted}), ErrExists)
}

func TestEnumerateScopesAndTables(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutResult("beam:sliding/I1", &types.TaskResult{Key: "2:1,1"}))
	require.NoError(t, store.PutResult("beam:sliding/I2", &types.TaskResult{Key: "2:1,1"}))
	require.NoError(t, store.PutResult("pendulum/simulation", &types.TaskResult{Key: "2:0,0"}))

	scopes, err := store.ResultScopes()
	require.NoError(t, err)
	assert.Equal(t, []string{"beam:sliding/I1", "beam:sliding/I2", "pendulum/simulation"}, scopes)

	require.NoError(t, store.PutTable(&types.PartialTable{Partition: "beam:sliding", Name: "I1"}))
	require.NoError(t, store.PutTable(&types.PartialTable{Partition: "pendulum", Name: "simulation"}))

	tables, err := store.AllTables()
	require.NoError(t, err)
	assert.Len(t, tables, 2)
}
