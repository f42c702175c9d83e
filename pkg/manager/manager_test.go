package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sweep/pkg/status"
	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

func newLeader(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&Config{NodeID: "node-1", DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })

	_, transport := raft.NewInmemTransport("")
	require.NoError(t, m.start(transport))
	require.Eventually(t, m.IsLeader, 5*time.Second, 20*time.Millisecond)
	return m
}

func TestManagerSeedIsReplicatedCompareAndSet(t *testing.T) {
	m := newLeader(t)
	tracker := status.NewTracker(status.NewKVStore(m))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tracker.Seed(ctx)
			mu.Lock()
			defer mu.Unlock()
			var dup *status.DuplicateSeedError
			switch {
			case err == nil:
				wins++
			case assert.ErrorAs(t, err, &dup):
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 5, dups)

	st, err := tracker.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentStarted, st.State())
}

func TestManagerTasksGetSequenceNumbers(t *testing.T) {
	m := newLeader(t)

	a := &types.Task{ID: "a", Name: "build_graph"}
	b := &types.Task{ID: "b", Name: "combine_table"}
	require.NoError(t, m.CreateTasks(a, b))
	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)

	a.State = types.TaskStateLeased
	require.NoError(t, m.UpdateTask(a))
	got, err := m.GetTask("a")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateLeased, got.State)
	assert.Equal(t, uint64(1), got.Seq)

	require.NoError(t, m.DeleteTask("b"))
	_, err = m.GetTask("b")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManagerResultsAndGraph(t *testing.T) {
	m := newLeader(t)

	require.NoError(t, m.PutResult("pendulum/simulation", &types.TaskResult{Key: "2:0,0", Value: 1}))
	require.NoError(t, m.PutResult("pendulum/simulation", &types.TaskResult{Key: "2:0,0", Value: 2}))
	r, err := m.GetResult("pendulum/simulation", "2:0,0")
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Value)

	require.NoError(t, m.PutTable(&types.PartialTable{Partition: "pendulum", Name: "simulation"}))
	tables, err := m.ListTables("pendulum")
	require.NoError(t, err)
	assert.Len(t, tables, 1)

	require.NoError(t, m.SaveNodes(&types.GraphNode{ID: "terminal", Kind: types.NodeTerminal}))
	node, err := m.GetNode("terminal")
	require.NoError(t, err)
	assert.Equal(t, types.NodeTerminal, node.Kind)

	assert.Greater(t, m.AppliedIndex(), uint64(0))
	assert.NotEmpty(t, m.GetRaftStats())
}

type bufferSink struct {
	buf    []byte
	closed bool
}

func (s *bufferSink) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}
func (s *bufferSink) Close() error  { s.closed = true; return nil }
func (s *bufferSink) ID() string    { return "test" }
func (s *bufferSink) Cancel() error { return nil }

type readCloser struct{ io.Reader }

func (readCloser) Close() error { return nil }

func apply(t *testing.T, fsm *SweepFSM, op string, v any) interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: cmd})
}

func TestFSMSnapshotRestore(t *testing.T) {
	src, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer src.Close()
	fsm := NewSweepFSM(src)

	started := time.Date(2024, 3, 9, 14, 2, 7, 0, time.UTC)
	assert.Nil(t, apply(t, fsm, opCreateStatus, &types.StatusMarker{Name: types.StatusStarted, Timestamp: started}))
	resp := apply(t, fsm, opCreateStatus, &types.StatusMarker{Name: types.StatusStarted, Timestamp: started})
	assert.ErrorIs(t, resp.(error), storage.ErrExists)

	apply(t, fsm, opPutResult, resultCommand{Scope: "beam:sliding/I1", Result: &types.TaskResult{Key: "3:1,2", Value: 0.5}})
	apply(t, fsm, opPutTable, &types.PartialTable{Partition: "beam:sliding", Name: "I1"})
	seqs := apply(t, fsm, opCreateTasks, []*types.Task{{ID: "t1"}, {ID: "t2"}})
	assert.Equal(t, []uint64{1, 2}, seqs)
	apply(t, fsm, opSaveNodes, []*types.GraphNode{{ID: "partition/beam:sliding", Kind: types.NodePartition}})

	unknown := apply(t, fsm, "drop_everything", nil)
	assert.Error(t, unknown.(error))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)
	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))
	assert.True(t, sink.closed)

	dst, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, NewSweepFSM(dst).Restore(readCloser{Reader: bytes.NewReader(sink.buf)}))

	marker, err := dst.GetStatus(types.StatusStarted)
	require.NoError(t, err)
	assert.True(t, marker.Timestamp.Equal(started))

	r, err := dst.GetResult("beam:sliding/I1", "3:1,2")
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.Value)

	_, err = dst.GetTable("beam:sliding", "I1")
	require.NoError(t, err)

	tasks, err := dst.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)

	nodes, err := dst.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
