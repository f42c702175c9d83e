package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

// Command ops
const (
	opCreateStatus = "create_status"
	opPutStatus    = "put_status"
	opPutResult    = "put_result"
	opPutTable     = "put_table"
	opCreateTasks  = "create_tasks"
	opUpdateTask   = "update_task"
	opDeleteTask   = "delete_task"
	opSaveNodes    = "save_nodes"
)

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type resultCommand struct {
	Scope  string            `json:"scope"`
	Result *types.TaskResult `json:"result"`
}

// SweepFSM implements the Raft Finite State Machine over the local state
// store. Every replica applies the same commands in log order, so create-only
// writes such as the started marker are decided once for the whole cluster.
type SweepFSM struct {
	mu    sync.RWMutex
	store *storage.BoltStore
}

// NewSweepFSM creates a new FSM instance
func NewSweepFSM(store *storage.BoltStore) *SweepFSM {
	return &SweepFSM{store: store}
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *SweepFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCreateStatus:
		var marker types.StatusMarker
		if err := json.Unmarshal(cmd.Data, &marker); err != nil {
			return err
		}
		return f.store.CreateStatus(&marker)

	case opPutStatus:
		var marker types.StatusMarker
		if err := json.Unmarshal(cmd.Data, &marker); err != nil {
			return err
		}
		return f.store.PutStatus(&marker)

	case opPutResult:
		var rc resultCommand
		if err := json.Unmarshal(cmd.Data, &rc); err != nil {
			return err
		}
		return f.store.PutResult(rc.Scope, rc.Result)

	case opPutTable:
		var table types.PartialTable
		if err := json.Unmarshal(cmd.Data, &table); err != nil {
			return err
		}
		return f.store.PutTable(&table)

	// The assigned queue sequence numbers are returned to the proposer
	case opCreateTasks:
		var tasks []*types.Task
		if err := json.Unmarshal(cmd.Data, &tasks); err != nil {
			return err
		}
		if err := f.store.CreateTasks(tasks...); err != nil {
			return err
		}
		seqs := make([]uint64, len(tasks))
		for i, task := range tasks {
			seqs[i] = task.Seq
		}
		return seqs

	case opUpdateTask:
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.UpdateTask(&task)

	case opDeleteTask:
		var taskID string
		if err := json.Unmarshal(cmd.Data, &taskID); err != nil {
			return err
		}
		return f.store.DeleteTask(taskID)

	case opSaveNodes:
		var nodes []*types.GraphNode
		if err := json.Unmarshal(cmd.Data, &nodes); err != nil {
			return err
		}
		return f.store.SaveNodes(nodes...)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot returns a snapshot of the FSM state
func (f *SweepFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot := &SweepSnapshot{Results: make(map[string][]*types.TaskResult)}
	var err error

	if snapshot.Statuses, err = f.store.ListStatus(); err != nil {
		return nil, fmt.Errorf("failed to list status markers: %v", err)
	}
	scopes, err := f.store.ResultScopes()
	if err != nil {
		return nil, fmt.Errorf("failed to list result scopes: %v", err)
	}
	for _, scope := range scopes {
		if snapshot.Results[scope], err = f.store.ListResults(scope); err != nil {
			return nil, fmt.Errorf("failed to list results: %v", err)
		}
	}
	if snapshot.Tables, err = f.store.AllTables(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %v", err)
	}
	if snapshot.Tasks, err = f.store.ListTasks(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %v", err)
	}
	if snapshot.Nodes, err = f.store.ListNodes(); err != nil {
		return nil, fmt.Errorf("failed to list graph nodes: %v", err)
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot
func (f *SweepFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot SweepSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, marker := range snapshot.Statuses {
		if err := f.store.PutStatus(marker); err != nil {
			return fmt.Errorf("failed to restore status marker: %v", err)
		}
	}
	for scope, results := range snapshot.Results {
		for _, result := range results {
			if err := f.store.PutResult(scope, result); err != nil {
				return fmt.Errorf("failed to restore result: %v", err)
			}
		}
	}
	for _, table := range snapshot.Tables {
		if err := f.store.PutTable(table); err != nil {
			return fmt.Errorf("failed to restore table: %v", err)
		}
	}
	if err := f.store.CreateTasks(snapshot.Tasks...); err != nil {
		return fmt.Errorf("failed to restore tasks: %v", err)
	}
	if err := f.store.SaveNodes(snapshot.Nodes...); err != nil {
		return fmt.Errorf("failed to restore graph: %v", err)
	}

	return nil
}

// SweepSnapshot represents a point-in-time snapshot of the experiment state
type SweepSnapshot struct {
	Statuses []*types.StatusMarker
	Results  map[string][]*types.TaskResult
	Tables   []*types.PartialTable
	Tasks    []*types.Task
	Nodes    []*types.GraphNode
}

// Persist writes the snapshot to the given SnapshotSink
func (s *SweepSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *SweepSnapshot) Release() {}
