package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

// applyTimeout bounds a single replicated write
const applyTimeout = 5 * time.Second

// Peer is another coordinator in the raft cluster
type Peer struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// Manager replicates the experiment state store across coordinators with
// raft. Writes go through the log and are applied to every replica's bolt
// store; reads are served from the local replica. Manager implements
// storage.Store.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string
	peers    []Peer

	raft   *raft.Raft
	fsm    *SweepFSM
	store  *storage.BoltStore
	closer []func() error
	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// Peers lists the other voters; empty for a single-node cluster
	Peers []Peer
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node ID is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		peers:    cfg.Peers,
		fsm:      NewSweepFSM(store),
		store:    store,
		logger:   log.WithComponent("manager").With().Str("node_id", cfg.NodeID).Logger(),
	}, nil
}

// Start joins the raft cluster over TCP. A node without existing raft state
// bootstraps the cluster from its configured peers; every node must be
// started with the same peer set.
func (m *Manager) Start() error {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %v", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %v", err)
	}
	m.closer = append(m.closer, transport.Close)
	return m.start(transport)
}

func (m *Manager) start(transport raft.Transport) error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// LAN timeouts; the defaults are tuned for WAN
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %v", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %v", err)
	}
	m.closer = append(m.closer, logStore.Close)

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %v", err)
	}
	m.closer = append(m.closer, stableStore.Close)

	existing, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return fmt.Errorf("failed to inspect raft state: %v", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}
	m.raft = r

	if existing {
		m.logger.Info().Msg("Rejoining raft cluster from existing state")
		return nil
	}

	servers := []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}}
	for _, p := range m.peers {
		servers = append(servers, raft.Server{ID: raft.ServerID(p.ID), Address: raft.ServerAddress(p.Address)})
	}
	future := m.raft.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}
	m.logger.Info().Int("voters", len(servers)).Msg("Raft cluster bootstrapped")
	return nil
}

// WaitForLeader blocks until the cluster has elected a leader
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.LeaderAddr() != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no raft leader after %s", timeout)
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderCh signals leadership changes of this node
func (m *Manager) LeaderCh() <-chan bool {
	return m.raft.LeaderCh()
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// AppliedIndex returns the last applied raft index
func (m *Manager) AppliedIndex() uint64 {
	if m.raft == nil {
		return 0
	}
	return m.raft.AppliedIndex()
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()
	return stats
}

// Apply submits a command to the Raft cluster and returns the FSM response
func (m *Manager) Apply(op string, v any) (interface{}, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %v", op, err)
	}
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %v", err)
	}

	future := m.raft.Apply(cmd, applyTimeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *Manager) apply(op string, v any) error {
	_, err := m.Apply(op, v)
	return err
}

// Status markers

// CreateStatus writes marker unless it exists. The check and the write
// happen in the FSM, so concurrent coordinators race through the log and
// exactly one wins.
func (m *Manager) CreateStatus(marker *types.StatusMarker) error {
	return m.apply(opCreateStatus, marker)
}

func (m *Manager) PutStatus(marker *types.StatusMarker) error {
	return m.apply(opPutStatus, marker)
}

func (m *Manager) GetStatus(name string) (*types.StatusMarker, error) {
	return m.store.GetStatus(name)
}

func (m *Manager) ListStatus() ([]*types.StatusMarker, error) {
	return m.store.ListStatus()
}

// Results and tables

func (m *Manager) PutResult(scope string, result *types.TaskResult) error {
	return m.apply(opPutResult, resultCommand{Scope: scope, Result: result})
}

func (m *Manager) GetResult(scope string, key types.CacheKey) (*types.TaskResult, error) {
	return m.store.GetResult(scope, key)
}

func (m *Manager) ListResults(scope string) ([]*types.TaskResult, error) {
	return m.store.ListResults(scope)
}

func (m *Manager) PutTable(table *types.PartialTable) error {
	return m.apply(opPutTable, table)
}

func (m *Manager) GetTable(partition types.PartitionKey, name string) (*types.PartialTable, error) {
	return m.store.GetTable(partition, name)
}

func (m *Manager) ListTables(partition types.PartitionKey) ([]*types.PartialTable, error) {
	return m.store.ListTables(partition)
}

// Tasks

func (m *Manager) CreateTask(task *types.Task) error {
	return m.CreateTasks(task)
}

// CreateTasks replicates tasks and copies the sequence numbers assigned by
// the FSM back into them
func (m *Manager) CreateTasks(tasks ...*types.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	resp, err := m.Apply(opCreateTasks, tasks)
	if err != nil {
		return err
	}
	if seqs, ok := resp.([]uint64); ok && len(seqs) == len(tasks) {
		for i, task := range tasks {
			task.Seq = seqs[i]
		}
	}
	return nil
}

func (m *Manager) GetTask(id string) (*types.Task, error) {
	return m.store.GetTask(id)
}

func (m *Manager) ListTasks() ([]*types.Task, error) {
	return m.store.ListTasks()
}

func (m *Manager) UpdateTask(task *types.Task) error {
	return m.apply(opUpdateTask, task)
}

func (m *Manager) DeleteTask(id string) error {
	return m.apply(opDeleteTask, id)
}

// Graph

func (m *Manager) SaveNodes(nodes ...*types.GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}
	return m.apply(opSaveNodes, nodes)
}

func (m *Manager) GetNode(id string) (*types.GraphNode, error) {
	return m.store.GetNode(id)
}

func (m *Manager) ListNodes() ([]*types.GraphNode, error) {
	return m.store.ListNodes()
}

// Close shuts the manager down
func (m *Manager) Close() error {
	return m.Shutdown()
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
		m.raft = nil
	}

	for i := len(m.closer) - 1; i >= 0; i-- {
		if err := m.closer[i](); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to close raft resource")
		}
	}
	m.closer = nil

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
		m.store = nil
	}
	return nil
}

var _ storage.Store = (*Manager)(nil)
