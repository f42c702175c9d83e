package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cuemby/sweep/pkg/api"
	"github.com/cuemby/sweep/pkg/config"
	"github.com/cuemby/sweep/pkg/events"
	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/manager"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/orchestrator"
	"github.com/cuemby/sweep/pkg/queue"
	"github.com/cuemby/sweep/pkg/reconciler"
	"github.com/cuemby/sweep/pkg/status"
	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
	"github.com/cuemby/sweep/pkg/worker"
)

// coordinatorNode owns the experiment state, the task queue and the
// coordinator-class worker that runs graph construction and the reducers
type coordinatorNode struct {
	cfg     *config.Config
	catalog *kernel.Catalog
	logger  zerolog.Logger

	store  storage.Store
	mgr    *manager.Manager
	events *events.Broker

	broker    *queue.Broker
	orch      *orchestrator.Orchestrator
	worker    *worker.Worker
	recon     *reconciler.Reconciler
	collector *metrics.Collector

	apiServer   *api.Server
	localServer *api.Server
	health      *api.HealthServer

	// errCh receives fatal server errors
	errCh chan error
}

// nodeOptions selects the optional surfaces of a coordinator
type nodeOptions struct {
	// serve starts the gRPC API, the local socket and the health server
	serve bool
}

func newCoordinatorNode(cfg *config.Config) *coordinatorNode {
	return &coordinatorNode{
		cfg:     cfg,
		catalog: kernel.DefaultCatalog(),
		logger:  log.WithComponent("coordinator"),
		errCh:   make(chan error, 4),
	}
}

// openStore opens the local bolt store, or the raft-replicated store when
// a node ID is configured
func (n *coordinatorNode) openStore() error {
	if !n.cfg.Replicated() {
		store, err := storage.NewBoltStore(n.cfg.Sweep.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		n.store = store
		return nil
	}

	mgr, err := manager.NewManager(n.cfg.ManagerConfig())
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	if err := mgr.Start(); err != nil {
		mgr.Shutdown()
		return fmt.Errorf("failed to start raft: %w", err)
	}
	n.mgr = mgr
	n.store = mgr
	return nil
}

// start brings the node up. With a replicated store it blocks until this
// node leads the raft cluster, serving health checks meanwhile.
func (n *coordinatorNode) start(ctx context.Context, opts nodeOptions) error {
	if err := n.openStore(); err != nil {
		return err
	}
	metrics.RegisterComponent(metrics.ComponentStore, true, "open")

	n.events = events.NewBroker()
	n.events.Start()
	go logEvents(n.events)

	if opts.serve {
		n.startHealth()
	}

	if n.mgr != nil {
		if err := n.waitForLeadership(ctx); err != nil {
			return err
		}
	}

	n.broker = queue.NewBroker(n.store, queue.Config{
		LeaseTimeout: n.cfg.Queue.LeaseTimeout,
		MaxAttempts:  n.cfg.Queue.MaxAttempts,
	})
	if err := n.broker.Recover(); err != nil {
		return err
	}
	metrics.RegisterComponent(metrics.ComponentQueue, true, "recovered")

	statusStore, err := n.statusStore()
	if err != nil {
		return err
	}
	exp := n.cfg.Experiment()
	exp.GeneratorVersion = Version
	orch, err := orchestrator.New(orchestrator.Config{
		Experiment: exp,
		Tracker:    status.NewTracker(statusStore),
		Store:      n.store,
		Queue:      n.broker,
		Catalog:    n.catalog,
		Events:     n.events,
	})
	if err != nil {
		return err
	}
	n.orch = orch
	n.broker.OnComplete(orch.HandleComplete)
	n.broker.OnDead(orch.HandleDead)

	pending, err := n.unfinishedTasks()
	if err != nil {
		return err
	}
	if err := orch.Recover(ctx, pending); err != nil {
		return fmt.Errorf("failed to recover experiment: %w", err)
	}

	queueName, err := n.broker.Routes().Queue(types.ClassCoordinator)
	if err != nil {
		return err
	}
	n.worker, err = worker.NewWorker(n.broker, worker.Config{
		ID:          "coordinator-" + n.nodeName(),
		Queue:       queueName,
		Concurrency: n.cfg.Worker.Concurrency,
		Handlers:    orch.Handlers(),
	})
	if err != nil {
		return err
	}
	n.worker.Start(ctx)

	n.recon = reconciler.NewReconciler(n.broker, n.events, n.cfg.Queue.ReconcileInterval)
	n.recon.Start()

	if n.mgr != nil {
		n.collector = metrics.NewCollector(n.store, n.mgr)
	} else {
		n.collector = metrics.NewCollector(n.store, nil)
	}
	n.collector.Start()

	if opts.serve {
		if err := n.startAPI(); err != nil {
			return err
		}
	}

	if n.cfg.Sweep.AutoSeed > 0 {
		go n.autoSeed(ctx, n.cfg.Sweep.AutoSeed)
	}

	n.logger.Info().
		Str("kind", string(n.cfg.Sweep.Kind)).
		Str("results_dir", n.cfg.Sweep.ResultsDir).
		Msg("Coordinator started")
	return nil
}

// statusStore picks where the status markers are kept. Markers go through
// the state store whenever raft is on, so every coordinator sees them.
func (n *coordinatorNode) statusStore() (status.Store, error) {
	if n.cfg.Sweep.StatusFiles && !n.cfg.Replicated() {
		files, err := status.NewFileStore(n.cfg.StatusDir())
		if err != nil {
			return nil, err
		}
		return files, nil
	}
	return status.NewKVStore(n.store), nil
}

func (n *coordinatorNode) nodeName() string {
	if n.cfg.Raft.NodeID != "" {
		return n.cfg.Raft.NodeID
	}
	return "local"
}

func (n *coordinatorNode) unfinishedTasks() ([]*types.Task, error) {
	tasks, err := n.store.ListTasks()
	if err != nil {
		return nil, err
	}
	var pending []*types.Task
	for _, t := range tasks {
		if t.State == types.TaskStatePending || t.State == types.TaskStateLeased {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

func (n *coordinatorNode) waitForLeadership(ctx context.Context) error {
	metrics.SetCriticalComponents(append(metrics.CoordinatorComponents, metrics.ComponentRaft)...)
	metrics.RegisterComponent(metrics.ComponentRaft, false, "waiting for leadership")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for !n.mgr.IsLeader() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if addr := n.mgr.LeaderAddr(); addr != "" {
				n.logger.Debug().Str("leader", addr).Msg("Following raft leader")
			}
		}
	}
	metrics.UpdateComponent(metrics.ComponentRaft, true, "leader")
	n.logger.Info().Msg("Acquired raft leadership")
	return nil
}

// lostLeadership is closed when a replicated node stops leading. A nil
// channel never fires.
func (n *coordinatorNode) lostLeadership() <-chan struct{} {
	if n.mgr == nil {
		return nil
	}
	lost := make(chan struct{})
	leaderCh := n.mgr.LeaderCh()
	go func() {
		for leader := range leaderCh {
			if !leader {
				close(lost)
				return
			}
		}
	}()
	return lost
}

func (n *coordinatorNode) startHealth() {
	var cluster api.ClusterState
	if n.mgr != nil {
		cluster = n.mgr
	}
	store, err := n.statusStore()
	if err != nil {
		n.errCh <- err
		return
	}
	n.health = api.NewHealthServer(cluster, status.NewTracker(store))
	go func() {
		if err := n.health.Start(n.cfg.Server.HealthAddr); err != nil {
			n.errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()
}

func (n *coordinatorNode) startAPI() error {
	var opts []grpc.ServerOption
	if n.cfg.Server.TLS.Enabled() {
		opt, err := n.cfg.Server.TLS.ServerOption()
		if err != nil {
			return err
		}
		opts = append(opts, opt)
	}

	n.apiServer = api.NewServer(n.orch, n.broker, opts...)
	go func() {
		if err := n.apiServer.Start(n.cfg.Server.APIAddr); err != nil {
			n.errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	if n.cfg.Server.SocketPath != "" {
		n.localServer = api.NewLocalServer(n.orch, n.broker)
		go func() {
			if err := n.localServer.ServeUnix(n.cfg.Server.SocketPath); err != nil {
				n.errCh <- fmt.Errorf("local API error: %w", err)
			}
		}()
	}
	metrics.RegisterComponent(metrics.ComponentAPI, true, n.cfg.Server.APIAddr)
	return nil
}

func (n *coordinatorNode) autoSeed(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	err := n.orch.Seed(ctx)
	var dup *orchestrator.DuplicateSeedError
	switch {
	case errors.As(err, &dup):
		n.logger.Info().Time("started", dup.Started).Msg("Experiment already seeded")
	case err != nil:
		n.logger.Error().Err(err).Msg("Auto-seed failed")
	}
}

// wait blocks until ctx is done, a server fails or leadership is lost
func (n *coordinatorNode) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-n.errCh:
		return err
	case <-n.lostLeadership():
		return fmt.Errorf("lost raft leadership")
	}
}

// stop tears the node down in reverse start order. It is safe on a
// partially started node.
func (n *coordinatorNode) stop() {
	if n.apiServer != nil {
		n.apiServer.Stop()
	}
	if n.localServer != nil {
		n.localServer.Stop()
	}
	if n.collector != nil {
		n.collector.Stop()
	}
	if n.recon != nil {
		n.recon.Stop()
	}
	if n.worker != nil {
		n.worker.Stop()
	}
	if n.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = n.health.Stop(ctx)
		cancel()
	}
	if n.events != nil {
		n.events.Stop()
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			n.logger.Error().Err(err).Msg("Failed to close store")
		}
	}
}

// logEvents writes experiment events to the log
func logEvents(broker *events.Broker) {
	logger := log.WithComponent("events")
	sub := broker.Subscribe()
	for ev := range sub {
		e := logger.Info()
		if ev.Type == events.EventTaskFailed || ev.Type == events.EventExperimentFailed || ev.Type == events.EventPartitionIncomplete {
			e = logger.Warn()
		}
		for k, v := range ev.Metadata {
			e = e.Str(k, v)
		}
		e.Str("event", string(ev.Type)).Msg(ev.Message)
	}
}
