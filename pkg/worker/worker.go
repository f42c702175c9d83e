package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/queue"
	"github.com/cuemby/sweep/pkg/types"
)

// ErrNoHandler is reported for tasks the worker has no handler for
var ErrNoHandler = errors.New("no handler registered")

// Handler executes one task and returns its JSON encoded result
type Handler func(ctx context.Context, task *types.Task) (json.RawMessage, error)

// Source hands out tasks and takes back their outcome. It is implemented by
// queue.Broker in-process and by client.Client over gRPC.
type Source interface {
	Lease(ctx context.Context, queue, workerID string) (*types.Task, error)
	Ack(ctx context.Context, taskID, workerID string, result json.RawMessage) error
	Fail(ctx context.Context, taskID, workerID string, cause error) error
}

// Config holds worker configuration
type Config struct {
	// ID identifies the worker; generated when empty
	ID string
	// Queue is the queue the worker consumes
	Queue string
	// Concurrency is the number of slots, each holding at most one task.
	// Defaults to the number of CPUs.
	Concurrency int
	Handlers    map[string]Handler
}

// Worker consumes one queue with a fixed number of slots. Each slot leases
// a single task, runs it, and acknowledges it only after it succeeded.
type Worker struct {
	id          string
	queue       string
	concurrency int
	source      Source
	handlers    map[string]Handler
	logger      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// retryDelay is the pause after a lease error
	retryDelay time.Duration
}

// NewWorker creates a new worker instance
func NewWorker(source Source, cfg Config) (*Worker, error) {
	if cfg.Queue == "" {
		return nil, fmt.Errorf("worker queue is required")
	}
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("worker for queue %s has no handlers", cfg.Queue)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}

	return &Worker{
		id:          cfg.ID,
		queue:       cfg.Queue,
		concurrency: cfg.Concurrency,
		source:      source,
		handlers:    cfg.Handlers,
		logger:      log.WithWorkerID(cfg.ID).With().Str("queue", cfg.Queue).Logger(),
		retryDelay:  time.Second,
	}, nil
}

// ID returns the worker ID
func (w *Worker) ID() string {
	return w.id
}

// Start launches the worker slots
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for slot := 0; slot < w.concurrency; slot++ {
		w.wg.Add(1)
		go func(slot int) {
			defer w.wg.Done()
			w.slotLoop(ctx, fmt.Sprintf("%s/%d", w.id, slot))
		}(slot)
	}
	w.logger.Info().Int("slots", w.concurrency).Msg("Worker started")
}

// Stop stops leasing and waits for running tasks to return
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info().Msg("Worker stopped")
}

func (w *Worker) slotLoop(ctx context.Context, slotID string) {
	for {
		task, err := w.source.Lease(ctx, w.queue, slotID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Str("slot", slotID).Msg("Lease failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}
		w.execute(ctx, slotID, task)
	}
}

// execute runs one task. On shutdown the task is neither acked nor failed
// so its lease expires and it is delivered again.
func (w *Worker) execute(ctx context.Context, slotID string, task *types.Task) {
	logger := w.logger.With().Str("task_id", task.ID).Str("name", task.Name).Logger()

	handler, ok := w.handlers[task.Name]
	if !ok {
		logger.Error().Msg("No handler for task")
		w.report(ctx, logger, w.source.Fail(ctx, task.ID, slotID, fmt.Errorf("%w: %s", ErrNoHandler, task.Name)))
		return
	}

	timer := metrics.NewTimer()
	result, err := handler(ctx, task)
	timer.ObserveDurationVec(metrics.KernelDuration, task.Name)

	if ctx.Err() != nil {
		logger.Warn().Msg("Task interrupted by shutdown")
		return
	}
	if err != nil {
		logger.Warn().Err(err).Int("attempt", task.Attempts).Msg("Task failed")
		w.report(ctx, logger, w.source.Fail(ctx, task.ID, slotID, err))
		return
	}

	err = w.source.Ack(ctx, task.ID, slotID, result)
	if errors.Is(err, queue.ErrAlreadyAcked) {
		logger.Debug().Msg("Task was already acknowledged")
		return
	}
	w.report(ctx, logger, err)
	if err == nil {
		logger.Debug().Dur("duration", timer.Duration()).Msg("Task acknowledged")
	}
}

func (w *Worker) report(ctx context.Context, logger zerolog.Logger, err error) {
	if err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("Failed to report task outcome")
	}
}

// KernelHandler wraps a kernel as a task handler. The task arguments are a
// kernel.Request and the result is the encoded types.TaskResult.
func KernelHandler(k kernel.Kernel) Handler {
	return func(ctx context.Context, task *types.Task) (json.RawMessage, error) {
		var req kernel.Request
		if err := json.Unmarshal(task.Args, &req); err != nil {
			return nil, fmt.Errorf("invalid kernel request: %w", err)
		}
		res, err := k.Compute(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}
