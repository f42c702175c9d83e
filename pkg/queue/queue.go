package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

var (
	// ErrNoTask is returned by TryLease when the queue is empty
	ErrNoTask = errors.New("no task available")
	// ErrUnknownTask is returned for acks or failures of unknown task IDs
	ErrUnknownTask = errors.New("unknown task")
	// ErrAlreadyAcked is returned when a task has already been acknowledged.
	// Callers treat it as success.
	ErrAlreadyAcked = errors.New("task already acknowledged")
	// ErrTaskDead is returned when acknowledging a task that exhausted its attempts
	ErrTaskDead = errors.New("task is dead")
	// ErrPrefetch is returned when a worker leases while holding a lease
	ErrPrefetch = errors.New("worker already holds a lease")
)

const (
	DefaultLeaseTimeout = 10 * time.Minute
	DefaultMaxAttempts  = 3
)

// Routes maps a task class to the queue that carries it
type Routes map[types.TaskClass]string

// DefaultRoutes sends coordinator tasks to "server" and kernel tasks to "worker"
func DefaultRoutes() Routes {
	return Routes{
		types.ClassCoordinator: "server",
		types.ClassWorker:      "worker",
	}
}

// Queue returns the queue name for class
func (r Routes) Queue(class types.TaskClass) (string, error) {
	q, ok := r[class]
	if !ok {
		return "", fmt.Errorf("no route for task class %q", class)
	}
	return q, nil
}

// TaskStore is the persistence the broker needs
type TaskStore interface {
	CreateTasks(tasks ...*types.Task) error
	GetTask(id string) (*types.Task, error)
	UpdateTask(task *types.Task) error
	ListTasks() ([]*types.Task, error)
}

// CompleteFunc runs when a task is acknowledged, before it is marked
// complete. It must be idempotent: a redelivered task may complete twice.
type CompleteFunc func(ctx context.Context, task *types.Task, result json.RawMessage) error

// DeadFunc runs once when a task exhausts its attempts
type DeadFunc func(ctx context.Context, task *types.Task)

// Config holds broker settings
type Config struct {
	Routes       Routes
	LeaseTimeout time.Duration
	MaxAttempts  int
}

// Broker is a persistent task queue with at-least-once delivery. Tasks are
// leased one at a time per worker and acknowledged only after they finish.
// A lease that is neither acked nor failed before it expires is returned to
// the queue by RequeueExpired.
type Broker struct {
	store  TaskStore
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	pending  map[string][]string
	signal   map[string]chan struct{}
	holders  map[string]string
	complete []CompleteFunc
	dead     []DeadFunc

	// now is the broker clock
	now func() time.Time
}

// NewBroker creates a broker over store. Call Recover before serving if the
// store may hold tasks from a previous run.
func NewBroker(store TaskStore, cfg Config) *Broker {
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes()
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Broker{
		store:   store,
		config:  cfg,
		logger:  log.WithComponent("queue"),
		pending: make(map[string][]string),
		signal:  make(map[string]chan struct{}),
		holders: make(map[string]string),
		now:     time.Now,
	}
}

// Routes returns the routing table
func (b *Broker) Routes() Routes {
	return b.config.Routes
}

// OnComplete registers a completion hook
func (b *Broker) OnComplete(fn CompleteFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.complete = append(b.complete, fn)
}

// OnDead registers a dead-task hook
func (b *Broker) OnDead(fn DeadFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = append(b.dead, fn)
}

// Recover rebuilds the in-memory queues from the store. Pending tasks are
// queued in submission order; leased tasks keep their lease until it expires.
func (b *Broker) Recover() error {
	tasks, err := b.store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = make(map[string][]string)
	b.holders = make(map[string]string)
	recovered := 0
	for _, task := range tasks {
		switch task.State {
		case types.TaskStatePending:
			b.pending[task.Queue] = append(b.pending[task.Queue], task.ID)
			recovered++
		case types.TaskStateLeased:
			b.holders[task.WorkerID] = task.ID
			recovered++
		}
	}
	for q := range b.pending {
		b.wakeLocked(q)
	}

	b.logger.Info().Int("tasks", recovered).Msg("Queue recovered")
	return nil
}

// Submit routes and persists tasks, then makes them available for lease.
// Missing IDs are generated.
func (b *Broker) Submit(ctx context.Context, tasks ...*types.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := b.now()
	for _, task := range tasks {
		q, err := b.config.Routes.Queue(task.Class)
		if err != nil {
			return err
		}
		if task.ID == "" {
			task.ID = uuid.New().String()
		}
		task.Queue = q
		task.State = types.TaskStatePending
		if task.MaxAttempts <= 0 {
			task.MaxAttempts = b.config.MaxAttempts
		}
		task.CreatedAt = now
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.CreateTasks(tasks...); err != nil {
		return fmt.Errorf("failed to persist tasks: %w", err)
	}
	for _, task := range tasks {
		b.pending[task.Queue] = append(b.pending[task.Queue], task.ID)
		b.wakeLocked(task.Queue)
		metrics.TasksSubmitted.WithLabelValues(string(task.Class)).Inc()
	}
	return nil
}

// Lease blocks until a task is available on queue or ctx is done
func (b *Broker) Lease(ctx context.Context, queue, workerID string) (*types.Task, error) {
	for {
		task, wait, err := b.tryLease(queue, workerID)
		if !errors.Is(err, ErrNoTask) {
			return task, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryLease leases the next task on queue without blocking
func (b *Broker) TryLease(queue, workerID string) (*types.Task, error) {
	task, _, err := b.tryLease(queue, workerID)
	return task, err
}

func (b *Broker) tryLease(queue, workerID string) (*types.Task, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if held, ok := b.holders[workerID]; ok {
		return nil, nil, fmt.Errorf("%w: %s holds %s", ErrPrefetch, workerID, held)
	}

	for len(b.pending[queue]) > 0 {
		id := b.pending[queue][0]
		b.pending[queue] = b.pending[queue][1:]

		task, err := b.store.GetTask(id)
		if err != nil {
			b.logger.Error().Err(err).Str("task_id", id).Msg("Dropping unreadable task")
			continue
		}
		if task.State != types.TaskStatePending {
			continue
		}

		now := b.now()
		task.State = types.TaskStateLeased
		task.WorkerID = workerID
		task.Attempts++
		task.StartedAt = now
		task.LeaseExpiry = now.Add(b.config.LeaseTimeout)
		if err := b.store.UpdateTask(task); err != nil {
			b.pending[queue] = append([]string{id}, b.pending[queue]...)
			return nil, nil, fmt.Errorf("failed to lease task: %w", err)
		}
		b.holders[workerID] = task.ID

		logger := log.WithTaskID(task.ID)
		logger.Debug().
			Str("name", task.Name).
			Str("worker_id", workerID).
			Int("attempt", task.Attempts).
			Msg("Task leased")
		return task, nil, nil
	}

	return nil, b.waitLocked(queue), ErrNoTask
}

// Ack acknowledges a finished task. Completion hooks run first and must
// succeed before the task is marked complete, so a crash in between leads to
// redelivery rather than a lost result.
func (b *Broker) Ack(ctx context.Context, taskID, workerID string, result json.RawMessage) error {
	task, err := b.lookup(taskID)
	if err != nil {
		return err
	}
	switch task.State {
	case types.TaskStateComplete:
		b.release(workerID, taskID)
		return ErrAlreadyAcked
	case types.TaskStateDead:
		b.release(workerID, taskID)
		return ErrTaskDead
	}

	b.mu.Lock()
	hooks := append([]CompleteFunc(nil), b.complete...)
	b.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(ctx, task, result); err != nil {
			return fmt.Errorf("completion of task %s failed: %w", taskID, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Re-read under the lock: a concurrent ack of a redelivered copy may
	// have won the race.
	task, err = b.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	b.releaseLocked(workerID, taskID)
	if task.State == types.TaskStateComplete {
		return ErrAlreadyAcked
	}

	task.State = types.TaskStateComplete
	task.FinishedAt = b.now()
	task.Error = ""
	b.removePendingLocked(task.Queue, taskID)
	if err := b.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to mark task complete: %w", err)
	}
	metrics.TasksAcked.WithLabelValues(string(task.Class)).Inc()
	return nil
}

// Fail reports a failed attempt. The task is requeued while it has attempts
// left, otherwise it becomes dead and the dead hooks run.
func (b *Broker) Fail(ctx context.Context, taskID, workerID string, cause error) error {
	b.mu.Lock()
	task, err := b.store.GetTask(taskID)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	b.releaseLocked(workerID, taskID)
	if task.State == types.TaskStateComplete || task.State == types.TaskStateDead {
		b.mu.Unlock()
		return nil
	}
	// The lease expired and the task went back to the queue or to another
	// worker; only the current holder can spend an attempt.
	if task.State != types.TaskStateLeased || task.WorkerID != workerID {
		b.mu.Unlock()
		logger := log.WithTaskID(taskID)
		logger.Debug().Str("worker_id", workerID).Msg("Ignoring failure from a worker that lost its lease")
		return nil
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	metrics.TasksFailed.WithLabelValues(string(task.Class)).Inc()
	died, err := b.retryLocked(task, msg)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	if died {
		b.runDead(ctx, task)
	}
	return nil
}

// RequeueExpired returns every task whose lease has expired to its queue,
// or marks it dead when it has no attempts left. It returns the number of
// tasks touched.
func (b *Broker) RequeueExpired(ctx context.Context) (int, error) {
	tasks, err := b.store.ListTasks()
	if err != nil {
		return 0, err
	}

	now := b.now()
	var died []*types.Task
	count := 0

	b.mu.Lock()
	for _, task := range tasks {
		if task.State != types.TaskStateLeased || now.Before(task.LeaseExpiry) {
			continue
		}
		current, err := b.store.GetTask(task.ID)
		if err != nil || current.State != types.TaskStateLeased {
			continue
		}
		if holder, ok := b.holders[current.WorkerID]; ok && holder == current.ID {
			delete(b.holders, current.WorkerID)
		}

		dead, err := b.retryLocked(current, "lease expired")
		if err != nil {
			b.mu.Unlock()
			return count, err
		}
		count++
		if dead {
			died = append(died, current)
		} else {
			metrics.TasksRedelivered.Inc()
		}
	}
	b.mu.Unlock()

	for _, task := range died {
		b.runDead(ctx, task)
	}
	return count, nil
}

// Depth returns the number of pending tasks on queue
func (b *Broker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[queue])
}

// Get returns a task by ID
func (b *Broker) Get(taskID string) (*types.Task, error) {
	return b.lookup(taskID)
}

func (b *Broker) lookup(taskID string) (*types.Task, error) {
	task, err := b.store.GetTask(taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return task, err
}

// retryLocked requeues task or marks it dead, returning true when dead
func (b *Broker) retryLocked(task *types.Task, msg string) (bool, error) {
	task.Error = msg
	task.WorkerID = ""
	task.LeaseExpiry = time.Time{}

	if task.Attempts < task.MaxAttempts {
		task.State = types.TaskStatePending
		if err := b.store.UpdateTask(task); err != nil {
			return false, fmt.Errorf("failed to requeue task: %w", err)
		}
		b.pending[task.Queue] = append(b.pending[task.Queue], task.ID)
		b.wakeLocked(task.Queue)
		logger := log.WithTaskID(task.ID)
		logger.Warn().
			Str("name", task.Name).
			Int("attempt", task.Attempts).
			Str("error", msg).
			Msg("Task requeued")
		return false, nil
	}

	task.State = types.TaskStateDead
	task.FinishedAt = b.now()
	if err := b.store.UpdateTask(task); err != nil {
		return false, fmt.Errorf("failed to mark task dead: %w", err)
	}
	metrics.TasksDead.WithLabelValues(string(task.Class)).Inc()
	logger := log.WithTaskID(task.ID)
	logger.Error().
		Str("name", task.Name).
		Int("attempts", task.Attempts).
		Str("error", msg).
		Msg("Task exhausted its attempts")
	return true, nil
}

func (b *Broker) runDead(ctx context.Context, task *types.Task) {
	b.mu.Lock()
	hooks := append([]DeadFunc(nil), b.dead...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, task)
	}
}

func (b *Broker) release(workerID, taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked(workerID, taskID)
}

func (b *Broker) releaseLocked(workerID, taskID string) {
	if held, ok := b.holders[workerID]; ok && held == taskID {
		delete(b.holders, workerID)
	}
}

func (b *Broker) removePendingLocked(queue, taskID string) {
	ids := b.pending[queue]
	for i, id := range ids {
		if id == taskID {
			b.pending[queue] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

// waitLocked returns a channel closed on the next submission to queue
func (b *Broker) waitLocked(queue string) <-chan struct{} {
	ch, ok := b.signal[queue]
	if !ok {
		ch = make(chan struct{})
		b.signal[queue] = ch
	}
	return ch
}

func (b *Broker) wakeLocked(queue string) {
	if ch, ok := b.signal[queue]; ok {
		close(ch)
		delete(b.signal, queue)
	}
}
