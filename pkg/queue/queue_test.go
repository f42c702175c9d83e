package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBroker(t *testing.T, cfg Config) (*Broker, *storage.BoltStore, *clock) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBroker(store, cfg)
	b.now = c.Now
	return b, store, c
}

func workerTask(name string) *types.Task {
	return &types.Task{Name: name, Class: types.ClassWorker}
}

func TestSubmitRoutesByClass(t *testing.T) {
	b, _, _ := newTestBroker(t, Config{})
	ctx := context.Background()

	server := &types.Task{Name: "combine_table", Class: types.ClassCoordinator}
	kernel := workerTask("compute_integral")
	require.NoError(t, b.Submit(ctx, server, kernel))

	assert.Equal(t, "server", server.Queue)
	assert.Equal(t, "worker", kernel.Queue)
	assert.NotEmpty(t, kernel.ID)
	assert.Equal(t, DefaultMaxAttempts, kernel.MaxAttempts)
	assert.Equal(t, 1, b.Depth("server"))
	assert.Equal(t, 1, b.Depth("worker"))

	err := b.Submit(ctx, &types.Task{Name: "x", Class: "gpu"})
	assert.Error(t, err)
}

func TestLeaseOrderAndPrefetch(t *testing.T) {
	b, _, _ := newTestBroker(t, Config{})
	ctx := context.Background()

	first, second := workerTask("a"), workerTask("b")
	require.NoError(t, b.Submit(ctx, first, second))

	got, err := b.TryLease("worker", "w1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, types.TaskStateLeased, got.State)
	assert.Equal(t, 1, got.Attempts)

	_, err = b.TryLease("worker", "w1")
	assert.ErrorIs(t, err, ErrPrefetch)

	got, err = b.TryLease("worker", "w2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = b.TryLease("worker", "w3")
	assert.ErrorIs(t, err, ErrNoTask)

	_, err = b.TryLease("server", "w3")
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestLeaseBlocksUntilSubmit(t *testing.T) {
	b, _, _ := newTestBroker(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	leased := make(chan *types.Task, 1)
	go func() {
		task, err := b.Lease(ctx, "worker", "w1")
		assert.NoError(t, err)
		leased <- task
	}()

	time.Sleep(20 * time.Millisecond)
	task := workerTask("late")
	require.NoError(t, b.Submit(ctx, task))

	select {
	case got := <-leased:
		assert.Equal(t, task.ID, got.ID)
	case <-ctx.Done():
		t.Fatal("lease never returned")
	}
}

func TestLeaseHonorsContext(t *testing.T) {
	b, _, _ := newTestBroker(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Lease(ctx, "worker", "w1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAckRunsHooksBeforeCompleting(t *testing.T) {
	b, store, _ := newTestBroker(t, Config{})
	ctx := context.Background()

	var seen []string
	b.OnComplete(func(ctx context.Context, task *types.Task, result json.RawMessage) error {
		stored, err := store.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStateLeased, stored.State)
		seen = append(seen, string(result))
		return nil
	})

	require.NoError(t, b.Submit(ctx, workerTask("a")))
	task, err := b.TryLease("worker", "w1")
	require.NoError(t, err)

	require.NoError(t, b.Ack(ctx, task.ID, "w1", json.RawMessage(`{"value":1}`)))
	assert.ErrorIs(t, b.Ack(ctx, task.ID, "w1", nil), ErrAlreadyAcked)
	assert.Equal(t, []string{`{"value":1}`}, seen)

	stored, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateComplete, stored.State)

	// The slot is free again
	require.NoError(t, b.Submit(ctx, workerTask("b")))
	_, err = b.TryLease("worker", "w1")
	assert.NoError(t, err)

	assert.ErrorIs(t, b.Ack(ctx, "missing", "w1", nil), ErrUnknownTask)
}

func TestAckHookFailureKeepsTaskLeased(t *testing.T) {
	b, store, _ := newTestBroker(t, Config{})
	ctx := context.Background()

	b.OnComplete(func(context.Context, *types.Task, json.RawMessage) error {
		return errors.New("store unavailable")
	})

	require.NoError(t, b.Submit(ctx, workerTask("a")))
	task, err := b.TryLease("worker", "w1")
	require.NoError(t, err)

	assert.Error(t, b.Ack(ctx, task.ID, "w1", nil))
	stored, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateLeased, stored.State)
}

func TestFailRetriesThenDies(t *testing.T) {
	b, _, _ := newTestBroker(t, Config{MaxAttempts: 2})
	ctx := context.Background()

	var dead []string
	b.OnDead(func(ctx context.Context, task *types.Task) {
		dead = append(dead, task.ID)
	})

	task := workerTask("flaky")
	require.NoError(t, b.Submit(ctx, task))

	leased, err := b.TryLease("worker", "w1")
	require.NoError(t, err)
	require.NoError(t, b.Fail(ctx, leased.ID, "w1", errors.New("boom")))
	assert.Empty(t, dead)
	assert.Equal(t, 1, b.Depth("worker"))

	leased, err = b.TryLease("worker", "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, leased.Attempts)
	require.NoError(t, b.Fail(ctx, leased.ID, "w1", errors.New("boom")))

	assert.Equal(t, []string{task.ID}, dead)
	assert.Equal(t, 0, b.Depth("worker"))

	got, err := b.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateDead, got.State)
	assert.Equal(t, "boom", got.Error)

	assert.ErrorIs(t, b.Ack(ctx, task.ID, "w1", nil), ErrTaskDead)
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	b, _, c := newTestBroker(t, Config{LeaseTimeout: time.Minute})
	ctx := context.Background()

	acks := 0
	b.OnComplete(func(context.Context, *types.Task, json.RawMessage) error {
		acks++
		return nil
	})

	task := workerTask("slow")
	require.NoError(t, b.Submit(ctx, task))
	_, err := b.TryLease("worker", "w1")
	require.NoError(t, err)

	n, err := b.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	c.Advance(2 * time.Minute)
	n, err = b.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	redelivered, err := b.TryLease("worker", "w2")
	require.NoError(t, err)
	assert.Equal(t, task.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempts)

	// The first worker finishes late; its ack counts
	require.NoError(t, b.Ack(ctx, task.ID, "w1", nil))
	assert.ErrorIs(t, b.Ack(ctx, task.ID, "w2", nil), ErrAlreadyAcked)
	assert.Equal(t, 1, acks)
}

func TestFailFromExpiredLeaseIsIgnored(t *testing.T) {
	b, _, c := newTestBroker(t, Config{LeaseTimeout: time.Minute, MaxAttempts: 2})
	ctx := context.Background()

	dead := 0
	b.OnDead(func(context.Context, *types.Task) { dead++ })

	task := workerTask("slow")
	require.NoError(t, b.Submit(ctx, task))
	_, err := b.TryLease("worker", "w1")
	require.NoError(t, err)

	c.Advance(2 * time.Minute)
	n, err := b.RequeueExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Requeued but not yet leased again
	require.NoError(t, b.Fail(ctx, task.ID, "w1", errors.New("late")))
	assert.Equal(t, 1, b.Depth("worker"))

	redelivered, err := b.TryLease("worker", "w2")
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.Attempts)

	require.NoError(t, b.Fail(ctx, task.ID, "w1", errors.New("late")))
	assert.Equal(t, 0, dead)

	got, err := b.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateLeased, got.State)
	assert.Equal(t, "w2", got.WorkerID)

	require.NoError(t, b.Ack(ctx, task.ID, "w2", nil))
	got, err = b.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateComplete, got.State)
}

func TestExpiredLeaseExhaustsAttempts(t *testing.T) {
	b, _, c := newTestBroker(t, Config{LeaseTimeout: time.Minute, MaxAttempts: 1})
	ctx := context.Background()

	dead := 0
	b.OnDead(func(context.Context, *types.Task) { dead++ })

	require.NoError(t, b.Submit(ctx, workerTask("lost")))
	_, err := b.TryLease("worker", "w1")
	require.NoError(t, err)

	c.Advance(time.Hour)
	_, err = b.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
	assert.Equal(t, 0, b.Depth("worker"))
}

func TestRecover(t *testing.T) {
	b, store, _ := newTestBroker(t, Config{})
	ctx := context.Background()

	first, second := workerTask("a"), workerTask("b")
	require.NoError(t, b.Submit(ctx, first, second))
	_, err := b.TryLease("worker", "w1")
	require.NoError(t, err)

	restarted := NewBroker(store, Config{})
	require.NoError(t, restarted.Recover())
	assert.Equal(t, 1, restarted.Depth("worker"))

	_, err = restarted.TryLease("worker", "w1")
	assert.ErrorIs(t, err, ErrPrefetch)

	got, err := restarted.TryLease("worker", "w2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}
