package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/queue"
	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

func newBroker(t *testing.T) *queue.Broker {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return queue.NewBroker(store, queue.Config{MaxAttempts: 2})
}

func TestNewWorkerValidation(t *testing.T) {
	b := newBroker(t)

	_, err := NewWorker(b, Config{Handlers: map[string]Handler{"x": nil}})
	assert.Error(t, err)

	_, err = NewWorker(b, Config{Queue: "worker"})
	assert.Error(t, err)

	w, err := NewWorker(b, Config{Queue: "worker", Handlers: map[string]Handler{"x": nil}})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID())
	assert.Greater(t, w.concurrency, 0)
}

func TestWorkerAcksSuccessfulTasks(t *testing.T) {
	b := newBroker(t)

	var mu sync.Mutex
	results := map[string]string{}
	b.OnComplete(func(_ context.Context, task *types.Task, result json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		results[task.ID] = string(result)
		return nil
	})

	w, err := NewWorker(b, Config{
		ID:          "w",
		Queue:       "worker",
		Concurrency: 2,
		Handlers: map[string]Handler{
			"echo": func(_ context.Context, task *types.Task) (json.RawMessage, error) {
				return task.Args, nil
			},
		},
	})
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	tasks := []*types.Task{
		{Name: "echo", Class: types.ClassWorker, Args: json.RawMessage(`1`)},
		{Name: "echo", Class: types.ClassWorker, Args: json.RawMessage(`2`)},
		{Name: "echo", Class: types.ClassWorker, Args: json.RawMessage(`3`)},
	}
	require.NoError(t, b.Submit(context.Background(), tasks...))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 3
	}, 5*time.Second, 10*time.Millisecond)

	for _, task := range tasks {
		require.Eventually(t, func() bool {
			got, err := b.Get(task.ID)
			return err == nil && got.State == types.TaskStateComplete
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, string(task.Args), results[task.ID])
	}
}

func TestWorkerFailsTasks(t *testing.T) {
	b := newBroker(t)
	var attempts atomic.Int32
	dead := make(chan *types.Task, 1)
	b.OnDead(func(_ context.Context, task *types.Task) { dead <- task })

	w, err := NewWorker(b, Config{
		Queue:       "worker",
		Concurrency: 1,
		Handlers: map[string]Handler{
			"boom": func(context.Context, *types.Task) (json.RawMessage, error) {
				attempts.Add(1)
				return nil, errors.New("boom")
			},
		},
	})
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, b.Submit(context.Background(), &types.Task{Name: "boom", Class: types.ClassWorker}))

	select {
	case task := <-dead:
		assert.Equal(t, types.TaskStateDead, task.State)
		assert.Equal(t, "boom", task.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("task never died")
	}
	assert.Equal(t, int32(2), attempts.Load())
}

func TestWorkerFailsUnknownTasks(t *testing.T) {
	b := newBroker(t)
	dead := make(chan *types.Task, 1)
	b.OnDead(func(_ context.Context, task *types.Task) { dead <- task })

	w, err := NewWorker(b, Config{
		Queue:       "worker",
		Concurrency: 1,
		Handlers:    map[string]Handler{"known": func(context.Context, *types.Task) (json.RawMessage, error) { return nil, nil }},
	})
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, b.Submit(context.Background(), &types.Task{Name: "unknown", Class: types.ClassWorker}))

	select {
	case task := <-dead:
		assert.Contains(t, task.Error, ErrNoHandler.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("task never died")
	}
}

func TestWorkerShutdownLeavesLease(t *testing.T) {
	b := newBroker(t)
	started := make(chan struct{})

	w, err := NewWorker(b, Config{
		Queue:       "worker",
		Concurrency: 1,
		Handlers: map[string]Handler{
			"slow": func(ctx context.Context, _ *types.Task) (json.RawMessage, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	})
	require.NoError(t, err)
	w.Start(context.Background())

	task := &types.Task{Name: "slow", Class: types.ClassWorker}
	require.NoError(t, b.Submit(context.Background(), task))
	<-started
	w.Stop()

	got, err := b.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateLeased, got.State)
	assert.Equal(t, 1, got.Attempts)
}

func TestKernelHandler(t *testing.T) {
	k := kernel.KernelFunc(func(_ context.Context, req kernel.Request) (*types.TaskResult, error) {
		return &types.TaskResult{Key: req.Key, Value: float64(req.Tuple.Int("m") * 10)}, nil
	})
	h := KernelHandler(k)

	args, err := json.Marshal(kernel.Request{
		Sub: "I1",
		Key: "3:2",
		Tuple: types.ParameterTuple{
			Names:  []string{"m"},
			Values: []float64{2},
			Index:  []int{2},
		},
	})
	require.NoError(t, err)

	out, err := h(context.Background(), &types.Task{Args: args})
	require.NoError(t, err)

	var res types.TaskResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, types.CacheKey("3:2"), res.Key)
	assert.Equal(t, 20.0, res.Value)

	_, err = h(context.Background(), &types.Task{Args: json.RawMessage(`{`)})
	assert.Error(t, err)
}
