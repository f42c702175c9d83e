package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/sweep/pkg/api"
	"github.com/cuemby/sweep/pkg/queue"
	"github.com/cuemby/sweep/pkg/status"
	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

// seedOnce is a coordinator backed by a real tracker
type seedOnce struct {
	tracker *status.Tracker
}

func (s seedOnce) Seed(ctx context.Context) error { return s.tracker.Seed(ctx) }

func (s seedOnce) Status(ctx context.Context) (types.ExperimentStatus, error) {
	return s.tracker.Status(ctx)
}

type fixture struct {
	broker *queue.Broker
	client *Client
	local  *Client
	// dial opens another client to the remote API
	dial func(opts ...Option) (*Client, error)
}

func dialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := queue.NewBroker(store, queue.Config{MaxAttempts: 1})
	coord := seedOnce{tracker: status.NewTracker(status.NewKVStore(store))}

	listen := func(srv *api.Server) *bufconn.Listener {
		lis := bufconn.Listen(1 << 20)
		go srv.Serve(lis)
		t.Cleanup(srv.Stop)
		return lis
	}
	connect := func(lis *bufconn.Listener, opts ...Option) *Client {
		c, err := NewClient("passthrough:///bufnet", append(opts, WithDialOptions(dialer(lis)))...)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		return c
	}

	remote := api.NewServer(coord, broker)
	remote.LeaseWait = 50 * time.Millisecond
	remoteLis := listen(remote)
	c := connect(remoteLis)
	c.LeaseWait = 50 * time.Millisecond

	return &fixture{
		broker: broker,
		client: c,
		local:  connect(listen(api.NewLocalServer(coord, broker))),
		dial: func(opts ...Option) (*Client, error) {
			return NewClient("passthrough:///bufnet", append(opts, WithDialOptions(dialer(remoteLis)))...)
		},
	}
}

func TestSeedAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentNotStarted, st.State())

	started, err := f.client.Seed(ctx)
	require.NoError(t, err)
	assert.False(t, started.IsZero())

	_, err = f.client.Seed(ctx)
	var dup *status.DuplicateSeedError
	require.ErrorAs(t, err, &dup)
	assert.True(t, dup.Started.Equal(started))

	st, err = f.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentStarted, st.State())
}

func TestCompressedConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.dial(WithCompression(api.CompressionGzip))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Seed(ctx)
	require.NoError(t, err)

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentStarted, st.State())
}

func TestUnknownCompression(t *testing.T) {
	_, err := NewClient("passthrough:///bufnet", WithCompression("bzip2"))
	assert.Error(t, err)
}

func TestLocalSocketIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.local.Status(ctx)
	require.NoError(t, err)

	depth, err := f.local.QueueDepth(ctx, "worker")
	require.NoError(t, err)
	assert.Zero(t, depth)

	_, err = f.local.Seed(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestLeaseAckOverTheWire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var acked json.RawMessage
	f.broker.OnComplete(func(_ context.Context, _ *types.Task, result json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		acked = result
		return nil
	})

	// Lease blocks across several empty long-poll windows
	go func() {
		time.Sleep(200 * time.Millisecond)
		f.broker.Submit(context.Background(), &types.Task{Name: "compute_integral", Class: types.ClassWorker})
	}()

	task, err := f.client.Lease(ctx, "worker", "remote/0")
	require.NoError(t, err)
	assert.Equal(t, "compute_integral", task.Name)
	assert.Equal(t, types.TaskStateLeased, task.State)

	depth, err := f.client.QueueDepth(ctx, "worker")
	require.NoError(t, err)
	assert.Zero(t, depth)

	require.NoError(t, f.client.Ack(ctx, task.ID, "remote/0", json.RawMessage(`{"value":1}`)))
	mu.Lock()
	assert.JSONEq(t, `{"value":1}`, string(acked))
	mu.Unlock()

	err = f.client.Ack(ctx, task.ID, "remote/0", nil)
	assert.True(t, errors.Is(err, queue.ErrAlreadyAcked))
}

func TestFailOverTheWire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dead := make(chan *types.Task, 1)
	f.broker.OnDead(func(_ context.Context, task *types.Task) { dead <- task })
	require.NoError(t, f.broker.Submit(ctx, &types.Task{Name: "simulate_pendulum", Class: types.ClassWorker}))

	task, err := f.client.Lease(ctx, "worker", "remote/0")
	require.NoError(t, err)
	require.NoError(t, f.client.Fail(ctx, task.ID, "remote/0", errors.New("diverged")))

	select {
	case d := <-dead:
		assert.Equal(t, "diverged", d.Error)
	case <-time.After(time.Second):
		t.Fatal("task was not dead-lettered")
	}

	err = f.client.Ack(ctx, task.ID, "remote/0", nil)
	assert.True(t, errors.Is(err, queue.ErrTaskDead))

	err = f.client.Ack(ctx, "missing", "remote/0", nil)
	assert.True(t, errors.Is(err, queue.ErrUnknownTask))
}

func TestLeaseHonorsContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := f.client.Lease(ctx, "worker", "remote/0")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
