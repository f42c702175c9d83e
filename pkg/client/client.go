package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/sweep/pkg/api"
	"github.com/cuemby/sweep/pkg/types"
)

// DefaultTimeout bounds every call except Lease
const DefaultTimeout = 10 * time.Second

// Client talks to a coordinator's gRPC API. It implements worker.Source,
// so a remote worker consumes the queue exactly like an in-process one.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration

	// LeaseWait is the long-poll window requested per Lease round trip
	LeaseWait time.Duration
}

// Option configures a client
type Option func(*options)

type options struct {
	tls         api.TLSFiles
	compression string
	dial        []grpc.DialOption
}

// WithTLS connects with mutual TLS using the given files
func WithTLS(files api.TLSFiles) Option {
	return func(o *options) { o.tls = files }
}

// WithCompression compresses every request with the named compressor.
// Empty or "none" sends plain messages.
func WithCompression(name string) Option {
	return func(o *options) { o.compression = name }
}

// WithDialOptions appends raw gRPC dial options
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dial = append(o.dial, opts...) }
}

// NewClient connects to the API at addr. Without WithTLS the connection
// is plaintext.
func NewClient(addr string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	creds := grpc.WithTransportCredentials(insecure.NewCredentials())
	if o.tls.Enabled() {
		var err error
		creds, err = o.tls.DialOption()
		if err != nil {
			return nil, err
		}
	}

	if err := api.ValidateCompression(o.compression); err != nil {
		return nil, err
	}
	callOpts := []grpc.CallOption{grpc.CallContentSubtype(api.CodecName)}
	if o.compression != "" && o.compression != api.CompressionNone {
		callOpts = append(callOpts, grpc.UseCompressor(o.compression))
	}

	dial := append([]grpc.DialOption{
		creds,
		grpc.WithDefaultCallOptions(callOpts...),
	}, o.dial...)

	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout, LeaseWait: api.DefaultLeaseWait}, nil
}

// NewLocalClient connects to the read-only Unix socket at path
func NewLocalClient(path string) (*Client, error) {
	return NewClient("unix://" + path)
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return api.FromStatus(err)
	}
	return nil
}

// Seed starts the experiment and returns the started timestamp. A second
// seed fails with *status.DuplicateSeedError.
func (c *Client) Seed(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp api.SeedResponse
	if err := c.invoke(ctx, api.MethodSeed, &api.SeedRequest{}, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.Started, nil
}

// Status returns the experiment markers
func (c *Client) Status(ctx context.Context) (types.ExperimentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp api.GetStatusResponse
	if err := c.invoke(ctx, api.MethodGetStatus, &api.GetStatusRequest{}, &resp); err != nil {
		return types.ExperimentStatus{}, err
	}
	return resp.Status, nil
}

// QueueDepth returns the number of pending tasks on queue
func (c *Client) QueueDepth(ctx context.Context, queue string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp api.GetQueueDepthResponse
	if err := c.invoke(ctx, api.MethodGetQueueDepth, &api.GetQueueDepthRequest{Queue: queue}, &resp); err != nil {
		return 0, err
	}
	return resp.Depth, nil
}

// Lease blocks until a task is available or ctx is done, polling the
// server in LeaseWait windows
func (c *Client) Lease(ctx context.Context, queue, workerID string) (*types.Task, error) {
	for {
		var resp api.LeaseResponse
		req := &api.LeaseRequest{Queue: queue, WorkerID: workerID, Wait: c.LeaseWait}
		err := c.invoke(ctx, api.MethodLease, req, &resp)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, ctxErr
			}
			return nil, err
		}
		if resp.Task != nil {
			return resp.Task, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Ack acknowledges a finished task
func (c *Client) Ack(ctx context.Context, taskID, workerID string, result json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.invoke(ctx, api.MethodAck, &api.AckRequest{TaskID: taskID, WorkerID: workerID, Result: result}, &api.Empty{})
}

// Fail reports a failed attempt
func (c *Client) Fail(ctx context.Context, taskID, workerID string, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return c.invoke(ctx, api.MethodFail, &api.FailRequest{TaskID: taskID, WorkerID: workerID, Error: msg}, &api.Empty{})
}
