package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/types"
)

// DefaultLeaseWait bounds how long a Lease call is held open server side
const DefaultLeaseWait = 30 * time.Second

// Coordinator seeds the experiment and reports its status
type Coordinator interface {
	Seed(ctx context.Context) error
	Status(ctx context.Context) (types.ExperimentStatus, error)
}

// Queue is the task queue exposed to remote workers
type Queue interface {
	Lease(ctx context.Context, queue, workerID string) (*types.Task, error)
	Ack(ctx context.Context, taskID, workerID string, result json.RawMessage) error
	Fail(ctx context.Context, taskID, workerID string, cause error) error
	Depth(queue string) int
}

// SweepAPIServer is the service implemented by Server
type SweepAPIServer interface {
	Seed(context.Context, *SeedRequest) (*SeedResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	GetQueueDepth(context.Context, *GetQueueDepthRequest) (*GetQueueDepthResponse, error)
	Lease(context.Context, *LeaseRequest) (*LeaseResponse, error)
	Ack(context.Context, *AckRequest) (*Empty, error)
	Fail(context.Context, *FailRequest) (*Empty, error)
}

// ServiceDesc describes the sweep API for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SweepAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Seed", SweepAPIServer.Seed),
		unary("GetStatus", SweepAPIServer.GetStatus),
		unary("GetQueueDepth", SweepAPIServer.GetQueueDepth),
		unary("Lease", SweepAPIServer.Lease),
		unary("Ack", SweepAPIServer.Ack),
		unary("Fail", SweepAPIServer.Fail),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sweep/api",
}

func unary[Req, Resp any](name string, call func(SweepAPIServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(SweepAPIServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// Server implements the sweep gRPC API
type Server struct {
	coordinator Coordinator
	queue       Queue
	grpc        *grpc.Server
	logger      zerolog.Logger

	// LeaseWait bounds a single Lease call
	LeaseWait time.Duration
}

// NewServer creates an API server. coordinator may be nil on nodes that
// only relay the queue.
func NewServer(coordinator Coordinator, queue Queue, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(MetricsInterceptor())}, opts...)
	return newServer(coordinator, queue, opts...)
}

// NewLocalServer creates an API server for the local Unix socket. It only
// serves read-only methods.
func NewLocalServer(coordinator Coordinator, queue Queue) *Server {
	return newServer(coordinator, queue, grpc.ChainUnaryInterceptor(MetricsInterceptor(), ReadOnlyInterceptor()))
}

// ServeUnix serves on a Unix socket at path, replacing a stale socket file
func (s *Server) ServeUnix(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

func newServer(coordinator Coordinator, queue Queue, opts ...grpc.ServerOption) *Server {
	s := &Server{
		coordinator: coordinator,
		queue:       queue,
		grpc:        grpc.NewServer(opts...),
		logger:      log.WithComponent("api"),
		LeaseWait:   DefaultLeaseWait,
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Seed starts the experiment
func (s *Server) Seed(ctx context.Context, _ *SeedRequest) (*SeedResponse, error) {
	if s.coordinator == nil {
		return nil, toStatus(errNoCoordinator)
	}
	if err := s.coordinator.Seed(ctx); err != nil {
		return nil, toStatus(err)
	}
	st, err := s.coordinator.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &SeedResponse{}
	if st.Started != nil {
		resp.Started = st.Started.Timestamp
	}
	return resp, nil
}

// GetStatus returns the experiment markers
func (s *Server) GetStatus(ctx context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	if s.coordinator == nil {
		return nil, toStatus(errNoCoordinator)
	}
	st, err := s.coordinator.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetStatusResponse{State: st.State(), Status: st}, nil
}

// GetQueueDepth returns the number of pending tasks on a queue
func (s *Server) GetQueueDepth(_ context.Context, req *GetQueueDepthRequest) (*GetQueueDepthResponse, error) {
	return &GetQueueDepthResponse{Depth: s.queue.Depth(req.Queue)}, nil
}

// Lease long-polls for the next task. An empty response means no task
// arrived within the wait and the caller should ask again.
func (s *Server) Lease(ctx context.Context, req *LeaseRequest) (*LeaseResponse, error) {
	if req.Queue == "" || req.WorkerID == "" {
		return nil, toStatus(fmt.Errorf("%w: queue and worker_id are required", errInvalidArgument))
	}
	wait := req.Wait
	if wait <= 0 || wait > s.LeaseWait {
		wait = s.LeaseWait
	}

	leaseCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	task, err := s.queue.Lease(leaseCtx, req.Queue, req.WorkerID)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &LeaseResponse{}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &LeaseResponse{Task: task}, nil
}

// Ack acknowledges a finished task
func (s *Server) Ack(ctx context.Context, req *AckRequest) (*Empty, error) {
	if err := s.queue.Ack(ctx, req.TaskID, req.WorkerID, req.Result); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// Fail reports a failed attempt
func (s *Server) Fail(ctx context.Context, req *FailRequest) (*Empty, error) {
	if err := s.queue.Fail(ctx, req.TaskID, req.WorkerID, errors.New(req.Error)); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}
