package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/cuemby/sweep/pkg/queue"
	"github.com/cuemby/sweep/pkg/status"
	"github.com/cuemby/sweep/pkg/types"
)

var (
	errNoCoordinator   = errors.New("this node does not coordinate an experiment")
	errInvalidArgument = errors.New("invalid argument")
)

// startedPrefix precedes the timestamp in AlreadyExists messages
const startedPrefix = "started="

// toStatus maps domain errors onto gRPC status codes
func toStatus(err error) error {
	var dup *status.DuplicateSeedError
	switch {
	case errors.As(err, &dup):
		msg := dup.Error()
		if !dup.Started.IsZero() {
			msg = startedPrefix + dup.Started.Format(types.StatusTimeFormat)
		}
		return grpcstatus.Error(codes.AlreadyExists, msg)
	case errors.Is(err, queue.ErrAlreadyAcked):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, queue.ErrTaskDead):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.Is(err, queue.ErrUnknownTask):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, queue.ErrPrefetch):
		return grpcstatus.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, errNoCoordinator):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, errInvalidArgument):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

// FromStatus maps a gRPC error back onto the domain errors, so callers can
// use errors.Is and errors.As across the wire
func FromStatus(err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok || err == nil {
		return err
	}
	switch st.Code() {
	case codes.AlreadyExists:
		dup := &status.DuplicateSeedError{}
		if ts, found := strings.CutPrefix(st.Message(), startedPrefix); found {
			if t, perr := time.ParseInLocation(types.StatusTimeFormat, ts, time.Local); perr == nil {
				dup.Started = t
			}
		}
		return dup
	case codes.FailedPrecondition:
		return wrap(queue.ErrAlreadyAcked, st.Message())
	case codes.Aborted:
		return wrap(queue.ErrTaskDead, st.Message())
	case codes.NotFound:
		return wrap(queue.ErrUnknownTask, st.Message())
	case codes.ResourceExhausted:
		return wrap(queue.ErrPrefetch, st.Message())
	case codes.Canceled:
		return wrap(context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return wrap(context.DeadlineExceeded, st.Message())
	}
	return err
}

type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

func wrap(sentinel error, msg string) error {
	return &remoteError{sentinel: sentinel, msg: msg}
}
