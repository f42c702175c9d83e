package api

import (
	"encoding/json"
	"time"

	"github.com/cuemby/sweep/pkg/types"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "sweep.SweepAPI"

// Full method names
const (
	MethodSeed          = "/" + ServiceName + "/Seed"
	MethodGetStatus     = "/" + ServiceName + "/GetStatus"
	MethodGetQueueDepth = "/" + ServiceName + "/GetQueueDepth"
	MethodLease         = "/" + ServiceName + "/Lease"
	MethodAck           = "/" + ServiceName + "/Ack"
	MethodFail          = "/" + ServiceName + "/Fail"
)

type SeedRequest struct{}

type SeedResponse struct {
	Started time.Time `json:"started"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	State  types.ExperimentState  `json:"state"`
	Status types.ExperimentStatus `json:"status"`
}

type GetQueueDepthRequest struct {
	Queue string `json:"queue"`
}

type GetQueueDepthResponse struct {
	Depth int `json:"depth"`
}

// LeaseRequest asks for the next task on Queue. The server waits at most
// Wait for a task before answering with an empty response.
type LeaseRequest struct {
	Queue    string        `json:"queue"`
	WorkerID string        `json:"worker_id"`
	Wait     time.Duration `json:"wait"`
}

type LeaseResponse struct {
	Task *types.Task `json:"task,omitempty"`
}

type AckRequest struct {
	TaskID   string          `json:"task_id"`
	WorkerID string          `json:"worker_id"`
	Result   json.RawMessage `json:"result,omitempty"`
}

type FailRequest struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	Error    string `json:"error"`
}

type Empty struct{}
