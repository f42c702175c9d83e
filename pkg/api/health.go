package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/types"
)

// Version is reported by /health; set at link time
var Version = "dev"

// ClusterState reports raft leadership of the state store
type ClusterState interface {
	IsLeader() bool
	LeaderAddr() string
}

// StatusSource reads the experiment markers from the state store
type StatusSource interface {
	Status(ctx context.Context) (types.ExperimentStatus, error)
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	cluster ClusterState
	status  StatusSource
	// readiness reports the components this process waits for
	readiness func() metrics.Readiness
	mux       *http.ServeMux
	server    *http.Server
}

// NewHealthServer creates a new health check HTTP server. cluster is nil
// when the state store is not replicated.
func NewHealthServer(cluster ClusterState, status StatusSource) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		cluster:   cluster,
		status:    status,
		readiness: metrics.GetReadiness,
		mux:       mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/health/components", metrics.ComponentsHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down
func (hs *HealthServer) Stop(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint
// This checks if the service is ready to accept traffic
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.cluster != nil {
		if hs.cluster.IsLeader() {
			checks["raft"] = "leader"
		} else if leaderAddr := hs.cluster.LeaderAddr(); leaderAddr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}
	}

	// A marker read proves the state store answers
	if hs.status != nil {
		st, err := hs.status.Status(r.Context())
		if err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Storage not accessible"
			}
		} else {
			checks["storage"] = "ok"
			checks["experiment"] = string(st.State())
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
		if message == "" {
			message = "Coordinator not initialized"
		}
	}

	components := hs.readiness()
	for name, check := range components.Checks {
		checks[name] = check
	}
	if !components.Ready() {
		ready = false
		if message == "" {
			message = "Waiting for " + strings.Join(components.Waiting, ", ")
		}
	}

	// Prepare response
	status := "ready"
	statusCode := http.StatusOK

	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
