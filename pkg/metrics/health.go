package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Coordinator components, registered in start order. A coordinator is ready
// once the queue has been recovered from the store and the API listens.
const (
	ComponentStore = "store"
	ComponentQueue = "queue"
	ComponentAPI   = "api"
	ComponentRaft  = "raft"
)

// Worker components: the coordinator checks run by the health monitor
const (
	ComponentCoordinator    = "coordinator"
	ComponentCoordinatorAPI = "coordinator-api"
)

// CoordinatorComponents gate readiness of a standalone coordinator
var CoordinatorComponents = []string{ComponentStore, ComponentQueue, ComponentAPI}

// HealthStatus is the body of /health/components
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Readiness lists the required components that are missing or unhealthy
type Readiness struct {
	Checks  map[string]string
	Waiting []string
}

// Ready reports whether every required component is healthy
func (r Readiness) Ready() bool {
	return len(r.Waiting) == 0
}

type component struct {
	healthy bool
	message string
	updated time.Time
}

type registry struct {
	mu         sync.RWMutex
	components map[string]component
	required   []string
	started    time.Time
	version    string
}

var components = newRegistry()

func newRegistry() *registry {
	return &registry{
		components: make(map[string]component),
		required:   CoordinatorComponents,
		started:    time.Now(),
	}
}

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.required = append([]string(nil), names...)
}

// SetVersion sets the version reported with component health
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.components[name] = component{healthy: healthy, message: message, updated: time.Now()}
}

// UpdateComponent records a new state for a component
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth summarises every registered component. One unhealthy component
// makes the whole process unhealthy.
func GetHealth() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	h := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(components.components)),
		Version:    components.version,
		Uptime:     time.Since(components.started).Truncate(time.Second).String(),
	}
	for name, c := range components.components {
		if c.healthy {
			h.Components[name] = "healthy"
			continue
		}
		h.Status = "unhealthy"
		h.Components[name] = "unhealthy: " + c.message
	}
	return h
}

// GetReadiness checks the required components. A component that has not
// registered yet counts as waiting, so a coordinator is not ready before its
// queue recovery finished.
func GetReadiness() Readiness {
	components.mu.RLock()
	defer components.mu.RUnlock()

	r := Readiness{Checks: make(map[string]string, len(components.required))}
	for _, name := range components.required {
		c, ok := components.components[name]
		switch {
		case !ok:
			r.Checks[name] = "pending"
			r.Waiting = append(r.Waiting, name)
		case !c.healthy:
			r.Checks[name] = "not ready: " + c.message
			r.Waiting = append(r.Waiting, name)
		default:
			r.Checks[name] = "ready"
		}
	}
	sort.Strings(r.Waiting)
	return r
}

// ComponentsHandler serves GetHealth as JSON, with 503 when unhealthy
func ComponentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	}
}
