package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	components = newRegistry()
	t.Cleanup(func() { components = newRegistry() })
}

func TestGetHealth(t *testing.T) {
	resetHealth(t)
	SetVersion("1.0.0")

	RegisterComponent(ComponentStore, true, "open")
	RegisterComponent(ComponentQueue, true, "recovered")

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "1.0.0", health.Version)

	UpdateComponent(ComponentQueue, false, "recovery failed")
	health = GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: recovery failed", health.Components[ComponentQueue])
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		register map[string]bool
		waiting  []string
	}{
		{
			name:     "coordinator serving",
			register: map[string]bool{ComponentStore: true, ComponentQueue: true, ComponentAPI: true},
		},
		{
			name:     "queue not recovered yet",
			register: map[string]bool{ComponentStore: true},
			waiting:  []string{ComponentAPI, ComponentQueue},
		},
		{
			name:     "raft follower",
			required: append(CoordinatorComponents, ComponentRaft),
			register: map[string]bool{ComponentStore: true, ComponentRaft: false},
			waiting:  []string{ComponentAPI, ComponentQueue, ComponentRaft},
		},
		{
			name:     "worker with reachable coordinator",
			required: []string{ComponentCoordinator, ComponentCoordinatorAPI},
			register: map[string]bool{ComponentCoordinator: true, ComponentCoordinatorAPI: true},
		},
		{
			name:     "worker with coordinator API down",
			required: []string{ComponentCoordinator, ComponentCoordinatorAPI},
			register: map[string]bool{ComponentCoordinator: true, ComponentCoordinatorAPI: false},
			waiting:  []string{ComponentCoordinatorAPI},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			if tt.required != nil {
				SetCriticalComponents(tt.required...)
			}
			for name, healthy := range tt.register {
				RegisterComponent(name, healthy, "")
			}

			r := GetReadiness()
			assert.Equal(t, tt.waiting, r.Waiting)
			assert.Equal(t, len(tt.waiting) == 0, r.Ready())
		})
	}
}

func TestComponentsHandler(t *testing.T) {
	resetHealth(t)
	RegisterComponent(ComponentStore, false, "disk full")

	w := httptest.NewRecorder()
	ComponentsHandler()(w, httptest.NewRequest("GET", "/health/components", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "unhealthy: disk full", health.Components[ComponentStore])
}
