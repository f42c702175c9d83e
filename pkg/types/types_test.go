package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParameterTupleAccessors(t *testing.T) {
	p := ParameterTuple{
		Names:  []string{"m", "t", "v"},
		Values: []float64{1, 2, 3},
		Index:  []int{1, 2, 3},
	}

	assert.Equal(t, 2.0, p.Value("t"))
	assert.Equal(t, 3, p.Int("v"))
	assert.Equal(t, 0, p.Int("n"))
	assert.Equal(t, []int{3, 1}, p.Ints("v", "m"))
}

func TestExperimentStatusState(t *testing.T) {
	now := time.Now()
	marker := func(name string) *StatusMarker { return &StatusMarker{Name: name, Timestamp: now} }

	tests := []struct {
		name   string
		status ExperimentStatus
		want   ExperimentState
	}{
		{"nothing recorded", ExperimentStatus{}, ExperimentNotStarted},
		{"started", ExperimentStatus{Started: marker(StatusStarted)}, ExperimentStarted},
		{"completed", ExperimentStatus{Started: marker(StatusStarted), Completed: marker(StatusCompleted)}, ExperimentCompleted},
		{"failed wins", ExperimentStatus{Started: marker(StatusStarted), Failed: marker(StatusFailed)}, ExperimentFailed},
		{"completed without started", ExperimentStatus{Completed: marker(StatusCompleted)}, ExperimentNotStarted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.State())
		})
	}
}

func TestResultScope(t *testing.T) {
	assert.Equal(t, "simply-supported/I1", ResultScope("simply-supported", "I1"))
}
