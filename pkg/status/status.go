// Package status records the durable experiment markers (started, completed,
// failed) that gate seeding and report completion.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/storage"
	"github.com/cuemby/sweep/pkg/types"
)

var (
	// ErrExists is returned by Create when the marker is already recorded
	ErrExists = storage.ErrExists
	// ErrNotFound is returned by LatestTimestamp for an unrecorded marker
	ErrNotFound = storage.ErrNotFound
)

// Store is the durable marker store. Create must be an atomic
// compare-and-set: of two concurrent callers, at most one succeeds.
type Store interface {
	// Record writes the marker with the current time. An existing marker is
	// kept, so each marker is written at most once.
	Record(ctx context.Context, name string) error
	// Create writes the marker, failing with ErrExists if present
	Create(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	LatestTimestamp(ctx context.Context, name string) (time.Time, error)
}

// DuplicateSeedError is returned when an experiment is seeded a second time
type DuplicateSeedError struct {
	Started time.Time
}

func (e *DuplicateSeedError) Error() string {
	if e.Started.IsZero() {
		return "experiment already started"
	}
	return fmt.Sprintf("experiment already started at %s", e.Started.Format(types.StatusTimeFormat))
}

// Tracker drives the experiment markers through their lifecycle
type Tracker struct {
	store  Store
	logger zerolog.Logger
}

// NewTracker creates a tracker over store
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:  store,
		logger: log.WithComponent("status"),
	}
}

// Store returns the underlying marker store
func (t *Tracker) Store() Store {
	return t.store
}

// Seed records the started marker. It fails with *DuplicateSeedError if the
// experiment was already started, leaving all markers untouched.
func (t *Tracker) Seed(ctx context.Context) error {
	err := t.store.Create(ctx, types.StatusStarted)
	if errors.Is(err, ErrExists) {
		started, _ := t.store.LatestTimestamp(ctx, types.StatusStarted)
		return &DuplicateSeedError{Started: started}
	}
	if err != nil {
		return fmt.Errorf("failed to record started: %w", err)
	}
	t.logger.Info().Msg("Experiment started")
	return nil
}

// Complete records the completed marker. It refuses to do so before the
// started marker exists.
func (t *Tracker) Complete(ctx context.Context) error {
	ok, err := t.store.Exists(ctx, types.StatusStarted)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cannot complete an experiment that was never started")
	}
	if err := t.store.Record(ctx, types.StatusCompleted); err != nil {
		return fmt.Errorf("failed to record completed: %w", err)
	}
	t.logger.Info().Msg("Experiment completed")
	return nil
}

// Fail records the failed marker
func (t *Tracker) Fail(ctx context.Context) error {
	if err := t.store.Record(ctx, types.StatusFailed); err != nil {
		return fmt.Errorf("failed to record failed: %w", err)
	}
	t.logger.Warn().Msg("Experiment failed")
	return nil
}

// Status returns every recorded marker
func (t *Tracker) Status(ctx context.Context) (types.ExperimentStatus, error) {
	var status types.ExperimentStatus
	for _, slot := range []struct {
		name   string
		marker **types.StatusMarker
	}{
		{types.StatusStarted, &status.Started},
		{types.StatusCompleted, &status.Completed},
		{types.StatusFailed, &status.Failed},
	} {
		ts, err := t.store.LatestTimestamp(ctx, slot.name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return status, err
		}
		*slot.marker = &types.StatusMarker{Name: slot.name, Timestamp: ts}
	}
	return status, nil
}

func now() time.Time {
	return time.Now().Truncate(time.Second)
}
