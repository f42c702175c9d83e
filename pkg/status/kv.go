package status

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/sweep/pkg/types"
)

// MarkerStore is the subset of the state store holding status markers. It
// is implemented by storage.BoltStore and by the raft-replicated manager.
type MarkerStore interface {
	CreateStatus(marker *types.StatusMarker) error
	GetStatus(name string) (*types.StatusMarker, error)
}

// KVStore adapts a MarkerStore to Store. Atomicity of Create is inherited
// from the backend.
type KVStore struct {
	markers MarkerStore
	Now     func() time.Time
}

// NewKVStore creates a Store over markers
func NewKVStore(markers MarkerStore) *KVStore {
	return &KVStore{markers: markers, Now: now}
}

func (s *KVStore) Create(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.markers.CreateStatus(&types.StatusMarker{Name: name, Timestamp: s.Now()})
}

func (s *KVStore) Record(ctx context.Context, name string) error {
	err := s.Create(ctx, name)
	if errors.Is(err, ErrExists) {
		return nil
	}
	return err
}

func (s *KVStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.markers.GetStatus(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *KVStore) LatestTimestamp(ctx context.Context, name string) (time.Time, error) {
	marker, err := s.markers.GetStatus(name)
	if err != nil {
		return time.Time{}, err
	}
	return marker.Timestamp, nil
}
