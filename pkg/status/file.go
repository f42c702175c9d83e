package status

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/sweep/pkg/types"
)

// FileStore keeps one plain-text file per marker under a directory. Each
// file holds the local timestamp followed by a newline.
type FileStore struct {
	dir string
	// Now returns the marker time; defaults to the wall clock
	Now func() time.Time
}

// NewFileStore creates a file store rooted at dir, creating it if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create status directory: %w", err)
	}
	return &FileStore{dir: dir, Now: now}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FileStore) content() []byte {
	return []byte(s.Now().Format(types.StatusTimeFormat) + "\n")
}

// Create writes the timestamp to a temporary file and links it into place.
// The link fails if the marker exists, and a marker is never visible
// without its content.
func (s *FileStore) Create(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(s.content()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}

	err = os.Link(tmp.Name(), s.path(name))
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("status %s: %w", name, ErrExists)
	}
	return err
}

func (s *FileStore) Record(ctx context.Context, name string) error {
	err := s.Create(ctx, name)
	if errors.Is(err, ErrExists) {
		return nil
	}
	return err
}

func (s *FileStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *FileStore) LatestTimestamp(ctx context.Context, name string) (time.Time, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, fmt.Errorf("status %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		// Written by a process that died mid-write; the file time is the
		// best record left
		info, err := os.Stat(s.path(name))
		if err != nil {
			return time.Time{}, err
		}
		return info.ModTime().Truncate(time.Second), nil
	}
	return time.ParseInLocation(types.StatusTimeFormat, content, time.Local)
}
