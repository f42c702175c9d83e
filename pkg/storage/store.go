package storage

import (
	"errors"

	"github.com/cuemby/sweep/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by create-only writes when the record is present
	ErrExists = errors.New("already exists")
)

// Store defines the interface for durable sweep state
type Store interface {
	// Status markers
	CreateStatus(marker *types.StatusMarker) error
	PutStatus(marker *types.StatusMarker) error
	GetStatus(name string) (*types.StatusMarker, error)
	ListStatus() ([]*types.StatusMarker, error)

	// Results, addressed by scope and cache key. Writes are first-wins.
	PutResult(scope string, result *types.TaskResult) error
	GetResult(scope string, key types.CacheKey) (*types.TaskResult, error)
	ListResults(scope string) ([]*types.TaskResult, error)

	// Partial tables
	PutTable(table *types.PartialTable) error
	GetTable(partition types.PartitionKey, name string) (*types.PartialTable, error)
	ListTables(partition types.PartitionKey) ([]*types.PartialTable, error)

	// Tasks
	CreateTask(task *types.Task) error
	CreateTasks(tasks ...*types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error

	// Graph
	SaveNodes(nodes ...*types.GraphNode) error
	GetNode(id string) (*types.GraphNode, error)
	ListNodes() ([]*types.GraphNode, error)

	// Utility
	Close() error
}
