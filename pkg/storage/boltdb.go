package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/sweep/pkg/types"
)

var (
	// Bucket names
	bucketStatus  = []byte("status")
	bucketResults = []byte("results")
	bucketTables  = []byte("tables")
	bucketTasks   = []byte("tasks")
	bucketGraph   = []byte("graph")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(filepath.Join(dataDir, "sweep.db"))
}

// OpenBoltStore opens or creates the database file at path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketStatus,
			bucketResults,
			bucketTables,
			bucketTasks,
			bucketGraph,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals v under key in bucket b
func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// Status operations

// CreateStatus writes marker only if no marker of that name exists. The
// check and the write share one transaction.
func (s *BoltStore) CreateStatus(marker *types.StatusMarker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		if b.Get([]byte(marker.Name)) != nil {
			return fmt.Errorf("status %s: %w", marker.Name, ErrExists)
		}
		return put(b, marker.Name, marker)
	})
}

func (s *BoltStore) PutStatus(marker *types.StatusMarker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketStatus), marker.Name, marker)
	})
}

func (s *BoltStore) GetStatus(name string) (*types.StatusMarker, error) {
	var marker types.StatusMarker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStatus).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("status %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &marker)
	})
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

func (s *BoltStore) ListStatus() ([]*types.StatusMarker, error) {
	var markers []*types.StatusMarker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatus).ForEach(func(k, v []byte) error {
			var marker types.StatusMarker
			if err := json.Unmarshal(v, &marker); err != nil {
				return err
			}
			markers = append(markers, &marker)
			return nil
		})
	})
	return markers, err
}

// Result operations. Each scope gets a nested bucket keyed by cache key.

// PutResult stores result under scope. A result already stored under the
// same key is kept; redelivered tasks never overwrite.
func (s *BoltStore) PutResult(scope string, result *types.TaskResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketResults).CreateBucketIfNotExists([]byte(scope))
		if err != nil {
			return err
		}
		if b.Get([]byte(result.Key)) != nil {
			return nil
		}
		return put(b, string(result.Key), result)
	})
}

func (s *BoltStore) GetResult(scope string, key types.CacheKey) (*types.TaskResult, error) {
	var result types.TaskResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("result %s/%s: %w", scope, key, ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("result %s/%s: %w", scope, key, ErrNotFound)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResults returns every result in scope, in key order
func (s *BoltStore) ListResults(scope string) ([]*types.TaskResult, error) {
	var results []*types.TaskResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(scope))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var result types.TaskResult
			if err := json.Unmarshal(v, &result); err != nil {
				return err
			}
			results = append(results, &result)
			return nil
		})
	})
	return results, err
}

// ResultScopes returns every scope holding results, in key order
func (s *BoltStore) ResultScopes() ([]string, error) {
	var scopes []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).ForEach(func(k, v []byte) error {
			if v == nil {
				scopes = append(scopes, string(k))
			}
			return nil
		})
	})
	return scopes, err
}

// Table operations. Keys are "<partition>/<name>".

func (s *BoltStore) PutTable(table *types.PartialTable) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketTables), types.ResultScope(table.Partition, table.Name), table)
	})
}

func (s *BoltStore) GetTable(partition types.PartitionKey, name string) (*types.PartialTable, error) {
	var table types.PartialTable
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTables).Get([]byte(types.ResultScope(partition, name)))
		if data == nil {
			return fmt.Errorf("table %s/%s: %w", partition, name, ErrNotFound)
		}
		return json.Unmarshal(data, &table)
	})
	if err != nil {
		return nil, err
	}
	return &table, nil
}

func (s *BoltStore) ListTables(partition types.PartitionKey) ([]*types.PartialTable, error) {
	var tables []*types.PartialTable
	prefix := []byte(string(partition) + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTables).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var table types.PartialTable
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			tables = append(tables, &table)
		}
		return nil
	})
	return tables, err
}

// AllTables returns the tables of every partition
func (s *BoltStore) AllTables() ([]*types.PartialTable, error) {
	var tables []*types.PartialTable
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTables).ForEach(func(_, v []byte) error {
			var table types.PartialTable
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			tables = append(tables, &table)
			return nil
		})
	})
	return tables, err
}

// Task operations

// CreateTask stores a task, assigning the next queue sequence number when
// task.Seq is zero
func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.CreateTasks(task)
}

// CreateTasks stores a batch of tasks in one transaction
func (s *BoltStore) CreateTasks(tasks ...*types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		for _, task := range tasks {
			if task.Seq == 0 {
				seq, err := b.NextSequence()
				if err != nil {
					return err
				}
				task.Seq = seq
			}
			if err := put(b, task.ID, task); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns all tasks ordered by submission sequence
func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks, err
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.CreateTask(task) // Same as create (upsert)
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// Graph operations

// SaveNodes upserts the given nodes in a single transaction
func (s *BoltStore) SaveNodes(nodes ...*types.GraphNode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGraph)
		for _, n := range nodes {
			if err := put(b, n.ID, n); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetNode(id string) (*types.GraphNode, error) {
	var node types.GraphNode
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGraph).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("graph node %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.GraphNode, error) {
	var nodes []*types.GraphNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGraph).ForEach(func(k, v []byte) error {
			var node types.GraphNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}
