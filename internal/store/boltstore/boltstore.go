// Package boltstore implements store.TaskStore and store.NamespaceService on
// top of BoltDB: a bucket-per-concern layout, a versions bucket recording
// the prior snapshot on every overwrite, and a 1s open timeout with an
// array freelist.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rajgiridhar1995/kronos/internal/store"
	"github.com/rajgiridhar1995/kronos/internal/task"
)

var (
	bucketTasks      = []byte("tasks")
	bucketVersions   = []byte("versions")
	bucketNamespaces = []byte("namespaces")
)

// Store is a BoltDB-backed store.TaskStore and store.NamespaceService. A
// task is keyed directly in bucketTasks by its id tuple's string form, which
// begins with the namespace.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

// Open opens (creating if absent) a BoltDB file at path/kronos.db and
// prepares its buckets.
func Open(path string, meter metric.Meter) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoGrowSync:   false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path+"/kronos.db", 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketVersions, bucketNamespaces} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &Store{db: db}
	if meter != nil {
		s.readLatency, _ = meter.Float64Histogram("kronos_store_read_ms")
		s.writeLatency, _ = meter.Float64Histogram("kronos_store_write_ms")
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func taskKey(id task.ID) []byte {
	return []byte(id.Namespace + "/" + id.Workflow + "/" + id.Job + "/" + id.Name)
}

// GetByStatus scans bucketTasks for every task in namespace whose status is
// one of statuses. BoltDB has no secondary index here — a prefix cursor
// scan bounded by namespace is simpler than maintaining a by-status bucket,
// and restart-time rehydration is rare enough that the scan cost doesn't
// matter.
func (s *Store) GetByStatus(ctx context.Context, namespace string, statuses []task.Status) ([]*task.Task, error) {
	start := time.Now()
	defer s.recordRead(ctx, "get_by_status", start)

	want := make(map[task.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	out := make([]*task.Task, 0)
	prefix := []byte(namespace + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var t task.Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}
			if want[t.Status] {
				out = append(out, &t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return out, nil
}

// UpdateStatus writes t's post-transition snapshot, keeping the prior
// snapshot in bucketVersions — a store-previous-version-before-overwrite
// pattern.
func (s *Store) UpdateStatus(ctx context.Context, t *task.Task, status task.Status, message string, taskCtx map[string]interface{}, completedAtMs int64) error {
	start := time.Now()
	defer s.recordWrite(ctx, "update_status", start)

	snapshot := t.Clone()
	snapshot.Status = status
	snapshot.StatusMessage = message
	if taskCtx != nil {
		snapshot.Context = taskCtx
	}
	if completedAtMs != 0 {
		snapshot.CompletedAt = completedAtMs
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey(t.ID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		if existing := tasks.Get(key); existing != nil {
			// One prior snapshot per task, overwritten on each transition.
			versions := tx.Bucket(bucketVersions)
			if err := versions.Put(key, existing); err != nil {
				return fmt.Errorf("store version: %w", err)
			}
		}
		if err := tasks.Put(key, data); err != nil {
			return err
		}
		namespaces := tx.Bucket(bucketNamespaces)
		nsKey := []byte(t.ID.Namespace)
		if namespaces.Get(nsKey) == nil {
			if err := namespaces.Put(nsKey, []byte(uuid.NewString())); err != nil {
				return fmt.Errorf("stamp namespace: %w", err)
			}
		}
		return nil
	})
}

// List returns every namespace seen so far. Each namespace is stamped with
// a UUID version-cursor ("first write wins a version id") the first time a
// task in it is written via UpdateStatus.
func (s *Store) List(ctx context.Context) ([]store.Namespace, error) {
	start := time.Now()
	defer s.recordRead(ctx, "list_namespaces", start)

	out := make([]store.Namespace, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNamespaces)
		return bucket.ForEach(func(k, _ []byte) error {
			out = append(out, store.Namespace{Name: string(k)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	return out, nil
}

func (s *Store) recordRead(ctx context.Context, op string, start time.Time) {
	if s.readLatency == nil {
		return
	}
	s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("operation", op)))
}

func (s *Store) recordWrite(ctx context.Context, op string, start time.Time) {
	if s.writeLatency == nil {
		return
	}
	s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("operation", op)))
}
