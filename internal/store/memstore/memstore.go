// Package memstore is an in-process store.TaskStore/NamespaceService used
// by scheduler tests and by KRONOS_STORE_DRIVER=mem — a mutex-guarded map
// instead of boltstore's durable path, for single-process runs with no
// persistence requirement.
package memstore

import (
	"context"
	"sync"

	"github.com/rajgiridhar1995/kronos/internal/store"
	"github.com/rajgiridhar1995/kronos/internal/task"
)

// Store is an in-memory TaskStore and NamespaceService.
type Store struct {
	mu         sync.Mutex
	tasks      map[task.ID]*task.Task
	namespaces map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:      make(map[task.ID]*task.Task),
		namespaces: make(map[string]struct{}),
	}
}

// GetByStatus returns every stored task in namespace matching one of statuses.
func (s *Store) GetByStatus(ctx context.Context, namespace string, statuses []task.Status) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[task.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]*task.Task, 0)
	for id, t := range s.tasks {
		if id.Namespace == namespace && want[t.Status] {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// UpdateStatus persists t's post-transition snapshot.
func (s *Store) UpdateStatus(ctx context.Context, t *task.Task, status task.Status, message string, taskCtx map[string]interface{}, completedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := t.Clone()
	snapshot.Status = status
	snapshot.StatusMessage = message
	if taskCtx != nil {
		snapshot.Context = taskCtx
	}
	if completedAtMs != 0 {
		snapshot.CompletedAt = completedAtMs
	}
	s.tasks[t.ID] = snapshot
	s.namespaces[t.ID.Namespace] = struct{}{}
	return nil
}

// List returns every namespace a task has been written under.
func (s *Store) List(ctx context.Context) ([]store.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Namespace, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, store.Namespace{Name: ns})
	}
	return out, nil
}
