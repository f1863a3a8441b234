// Package store defines the external TaskStore and NamespaceService
// collaborators the Scheduler is constructed with. A concrete BoltDB-backed
// adapter lives in the boltstore subpackage; an in-memory one in memstore.
package store

import (
	"context"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

// Namespace is a scheduling tenant/scope, as enumerated by NamespaceService.
type Namespace struct {
	Name string
}

// TaskStore persists tasks and their status transitions. The core never
// reads it except at startup recovery; everything else is a write-behind of
// in-memory state so that a restart can rehydrate.
type TaskStore interface {
	// GetByStatus returns every task in namespace whose status is one of
	// statuses, used by Scheduler.Start to rehydrate non-terminal tasks.
	GetByStatus(ctx context.Context, namespace string, statuses []task.Status) ([]*task.Task, error)

	// UpdateStatus persists a task's status transition. completedAtMs is 0
	// when the transition does not complete the task. A write failure is
	// logged by the caller and never blocks the in-memory transition — store
	// and memory may diverge, an accepted risk.
	UpdateStatus(ctx context.Context, t *task.Task, status task.Status, message string, taskCtx map[string]interface{}, completedAtMs int64) error
}

// NamespaceService enumerates the namespaces the scheduler should recover
// tasks for on startup.
type NamespaceService interface {
	List(ctx context.Context) ([]Namespace, error)
}
