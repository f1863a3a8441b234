package memstore

import (
	"context"
	"testing"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

func TestUpdateStatusThenGetByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := &task.Task{ID: task.ID{Namespace: "ns", Workflow: "wf", Job: "j", Name: "a"}, Status: task.StatusCreated}
	if err := s.UpdateStatus(ctx, a, task.StatusWaiting, "", nil, 0); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetByStatus(ctx, "ns", []task.Status{task.StatusWaiting})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one waiting task, got %d err=%v", len(got), err)
	}
	if got[0].Status != task.StatusWaiting {
		t.Fatalf("expected stored snapshot to carry the new status, got %v", got[0].Status)
	}

	// Snapshot independence: mutating the live task must not affect the store.
	a.StatusMessage = "mutated-after-write"
	got, _ = s.GetByStatus(ctx, "ns", []task.Status{task.StatusWaiting})
	if got[0].StatusMessage == "mutated-after-write" {
		t.Fatalf("store snapshot aliases the live task")
	}
}

func TestListNamespaces(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, ns := range []string{"ns1", "ns2", "ns1"} {
		tk := &task.Task{ID: task.ID{Namespace: ns, Workflow: "wf", Job: "j", Name: "a"}}
		if err := s.UpdateStatus(ctx, tk, task.StatusCreated, "", nil, 0); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	namespaces, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(namespaces) != 2 {
		t.Fatalf("expected two distinct namespaces, got %+v", namespaces)
	}
}
