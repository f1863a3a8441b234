package resolver

import (
	"testing"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

type fakeSource struct {
	byName map[string][]*task.Task
}

func (f *fakeSource) CandidatesByName(namespace, name string) []*task.Task {
	return f.byName[namespace+"/"+name]
}

func mk(name string, wf, job string, createdAt int64) *task.Task {
	return &task.Task{ID: task.ID{Namespace: "ns", Workflow: wf, Job: job, Name: name}, CreatedAt: createdAt}
}

func TestResolveModeAll(t *testing.T) {
	u1 := mk("u", "wf", "job1", 10)
	u2 := mk("u", "wf", "job1", 20)
	src := &fakeSource{byName: map[string][]*task.Task{"ns/u": {u1, u2}}}

	d := mk("d", "wf", "job1", 30)
	d.DependsOn = []task.Dependency{{Name: "u", Mode: task.ModeAll, LookbackWindow: 100}}

	resolved, ok := (&Resolver{}).Resolve(d, src)
	if !ok {
		t.Fatalf("expected resolve to succeed")
	}
	if len(resolved) != 2 {
		t.Fatalf("expected both upstream instances, got %d", len(resolved))
	}
}

func TestResolveModeFirstAndLast(t *testing.T) {
	u1 := mk("u", "wf", "job1", 10)
	u2 := mk("u", "wf", "job1", 20)
	src := &fakeSource{byName: map[string][]*task.Task{"ns/u": {u1, u2}}}

	first := mk("first", "wf", "job1", 30)
	first.DependsOn = []task.Dependency{{Name: "u", Mode: task.ModeFirst, LookbackWindow: 100}}
	resolved, ok := (&Resolver{}).Resolve(first, src)
	if !ok || len(resolved) != 1 || resolved[0] != u1 {
		t.Fatalf("expected mode=first to select the earliest instance")
	}

	last := mk("last", "wf", "job1", 30)
	last.DependsOn = []task.Dependency{{Name: "u", Mode: task.ModeLast, LookbackWindow: 100}}
	resolved, ok = (&Resolver{}).Resolve(last, src)
	if !ok || len(resolved) != 1 || resolved[0] != u2 {
		t.Fatalf("expected mode=last to select the latest instance")
	}
}

func TestResolveFailsWhenNoCandidateInWindow(t *testing.T) {
	u1 := mk("u", "wf", "job1", 10)
	src := &fakeSource{byName: map[string][]*task.Task{"ns/u": {u1}}}

	d := mk("d", "wf", "job1", 1000)
	d.DependsOn = []task.Dependency{{Name: "u", Mode: task.ModeAll, LookbackWindow: 5}} // window = [995, 1000]

	_, ok := (&Resolver{}).Resolve(d, src)
	if ok {
		t.Fatalf("expected resolve to fail: candidate createdAt=10 is outside window")
	}
}

func TestResolveScopedToWorkflowAndJob(t *testing.T) {
	other := mk("u", "other-wf", "job1", 10)
	src := &fakeSource{byName: map[string][]*task.Task{"ns/u": {other}}}

	d := mk("d", "wf", "job1", 30)
	d.DependsOn = []task.Dependency{{Name: "u", Mode: task.ModeAll, LookbackWindow: 100}}

	_, ok := (&Resolver{}).Resolve(d, src)
	if ok {
		t.Fatalf("expected resolve to fail: candidate belongs to a different workflow")
	}
}

func TestResolveNoDependencies(t *testing.T) {
	d := mk("d", "wf", "job1", 30)
	resolved, ok := (&Resolver{}).Resolve(d, &fakeSource{})
	if !ok || resolved != nil {
		t.Fatalf("expected trivially-successful resolve with no edges")
	}
}

func TestResolveFailsOneOfMultipleDeps(t *testing.T) {
	u1 := mk("a", "wf", "job1", 10)
	src := &fakeSource{byName: map[string][]*task.Task{"ns/a": {u1}}}

	d := mk("d", "wf", "job1", 30)
	d.DependsOn = []task.Dependency{
		{Name: "a", Mode: task.ModeAll, LookbackWindow: 100},
		{Name: "b", Mode: task.ModeAll, LookbackWindow: 100}, // never added
	}
	resolved, ok := (&Resolver{}).Resolve(d, src)
	if ok || resolved != nil {
		t.Fatalf("expected resolve to fail when any single dependency is unresolvable")
	}
}
