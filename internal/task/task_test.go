package task

import "testing"

func TestIDLess(t *testing.T) {
	a := ID{Namespace: "ns", Workflow: "wf", Job: "j1", Name: "a"}
	b := ID{Namespace: "ns", Workflow: "wf", Job: "j1", Name: "b"}
	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Fatalf("did not expect %v < %v", b, a)
	}
	if a.Less(a) {
		t.Fatalf("did not expect %v < %v", a, a)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSuccessful, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusCreated, StatusWaiting, StatusScheduled, StatusSubmitted, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("did not expect %s to be terminal", s)
		}
	}
}

func TestAllUpstreamSuccessful(t *testing.T) {
	downstream := &Task{ID: ID{Name: "d"}}
	if !downstream.AllUpstreamSuccessful() {
		t.Fatalf("task with no upstream should be vacuously ready")
	}

	u1 := &Task{ID: ID{Name: "u1"}, Status: StatusSuccessful}
	u2 := &Task{ID: ID{Name: "u2"}, Status: StatusRunning}
	downstream.SetUpstream([]*Task{u1, u2})
	if downstream.AllUpstreamSuccessful() {
		t.Fatalf("expected not-ready while u2 is RUNNING")
	}

	u2.Status = StatusSuccessful
	if !downstream.AllUpstreamSuccessful() {
		t.Fatalf("expected ready once every upstream is SUCCESSFUL")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &Task{
		ID:         ID{Name: "a"},
		Properties: map[string]interface{}{"x": 1},
		Context:    map[string]interface{}{"out": 42},
		DependsOn:  []Dependency{{Name: "u", Mode: ModeAll}},
	}
	orig.SetUpstream([]*Task{{ID: ID{Name: "u"}}})

	cp := orig.Clone()
	cp.Properties["x"] = 2
	cp.DependsOn[0].Mode = ModeLast

	if orig.Properties["x"] != 1 {
		t.Fatalf("mutating clone's properties affected original")
	}
	if orig.DependsOn[0].Mode != ModeAll {
		t.Fatalf("mutating clone's dependsOn affected original")
	}
	if cp.Upstream() != nil {
		t.Fatalf("clone should not carry upstream edges")
	}
}
