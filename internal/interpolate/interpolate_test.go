package interpolate

import (
	"testing"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

func upstreamTask(name string, createdAt int64, ctx map[string]interface{}) *task.Task {
	return &task.Task{ID: task.ID{Name: name}, CreatedAt: createdAt, Context: ctx}
}

func TestInterpolateNamedPlaceholder(t *testing.T) {
	d := &task.Task{
		ID:         task.ID{Name: "d"},
		Properties: map[string]interface{}{"x": "${u.count}"},
		DependsOn:  []task.Dependency{{Name: "u", Mode: task.ModeAll}},
	}
	u := upstreamTask("u", 1, map[string]interface{}{"count": 42})
	d.SetUpstream([]*task.Task{u})

	New(nil).Interpolate(d)
	if d.Properties["x"] != 42 {
		t.Fatalf("expected x=42, got %v", d.Properties["x"])
	}
}

func TestInterpolateWildcardLastWinsByDeclarationOrder(t *testing.T) {
	d := &task.Task{
		ID:         task.ID{Name: "d"},
		Properties: map[string]interface{}{"x": "${*.count}"},
		DependsOn: []task.Dependency{
			{Name: "a", Mode: task.ModeAll},
			{Name: "b", Mode: task.ModeAll},
		},
	}
	a := upstreamTask("a", 1, map[string]interface{}{"count": 1})
	b := upstreamTask("b", 2, map[string]interface{}{"count": 2})
	d.SetUpstream([]*task.Task{a, b})

	New(nil).Interpolate(d)
	if d.Properties["x"] != 2 {
		t.Fatalf("expected wildcard to resolve to the last-declared dependency's value, got %v", d.Properties["x"])
	}
}

func TestInterpolateUnresolvedBecomesNil(t *testing.T) {
	d := &task.Task{
		ID:         task.ID{Name: "d"},
		Properties: map[string]interface{}{"x": "${missing.key}"},
	}
	New(nil).Interpolate(d)
	if d.Properties["x"] != nil {
		t.Fatalf("expected unresolved placeholder to become nil, got %v", d.Properties["x"])
	}
}

func TestInterpolateNonPlaceholderRetained(t *testing.T) {
	d := &task.Task{
		ID:         task.ID{Name: "d"},
		Properties: map[string]interface{}{"x": "plain-value", "n": 7},
	}
	New(nil).Interpolate(d)
	if d.Properties["x"] != "plain-value" || d.Properties["n"] != 7 {
		t.Fatalf("expected non-placeholder values retained as-is, got %v", d.Properties)
	}
}

func TestInterpolateInjectsFlattenedKeysWithoutOverwrite(t *testing.T) {
	d := &task.Task{
		ID:         task.ID{Name: "d"},
		Properties: map[string]interface{}{"count": "explicit"},
		DependsOn:  []task.Dependency{{Name: "u", Mode: task.ModeAll}},
	}
	u := upstreamTask("u", 1, map[string]interface{}{"count": 99, "other": "val"})
	d.SetUpstream([]*task.Task{u})

	New(nil).Interpolate(d)
	if d.Properties["count"] != "explicit" {
		t.Fatalf("expected existing property to survive, got %v", d.Properties["count"])
	}
	if d.Properties["other"] != "val" {
		t.Fatalf("expected flattened key without existing collision to be injected, got %v", d.Properties["other"])
	}
}

func TestInterpolateUsesLatestInstanceForFlattening(t *testing.T) {
	d := &task.Task{
		ID:         task.ID{Name: "d"},
		Properties: map[string]interface{}{},
		DependsOn:  []task.Dependency{{Name: "u", Mode: task.ModeAll}},
	}
	older := upstreamTask("u", 1, map[string]interface{}{"v": "old"})
	newer := upstreamTask("u", 2, map[string]interface{}{"v": "new"})
	d.SetUpstream([]*task.Task{older, newer})

	New(nil).Interpolate(d)
	if d.Properties["v"] != "new" {
		t.Fatalf("expected the latest-by-createdAt instance to be the flattening representative, got %v", d.Properties["v"])
	}
}
