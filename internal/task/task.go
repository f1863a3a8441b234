// Package task defines the core entity of the scheduling graph: a named unit
// of work identified by (namespace, workflow, job, name).
package task

// Task is the core entity of the scheduling graph. Its lifecycle is owned
// exclusively by internal/provider.TaskProvider; every other package only
// ever holds a *Task while the caller holds the scheduler's monitor.
type Task struct {
	ID ID `json:"taskId"`

	Type string `json:"type"`

	CreatedAt          int64 `json:"createdAt"`
	SubmittedAt        int64 `json:"submittedAt,omitempty"`
	CompletedAt        int64 `json:"completedAt,omitempty"`
	MaxExecutionTimeMs int64 `json:"maxExecutionTimeMs"`

	DependsOn []Dependency `json:"dependsOn,omitempty"`

	Properties map[string]interface{} `json:"properties,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`

	Status        Status `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`

	// upstream holds the concrete instances the Resolver wired this task to.
	// Never serialized; mutated only by internal/provider while the
	// scheduler's monitor is held.
	upstream []*Task
}

// Upstream returns the resolved concrete upstream tasks. Callers must hold
// the scheduler's monitor.
func (t *Task) Upstream() []*Task {
	return t.upstream
}

// SetUpstream wires the resolved concrete upstream tasks onto t. Only
// internal/provider should call this, immediately after a successful resolve.
func (t *Task) SetUpstream(upstream []*Task) {
	t.upstream = upstream
}

// AllUpstreamSuccessful reports whether every resolved upstream dependency is
// in the terminal SUCCESSFUL state. A task with no dependencies is vacuously
// ready.
func (t *Task) AllUpstreamSuccessful() bool {
	for _, u := range t.upstream {
		if u.Status != StatusSuccessful {
			return false
		}
	}
	return true
}

// Clone returns a shallow value copy of t, suitable for handing to an
// external collaborator (store write, outbound payload) without letting it
// retain a pointer into the provider's live graph. Map fields are copied one
// level deep since both Properties and Context are mutated in place by the
// interpolator / status updates.
func (t *Task) Clone() *Task {
	cp := *t
	cp.upstream = nil
	if t.Properties != nil {
		cp.Properties = make(map[string]interface{}, len(t.Properties))
		for k, v := range t.Properties {
			cp.Properties[k] = v
		}
	}
	if t.Context != nil {
		cp.Context = make(map[string]interface{}, len(t.Context))
		for k, v := range t.Context {
			cp.Context[k] = v
		}
	}
	if t.DependsOn != nil {
		cp.DependsOn = append([]Dependency(nil), t.DependsOn...)
	}
	return &cp
}
