// Package provider implements the in-memory indexed task graph: the
// TaskProvider. It exclusively owns every Task record; all other packages
// only ever touch a *task.Task while the caller holds the scheduler's
// single coarse monitor — this package therefore does no locking of its
// own.
package provider

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/metric"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

type nameKey struct {
	Namespace string
	Name      string
}

// TaskProvider is the in-memory indexed task graph: the live id index, the
// (namespace, name) candidate index, the reverse-dependency index, and the
// by-status index.
type TaskProvider struct {
	byID            map[task.ID]*task.Task
	byNamespaceName map[nameKey][]*task.Task
	dependents      map[task.ID]map[task.ID]*task.Task
	byStatus        map[task.Status]map[task.ID]*task.Task

	evictions metric.Int64Counter
}

// New creates an empty TaskProvider. meter may be nil in tests.
func New(meter metric.Meter) *TaskProvider {
	p := &TaskProvider{
		byID:            make(map[task.ID]*task.Task),
		byNamespaceName: make(map[nameKey][]*task.Task),
		dependents:      make(map[task.ID]map[task.ID]*task.Task),
		byStatus:        make(map[task.Status]map[task.ID]*task.Task),
	}
	for _, s := range task.AllStatuses() {
		p.byStatus[s] = make(map[task.ID]*task.Task)
	}
	if meter != nil {
		p.evictions, _ = meter.Int64Counter("kronos_provider_evictions_total")
	}
	return p
}

// Add inserts t if its id is not already present. Returns true on insert,
// false on a silent duplicate no-op.
func (p *TaskProvider) Add(t *task.Task) bool {
	if _, exists := p.byID[t.ID]; exists {
		return false
	}
	p.byID[t.ID] = t
	bucket, ok := p.byStatus[t.Status]
	if !ok {
		bucket = make(map[task.ID]*task.Task)
		p.byStatus[t.Status] = bucket
	}
	bucket[t.ID] = t

	key := nameKey{Namespace: t.ID.Namespace, Name: t.ID.Name}
	list := p.byNamespaceName[key]
	idx := sort.Search(len(list), func(i int) bool {
		if list[i].CreatedAt != t.CreatedAt {
			return list[i].CreatedAt > t.CreatedAt
		}
		return t.ID.Less(list[i].ID)
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = t
	p.byNamespaceName[key] = list

	return true
}

// GetTask looks up a task by id.
func (p *TaskProvider) GetTask(id task.ID) (*task.Task, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// GetTasks returns every task in any of the given statuses.
func (p *TaskProvider) GetTasks(statuses ...task.Status) []*task.Task {
	out := make([]*task.Task, 0)
	for _, s := range statuses {
		for _, t := range p.byStatus[s] {
			out = append(out, t)
		}
	}
	return out
}

// GetActiveTasks returns every non-terminal task.
func (p *TaskProvider) GetActiveTasks() []*task.Task {
	return p.GetTasks(task.ActiveStatuses()...)
}

// GetReadyTasks returns every WAITING task whose upstream dependencies are
// all SUCCESSFUL, sorted by createdAt ascending with id-tuple tie-break.
func (p *TaskProvider) GetReadyTasks() []*task.Task {
	ready := make([]*task.Task, 0)
	for _, t := range p.byStatus[task.StatusWaiting] {
		if t.AllUpstreamSuccessful() {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].CreatedAt != ready[j].CreatedAt {
			return ready[i].CreatedAt < ready[j].CreatedAt
		}
		return ready[i].ID.Less(ready[j].ID)
	})
	return ready
}

// GetDependentTasks returns t's direct dependents via the reverse-edge index.
func (p *TaskProvider) GetDependentTasks(t *task.Task) []*task.Task {
	deps := p.dependents[t.ID]
	out := make([]*task.Task, 0, len(deps))
	for _, d := range deps {
		out = append(out, d)
	}
	return out
}

// IsReadyForExecution reports whether t is WAITING with every upstream
// SUCCESSFUL.
func (p *TaskProvider) IsReadyForExecution(t *task.Task) bool {
	return t.Status == task.StatusWaiting && t.AllUpstreamSuccessful()
}

// Size returns the count of all live (non-evicted) tasks.
func (p *TaskProvider) Size() int {
	return len(p.byID)
}

// SetStatus transitions t.Status to newStatus and keeps the by-status index
// consistent. Callers must hold the scheduler monitor.
func (p *TaskProvider) SetStatus(t *task.Task, newStatus task.Status) {
	delete(p.byStatus[t.Status], t.ID)
	t.Status = newStatus
	p.byStatus[newStatus][t.ID] = t
}

// CandidatesByName returns every task sharing (namespace, name), ordered by
// createdAt ascending with id-tuple tie-break. Used by internal/resolver;
// satisfies resolver.CandidateSource.
func (p *TaskProvider) CandidatesByName(namespace, name string) []*task.Task {
	return p.byNamespaceName[nameKey{Namespace: namespace, Name: name}]
}

// WireDependencies records that t depends on each task in upstream: it sets
// t's resolved upstream edges and adds t to each upstream's reverse-edge
// (dependents) set. Called by the scheduler once the resolver has produced a
// successful resolution.
func (p *TaskProvider) WireDependencies(t *task.Task, upstream []*task.Task) {
	t.SetUpstream(upstream)
	for _, u := range upstream {
		set, ok := p.dependents[u.ID]
		if !ok {
			set = make(map[task.ID]*task.Task)
			p.dependents[u.ID] = set
		}
		set[t.ID] = t
	}
}

// RemoveStaleTasks evicts every task whose (job, workflow, namespace) sibling
// group is entirely terminal and has been so for at least minAgeMs. Returns
// the evicted tasks.
// Idempotent: calling it again with nothing newly eligible evicts nothing.
func (p *TaskProvider) RemoveStaleTasks(ctx context.Context, nowMs, minAgeMs int64) []*task.Task {
	type jobKey struct {
		Namespace, Workflow, Job string
	}
	groups := make(map[jobKey][]*task.Task)
	for _, t := range p.byID {
		k := jobKey{t.ID.Namespace, t.ID.Workflow, t.ID.Job}
		groups[k] = append(groups[k], t)
	}

	evicted := make([]*task.Task, 0)
	for _, tasks := range groups {
		if !allTerminalAndAged(tasks, nowMs, minAgeMs) {
			continue
		}
		for _, t := range tasks {
			p.removeOne(t)
			evicted = append(evicted, t)
		}
	}
	if p.evictions != nil && len(evicted) > 0 {
		p.evictions.Add(ctx, int64(len(evicted)))
	}
	return evicted
}

func allTerminalAndAged(tasks []*task.Task, nowMs, minAgeMs int64) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return false
		}
		if nowMs-t.CompletedAt < minAgeMs {
			return false
		}
	}
	return true
}

func (p *TaskProvider) removeOne(t *task.Task) {
	delete(p.byID, t.ID)
	delete(p.byStatus[t.Status], t.ID)
	delete(p.dependents, t.ID)

	key := nameKey{Namespace: t.ID.Namespace, Name: t.ID.Name}
	list := p.byNamespaceName[key]
	for i, candidate := range list {
		if candidate.ID == t.ID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.byNamespaceName, key)
	} else {
		p.byNamespaceName[key] = list
	}

	for _, deps := range p.dependents {
		delete(deps, t.ID)
	}
}
