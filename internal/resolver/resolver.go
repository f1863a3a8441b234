// Package resolver implements dependency resolution: for a freshly added
// task, find concrete upstream instances within the declared look-back
// window and select among them by mode.
package resolver

import "github.com/rajgiridhar1995/kronos/internal/task"

// CandidateSource supplies same-name task candidates, ordered by createdAt
// ascending with id-tuple tie-break. internal/provider.TaskProvider
// implements this.
type CandidateSource interface {
	CandidatesByName(namespace, name string) []*task.Task
}

// Resolver is stateless; it only reads through the CandidateSource.
type Resolver struct{}

// New returns a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Resolve finds the concrete upstream instances for every entry in
// t.DependsOn, scoped to t's own (namespace, workflow, job) and each entry's
// look-back window. Returns the flattened set of resolved upstream tasks and
// true on success; returns (nil, false) the moment any single dependency
// entry cannot be resolved — the task is left without edges in that case.
func (r *Resolver) Resolve(t *task.Task, src CandidateSource) ([]*task.Task, bool) {
	if len(t.DependsOn) == 0 {
		return nil, true
	}

	resolved := make([]*task.Task, 0, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		candidates := src.CandidatesByName(t.ID.Namespace, dep.Name)
		windowStart := t.CreatedAt - dep.LookbackWindow

		matches := make([]*task.Task, 0, len(candidates))
		for _, c := range candidates {
			if c.ID == t.ID {
				// t is already indexed by the time it resolves; a task never
				// depends on itself.
				continue
			}
			if c.ID.Workflow != t.ID.Workflow || c.ID.Job != t.ID.Job {
				continue
			}
			if c.CreatedAt < windowStart || c.CreatedAt > t.CreatedAt {
				continue
			}
			matches = append(matches, c)
		}
		if len(matches) == 0 {
			return nil, false
		}

		// matches is already ordered ascending by createdAt with id-tuple
		// tie-break (CandidateSource contract), so first/last are O(1).
		switch dep.Mode {
		case task.ModeAll:
			resolved = append(resolved, matches...)
		case task.ModeFirst:
			resolved = append(resolved, matches[0])
		case task.ModeLast:
			resolved = append(resolved, matches[len(matches)-1])
		default:
			return nil, false
		}
	}

	return resolved, true
}
