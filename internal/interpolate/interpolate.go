// Package interpolate substitutes "${upstreamName.key}" / "${*.key}"
// placeholders in a task's properties against the flattened context of its
// resolved upstream tasks.
package interpolate

import (
	"log/slog"
	"strings"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

// Interpolator resolves placeholder strings against upstream context.
type Interpolator struct {
	logger *slog.Logger
}

// New returns an Interpolator. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Interpolator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpolator{logger: logger}
}

// flatEntry is one "{upstreamName}.{key}" → value pair, kept in the order
// its upstream task appears in t.DependsOn so wildcard resolution can apply
// a deterministic last-wins rule.
type flatEntry struct {
	flatKey string
	bareKey string
	value   interface{}
}

// Interpolate mutates t.Properties in place: every "${X}" string
// value is substituted against the flattened upstream context, then every
// flattened (upstreamName.key, value) pair is injected under its bare key
// name where no existing property survived substitution under that name.
//
// One representative instance is used per upstream name for flattening:
// the latest-by-createdAt of the resolved upstream instances, applied
// uniformly regardless of the dependency's mode, so mode=first flattens from
// the single earliest instance it resolved (see DESIGN.md for the reasoning).
func (ic *Interpolator) Interpolate(t *task.Task) {
	flat := ic.flatten(t)
	byFlatKey := make(map[string]interface{}, len(flat))
	for _, e := range flat {
		byFlatKey[e.flatKey] = e.value
	}

	for k, v := range t.Properties {
		s, ok := v.(string)
		if !ok || !isPlaceholder(s) {
			continue
		}
		expr := s[2 : len(s)-1] // strip "${" and "}"
		resolved, found := ic.resolve(expr, flat, byFlatKey)
		if !found {
			ic.logger.Error("unresolved placeholder", "task", t.ID.String(), "property", k, "expr", expr)
			t.Properties[k] = nil
			continue
		}
		t.Properties[k] = resolved
	}

	for _, e := range flat {
		if _, exists := t.Properties[e.bareKey]; !exists {
			t.Properties[e.bareKey] = e.value
		}
	}
}

func isPlaceholder(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && len(s) > 3
}

// resolve looks up "upstreamName.key" directly, or for "*.key" scans flat
// in upstream declaration order and keeps the last match.
func (ic *Interpolator) resolve(expr string, flat []flatEntry, byFlatKey map[string]interface{}) (interface{}, bool) {
	if v, ok := byFlatKey[expr]; ok {
		return v, true
	}
	name, key, hasDot := strings.Cut(expr, ".")
	if !hasDot || name != "*" {
		return nil, false
	}
	var (
		resolved interface{}
		found    bool
	)
	for _, e := range flat {
		if e.bareKey == key {
			resolved = e.value
			found = true
		}
	}
	return resolved, found
}

// flatten builds the upstreamContext flat map, in t.DependsOn declaration
// order. Each dependency name contributes the
// context of its latest-by-createdAt resolved upstream instance.
func (ic *Interpolator) flatten(t *task.Task) []flatEntry {
	out := make([]flatEntry, 0)
	upstream := t.Upstream()
	for _, dep := range t.DependsOn {
		var latest *task.Task
		for _, u := range upstream {
			if u.ID.Name != dep.Name {
				continue
			}
			if latest == nil || u.CreatedAt > latest.CreatedAt {
				latest = u
			}
		}
		if latest == nil {
			continue
		}
		for k, v := range latest.Context {
			out = append(out, flatEntry{
				flatKey: dep.Name + "." + k,
				bareKey: k,
				value:   v,
			})
		}
	}
	return out
}
