// Package stage declares the pipeline stages, their dependency graph, and
// the uniform executor contract, plus the executor implementations.
package stage

import (
	"context"
	"fmt"

	"github.com/msageha/taskforge/internal/model"
)

// Executor is the uniform contract every stage implements. A pure git
// operation, an LLM call, and an external test run all look identical to
// the scheduler: input item in, artifact reference or classified error out.
// Implementations never panic across this boundary.
type Executor interface {
	Execute(ctx context.Context, item *model.WorkItem) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, item *model.WorkItem) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, item *model.WorkItem) (string, error) {
	return f(ctx, item)
}

// Definition binds a stage name to its input variant, its prerequisite
// stages, and its executor.
type Definition struct {
	Name     string
	Variant  model.Variant
	Prereqs  []string
	Executor Executor
}

// Registry is the static stage table in declared dependency order.
type Registry struct {
	defs   []Definition
	byName map[string]int
}

// NewRegistry validates the table: unique names, known variants, and every
// prerequisite declared earlier and on the same variant.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(defs))}
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("stage %d: empty name", i)
		}
		if !model.ValidVariant(d.Variant) {
			return nil, fmt.Errorf("stage %s: unknown variant %q", d.Name, d.Variant)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("stage %s: declared twice", d.Name)
		}
		for _, p := range d.Prereqs {
			pi, ok := r.byName[p]
			if !ok {
				return nil, fmt.Errorf("stage %s: prerequisite %q not declared before it", d.Name, p)
			}
			if defs[pi].Variant != d.Variant {
				return nil, fmt.Errorf("stage %s: prerequisite %q applies to a different variant", d.Name, p)
			}
		}
		r.byName[d.Name] = i
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// Ordered returns all stages in declared dependency order.
func (r *Registry) Ordered() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

func (r *Registry) Get(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// StagesByVariant maps each variant to its applicable stage names in
// order. The store uses this to keep every record complete: a WorkItem
// always carries an entry for each applicable stage, even if pending.
func (r *Registry) StagesByVariant() map[model.Variant][]string {
	m := make(map[model.Variant][]string)
	for _, d := range r.defs {
		m[d.Variant] = append(m[d.Variant], d.Name)
	}
	return m
}
