// Package registry is the plugin registry (component E): a name -> capability
// map for step executors, notifiers, SCM providers, artifact handlers,
// pipeline formats, and SCM status reporters. A single instance is built at
// startup and passed by reference inside a BuildContext rather than held in
// process-wide state.
package registry

import "sync"

// Category names the kind of capability being registered. Using a distinct
// string space per category means two different capabilities can share a
// name (e.g. a "github" SCM provider and a "github" status reporter)
// without colliding.
type Category string

const (
	CategoryStepExecutor     Category = "step-executor"
	CategoryNotifier         Category = "notifier"
	CategorySCMProvider      Category = "scm-provider"
	CategoryArtifactHandler  Category = "artifact-handler"
	CategoryPipelineFormat   Category = "pipeline-format"
	CategorySCMStatusReport  Category = "scm-status-reporter"
)

// Registry is a concurrency-safe, last-write-wins name -> value map,
// partitioned by Category. Registration under an existing (category, name)
// pair silently replaces the prior value: register is idempotent per type.
type Registry struct {
	mu   sync.RWMutex
	data map[Category]map[string]any
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{data: make(map[Category]map[string]any)}
}

// register stores v under (category, name), replacing any prior value.
func (r *Registry) register(category Category, name string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.data[category]
	if !ok {
		bucket = make(map[string]any)
		r.data[category] = bucket
	}
	bucket[name] = v
}

func (r *Registry) lookup(category Category, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.data[category]
	if !ok {
		return nil, false
	}
	v, ok := bucket[name]
	return v, ok
}

// Names lists the registered names in a category, in no particular order.
func (r *Registry) Names(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.data[category]
	out := make([]string, 0, len(bucket))
	for name := range bucket {
		out = append(out, name)
	}
	return out
}

// Register stores v of any capability type T under (category, name).
// Registering again under the same (category, name) replaces the previous
// registration (register-step-executor! is idempotent per type).
func Register[T any](r *Registry, category Category, name string, v T) {
	r.register(category, name, v)
}

// Lookup retrieves a capability of type T previously registered under
// (category, name). ok is false if nothing is registered there, or if the
// registered value does not assert to T.
func Lookup[T any](r *Registry, category Category, name string) (T, bool) {
	var zero T
	v, ok := r.lookup(category, name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
