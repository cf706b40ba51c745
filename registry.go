package pkgproxy

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// RemotePrefix marks registry keys that hold real modules owned by a provider.
// A real module imported as "pkg.util" lives under "__remote__pkg.util" once
// the import returns, so the plain key stays free for the client's proxy.
const RemotePrefix = "__remote__"

// Registry is the shared table of loaded modules, keyed by dotted name.
//
// Entries are either real modules (*Module) or client stand-ins (*ModuleProxy).
// One registry is shared by the import system, the interceptor and the
// provider; it is created at bootstrap and passed to each of them.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]any

	log *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger logs every registry mutation at debug level.
func WithRegistryLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		modules: make(map[string]any),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the entry bound to name.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.modules[name]
	return v, ok
}

// Set binds name, replacing any previous entry.
func (r *Registry) Set(name string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = v
	r.log.Debug("registry set", zap.String("name", name), zap.String("entry", describe(v)))
}

// SetIfAbsent binds name unless it is already bound. It returns the entry that
// ends up in the registry and whether it was already there.
func (r *Registry) SetIfAbsent(name string, v any) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.modules[name]; ok {
		return cur, true
	}
	r.modules[name] = v
	r.log.Debug("registry set", zap.String("name", name), zap.String("entry", describe(v)))
	return v, false
}

// Delete unbinds name.
func (r *Registry) Delete(name string) {
	r.Pop(name)
}

// CompareAndDelete unbinds name only while it is still bound to v.
func (r *Registry) CompareAndDelete(name string, v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.modules[name]; !ok || cur != v {
		return false
	}
	delete(r.modules, name)
	r.log.Debug("registry delete", zap.String("name", name))
	return true
}

// Pop unbinds name and returns what was bound.
func (r *Registry) Pop(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.modules[name]
	if ok {
		delete(r.modules, name)
		r.log.Debug("registry delete", zap.String("name", name))
	}
	return v, ok
}

// Rename moves the entry bound to from over to to. It reports false when from
// is not bound; an existing binding for to is replaced.
func (r *Registry) Rename(from, to string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.modules[from]
	if !ok {
		return false
	}
	delete(r.modules, from)
	r.modules[to] = v
	r.log.Debug("registry rename", zap.String("from", from), zap.String("to", to))
	return true
}

// Names returns the sorted bound names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for k := range r.modules {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// underRoot reports whether name is root itself or one of its submodules.
func underRoot(root, name string) bool {
	return root != "" && (name == root || strings.HasPrefix(name, root+"."))
}

// remoteName returns the registry key of the real module behind name.
func remoteName(name string) string { return RemotePrefix + name }
