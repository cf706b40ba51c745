package pkgproxy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Resolver is one link of the import resolution chain. Resolve returns a
// Loader for name, or nil to let the next resolver try.
type Resolver interface {
	Resolve(name string) Loader
}

// Loader creates and initializes one module.
type Loader interface {
	// Create returns the object to bind in the registry for name.
	Create(name string) (any, error)

	// Exec initializes the object returned by Create. Loaders that run no
	// source leave it as a no-op.
	Exec(mod any, imp Importer) error
}

// Importer imports a module by dotted name.
type Importer interface {
	Import(name string) (any, error)
}

// ImportSystem resolves dotted names to modules through an ordered chain of
// resolvers, caching results in a Registry.
//
// Import consults the registry first; only misses walk the chain. Parents are
// imported before their submodules, and a real submodule is bound as an
// attribute of its real parent once it has executed.
type ImportSystem struct {
	registry *Registry

	mu    sync.RWMutex
	chain []Resolver

	// section is the exclusive section held while a provider performs a
	// real import; sectionOwner is the goroutine holding it.
	section      sync.Mutex
	sectionOwner int64
	sectionName  string
	ownerMu      sync.Mutex

	log *zap.Logger
}

// ImportOption configures an ImportSystem.
type ImportOption func(*ImportSystem)

// WithImportLogger sets the logger used for resolution events.
func WithImportLogger(log *zap.Logger) ImportOption {
	return func(s *ImportSystem) {
		if log != nil {
			s.log = log
		}
	}
}

// WithResolvers appends resolvers to the initial chain.
func WithResolvers(rs ...Resolver) ImportOption {
	return func(s *ImportSystem) {
		s.chain = append(s.chain, rs...)
	}
}

// NewImportSystem creates an import system over registry. A nil registry gets
// a fresh one.
func NewImportSystem(registry *Registry, opts ...ImportOption) *ImportSystem {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &ImportSystem{
		registry: registry,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry backing s.
func (s *ImportSystem) Registry() *Registry { return s.registry }

// Resolvers returns a snapshot of the chain, front first.
func (s *ImportSystem) Resolvers() []Resolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Resolver(nil), s.chain...)
}

// Front returns the first resolver in the chain, or nil.
func (s *ImportSystem) Front() Resolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chain) == 0 {
		return nil
	}
	return s.chain[0]
}

// Prepend inserts r at the front of the chain.
func (s *ImportSystem) Prepend(r Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = append([]Resolver{r}, s.chain...)
}

// prependOnce inserts r at the front unless the chain already holds a
// resolver for which same returns true; that resolver is returned instead.
func (s *ImportSystem) prependOnce(r Resolver, same func(Resolver) bool) Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.chain {
		if same(cur) {
			return cur
		}
	}
	s.chain = append([]Resolver{r}, s.chain...)
	return r
}

// Append adds r at the end of the chain.
func (s *ImportSystem) Append(r Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = append(s.chain, r)
}

// Remove takes r out of the chain and reports whether it was present.
func (s *ImportSystem) Remove(r Resolver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.chain {
		if cur == r {
			s.chain = append(s.chain[:i:i], s.chain[i+1:]...)
			return true
		}
	}
	return false
}

// view returns an import system over registry whose chain is first followed
// by s's chain without skip. The view shares resolvers with s, nothing else.
func (s *ImportSystem) view(registry *Registry, first, skip Resolver) *ImportSystem {
	v := &ImportSystem{registry: registry, log: s.log}
	if first != nil {
		v.chain = append(v.chain, first)
	}
	for _, r := range s.Resolvers() {
		if skip != nil && r == skip {
			continue
		}
		v.chain = append(v.chain, r)
	}
	return v
}

// Import returns the module bound to name, loading it (and its parents) on a
// registry miss. A name no resolver accepts yields *ModuleNotFoundError.
func (s *ImportSystem) Import(name string) (any, error) {
	if name == "" {
		return nil, errors.New("import: empty module name")
	}
	if mod, ok := s.registry.Get(name); ok {
		return mod, nil
	}

	var parent any
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		p, err := s.Import(name[:i])
		if err != nil {
			return nil, err
		}
		parent = p
		// Importing the parent may have imported name as a side effect.
		if mod, ok := s.registry.Get(name); ok {
			return mod, nil
		}
	}

	for _, r := range s.Resolvers() {
		loader := r.Resolve(name)
		if loader == nil {
			continue
		}
		return s.load(name, parent, loader)
	}
	return nil, &ModuleNotFoundError{Name: name}
}

func (s *ImportSystem) load(name string, parent any, loader Loader) (any, error) {
	mod, err := loader.Create(name)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", name, err)
	}
	if cur, loaded := s.registry.SetIfAbsent(name, mod); loaded {
		return cur, nil
	}
	if err := loader.Exec(mod, s); err != nil {
		s.registry.CompareAndDelete(name, mod)
		return nil, fmt.Errorf("import %s: %w", name, err)
	}
	if p, ok := parent.(*Module); ok {
		if _, isReal := mod.(*Module); isReal {
			p.Set(name[strings.LastIndexByte(name, '.')+1:], mod)
		}
	}
	s.log.Debug("module imported", zap.String("name", name), zap.String("entry", describe(mod)))

	// Exec may rebind the entry; the registry wins.
	if cur, ok := s.registry.Get(name); ok {
		return cur, nil
	}
	return mod, nil
}

// enterSection acquires the exclusive isolation section for the calling
// goroutine. It fails with *ReentrancyError when that goroutine already holds
// it instead of deadlocking.
func (s *ImportSystem) enterSection(name string) error {
	if active, ok := s.ownsSection(); ok {
		return &ReentrancyError{Module: name, Active: active}
	}
	gid := goroutineID()

	s.section.Lock()
	s.ownerMu.Lock()
	s.sectionOwner = gid
	s.sectionName = name
	s.ownerMu.Unlock()
	return nil
}

func (s *ImportSystem) exitSection() {
	s.ownerMu.Lock()
	s.sectionOwner = 0
	s.sectionName = ""
	s.ownerMu.Unlock()
	s.section.Unlock()
}

// ownsSection reports whether the calling goroutine holds the isolation
// section, and the name of the import running under it.
func (s *ImportSystem) ownsSection() (string, bool) {
	gid := goroutineID()
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	if s.sectionOwner != gid {
		return "", false
	}
	return s.sectionName, true
}

// sectionHeld reports whether some goroutine holds the isolation section.
func (s *ImportSystem) sectionHeld() bool {
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	return s.sectionOwner != 0
}

// ImportFrom imports module and returns the named attributes in order. A name
// that is not an attribute is tried as a submodule before failing with
// *ImportNameError.
func ImportFrom(imp Importer, module string, names ...string) ([]any, error) {
	mod, err := imp.Import(module)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(names))
	for _, name := range names {
		v, err := attrOf(mod, name)
		if err == nil {
			out = append(out, v)
			continue
		}
		if !isNotFound(err) {
			return nil, err
		}
		sub, subErr := imp.Import(module + "." + name)
		if subErr != nil {
			if isNotFound(subErr) {
				return nil, &ImportNameError{Module: module, Name: name, Err: err}
			}
			return nil, subErr
		}
		out = append(out, sub)
	}
	return out, nil
}

// ImportAll imports module and returns every name listed by its __all__,
// falling back to its public names.
func ImportAll(imp Importer, module string) (map[string]any, error) {
	mod, err := imp.Import(module)
	if err != nil {
		return nil, err
	}
	names, err := exportedNames(mod)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		v, err := attrOf(mod, name)
		if err != nil {
			return nil, fmt.Errorf("import * from %s: %w", module, err)
		}
		out[name] = v
	}
	return out, nil
}

func attrOf(mod any, name string) (any, error) {
	if r, ok := mod.(AttrResolver); ok {
		return r.Attr(name)
	}
	return GetAttr(mod, name)
}

func exportedNames(mod any) ([]string, error) {
	if p, ok := mod.(*ModuleProxy); ok {
		return p.All()
	}
	v, err := attrOf(mod, "__all__")
	if err == nil {
		return toNames(v)
	}
	if !isNotFound(err) {
		return nil, err
	}
	d, err := attrOf(mod, "__dict__")
	if err != nil {
		return nil, err
	}
	ns, ok := d.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("__dict__ is %T, not a namespace", d)
	}
	return publicNames(ns), nil
}

func toNames(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("__all__ entry is %T, not a string", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("__all__ is %T, not a list of names", v)
}
