package pkgproxy

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// engine turns fetched attributes into proxies. One engine serves every proxy
// created by an interceptor.
//
// Class Proxies are cached by class handle so that the same remote class is
// represented by one proxy, whichever owner it was reached through.
type engine struct {
	api Provider
	sys *ImportSystem
	log *zap.Logger

	mu      sync.Mutex
	classes map[Handle]*ClassProxy
}

func newEngine(api Provider, sys *ImportSystem, log *zap.Logger) *engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &engine{
		api:     api,
		sys:     sys,
		log:     log,
		classes: make(map[Handle]*ClassProxy),
	}
}

// wrap classifies w, fetched as attribute name of owner, and returns the
// stand-in for it. keep reports whether the result may be memoized on the
// owner; plain data never is.
func (e *engine) wrap(owner Handle, name string, w AttrWrapper) (v any, keep bool, err error) {
	switch t := w.Value.(type) {
	case *Class:
		return e.classProxy(t, w.Handle), true, nil
	case *Module:
		// Real modules stay on the provider side; hand out the proxy.
		mod, err := e.sys.Import(t.Name())
		if err != nil {
			return nil, false, err
		}
		return mod, true, nil
	case Callable:
		ProxiesSynthesized.WithLabelValues("callable").Inc()
		return newCallableProxy(e.api, owner, name, t), true, nil
	}
	return w.Value, false, nil
}

// classProxy returns the Class Proxy for the class behind h.
func (e *engine) classProxy(c *Class, h Handle) *ClassProxy {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cp, ok := e.classes[h]; ok {
		return cp
	}
	desc := describeClass(c, h)
	cp := newClassProxy(e, desc)
	// Reasserted after construction, like the abstract set of a class built
	// programmatically.
	cp.setAbstract(desc.Abstract)
	e.classes[h] = cp
	ProxiesSynthesized.WithLabelValues("class").Inc()
	e.log.Debug("class proxy created", zap.String("class", desc.QualName()), zap.Int64("handle", int64(h)))
	return cp
}

// memo is the per-owner cache of synthesized children. Concurrent resolution
// of one name converges on a single fetch and a single cached proxy.
type memo struct {
	mu    sync.RWMutex
	items map[string]any
	group singleflight.Group
}

func (m *memo) get(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[name]
	return v, ok
}

func (m *memo) put(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]any)
	}
	m.items[name] = v
}

// forget drops a cached child after its attribute was reassigned.
func (m *memo) forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, name)
}

// resolve returns the cached child name or runs fetch. fetch reports whether
// its result may be cached.
func (m *memo) resolve(name string, fetch func() (any, bool, error)) (any, error) {
	if v, ok := m.get(name); ok {
		return v, nil
	}
	v, err, _ := m.group.Do(name, func() (any, error) {
		if v, ok := m.get(name); ok {
			return v, nil
		}
		v, keep, err := fetch()
		if err != nil {
			return nil, err
		}
		if keep {
			m.put(name, v)
		}
		return v, nil
	})
	return v, err
}

// ClassDescriptor is the data-only description of a remote class a Class
// Proxy is built from.
type ClassDescriptor struct {
	// Name is the class name.
	Name string

	// Module is the dotted name of the defining module.
	Module string

	// Bases describes the declared bases, in order.
	Bases []*ClassDescriptor

	// Abstract lists the names of unimplemented abstract methods.
	Abstract []string

	// Handle identifies the class on the provider. Base descriptors reached
	// only through Bases carry zero.
	Handle Handle
}

// QualName returns module.name.
func (d *ClassDescriptor) QualName() string {
	if d.Module == "" {
		return d.Name
	}
	return d.Module + "." + d.Name
}

// same reports whether d and o describe the same remote class.
func (d *ClassDescriptor) same(o *ClassDescriptor) bool {
	if d == o {
		return true
	}
	if d.Handle != 0 && o.Handle != 0 {
		return d.Handle == o.Handle
	}
	return d.QualName() == o.QualName()
}

// IsSubclassOf reports whether base is d or one of its declared ancestors.
func (d *ClassDescriptor) IsSubclassOf(base *ClassDescriptor) bool {
	if d.same(base) {
		return true
	}
	for _, b := range d.Bases {
		if b.IsSubclassOf(base) {
			return true
		}
	}
	return false
}

func describeClass(c *Class, h Handle) *ClassDescriptor {
	d := &ClassDescriptor{
		Name:     c.Name(),
		Module:   c.Module(),
		Abstract: c.AbstractMethods(),
		Handle:   h,
	}
	for _, b := range c.Bases() {
		d.Bases = append(d.Bases, describeClass(b, 0))
	}
	return d
}

// marshalArgs replaces proxies in an argument list with Refs to the objects
// they stand for.
func marshalArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = marshalArg(a)
	}
	return out
}

func marshalArg(v any) any {
	switch t := v.(type) {
	case *ModuleProxy:
		return Ref{Handle: t.handle}
	case *ClassProxy:
		return Ref{Handle: t.desc.Handle}
	case *ObjectProxy:
		return Ref{Handle: t.handle}
	case *LocalObject:
		return Ref{Handle: t.handle}
	case Kwargs:
		out := make(Kwargs, len(t))
		for k, e := range t {
			out[k] = marshalArg(e)
		}
		return out
	case []any:
		return marshalArgs(t)
	}
	return v
}
