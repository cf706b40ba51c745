package pkgproxy

import (
	"fmt"
)

// ModuleProxy stands in for a real module under the target root. It holds no
// state of its own beyond its handle and the children synthesized from it.
type ModuleProxy struct {
	name   string
	handle Handle
	eng    *engine
	memo   memo
}

func newModuleProxy(eng *engine, name string, h Handle) *ModuleProxy {
	return &ModuleProxy{name: name, handle: h, eng: eng}
}

func (m *ModuleProxy) Name() string { return m.name }

func (m *ModuleProxy) Handle() Handle { return m.handle }

func (m *ModuleProxy) String() string { return fmt.Sprintf("<module proxy %q>", m.name) }

// Attr resolves name on the remote module. Classes, callables and submodules
// are synthesized once and cached; plain values are fetched on every call.
func (m *ModuleProxy) Attr(name string) (any, error) {
	switch name {
	case "__name__":
		return m.name, nil
	case "__all__":
		return m.All()
	}
	return m.memo.resolve(name, func() (any, bool, error) {
		w, err := m.eng.api.GetAttr(m.handle, name)
		if err != nil {
			return nil, false, err
		}
		return m.eng.wrap(m.handle, name, w)
	})
}

// SetAttr assigns name on the remote module.
func (m *ModuleProxy) SetAttr(name string, v any) error {
	if err := m.eng.api.SetAttr(m.handle, name, marshalArg(v)); err != nil {
		return err
	}
	m.memo.forget(name)
	return nil
}

// Call invokes the remote function name with args.
func (m *ModuleProxy) Call(name string, args ...any) (any, error) {
	return m.eng.api.Call(m.handle, name, marshalArgs(args)...)
}

// Has reports whether the remote module has attribute name.
func (m *ModuleProxy) Has(name string) (bool, error) { return HasAttr(m, name) }

// All returns the names a star-import of the module binds: its __all__ when
// defined, its public names otherwise.
func (m *ModuleProxy) All() ([]string, error) {
	w, err := m.eng.api.GetAttr(m.handle, "__all__")
	if err == nil {
		return toNames(w.Value)
	}
	if !isNotFound(err) {
		return nil, err
	}
	w, err = m.eng.api.GetAttr(m.handle, "__dict__")
	if err != nil {
		return nil, err
	}
	ns, ok := w.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("module %s: __dict__ is %T, not a namespace", m.name, w.Value)
	}
	return publicNames(ns), nil
}

// ObjectProxy stands in for a real instance. It is created by a Class Proxy,
// which obtains the instance handle with one CreateObject call.
type ObjectProxy struct {
	handle Handle
	class  *ClassProxy
	eng    *engine
	memo   memo
}

func newObjectProxy(eng *engine, h Handle, cls *ClassProxy) *ObjectProxy {
	return &ObjectProxy{handle: h, class: cls, eng: eng}
}

func (o *ObjectProxy) Handle() Handle { return o.handle }

// Class returns the proxy of the instance's class.
func (o *ObjectProxy) Class() *ClassProxy { return o.class }

func (o *ObjectProxy) String() string {
	return fmt.Sprintf("<%s object proxy %d>", o.class.QualName(), o.handle)
}

// Attr resolves name on the remote instance.
func (o *ObjectProxy) Attr(name string) (any, error) {
	switch name {
	case "__class__":
		return o.class, nil
	case "__dict__":
		return o.Dict()
	}
	return o.memo.resolve(name, func() (any, bool, error) {
		w, err := o.eng.api.GetAttr(o.handle, name)
		if err != nil {
			return nil, false, err
		}
		return o.eng.wrap(o.handle, name, w)
	})
}

// SetAttr assigns name on the remote instance.
func (o *ObjectProxy) SetAttr(name string, v any) error {
	if err := o.eng.api.SetAttr(o.handle, name, marshalArg(v)); err != nil {
		return err
	}
	o.memo.forget(name)
	return nil
}

// Call invokes method name on the remote instance.
func (o *ObjectProxy) Call(name string, args ...any) (any, error) {
	return o.eng.api.Call(o.handle, name, marshalArgs(args)...)
}

// Has reports whether the remote instance has attribute name.
func (o *ObjectProxy) Has(name string) (bool, error) { return HasAttr(o, name) }

// IsInstance reports whether the instance's class is cls or derives from it.
func (o *ObjectProxy) IsInstance(cls *ClassProxy) bool {
	return o.class.IsSubclassOf(cls)
}

// Dict returns the remote instance fields.
func (o *ObjectProxy) Dict() (map[string]any, error) {
	w, err := o.eng.api.GetAttr(o.handle, "__dict__")
	if err != nil {
		return nil, err
	}
	d, ok := w.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("__dict__ is %T, not a namespace", w.Value)
	}
	return d, nil
}

// Release tells the provider the instance is no longer needed. Providers that
// do not evict make it a no-op.
func (o *ObjectProxy) Release() error {
	if r, ok := o.eng.api.(Releaser); ok {
		return r.Release(o.handle)
	}
	return nil
}

// CallableProxy forwards invocations to a function or method of a remote
// object. It keeps the wrapped callable's name and abstract flag.
type CallableProxy struct {
	api      Provider
	owner    Handle
	attr     string
	name     string
	abstract bool
}

func newCallableProxy(api Provider, owner Handle, attr string, fn Callable) *CallableProxy {
	cp := &CallableProxy{api: api, owner: owner, attr: attr, name: fn.CallableName()}
	if am, ok := fn.(AbstractMarker); ok {
		cp.abstract = am.IsAbstract()
	}
	return cp
}

// Name returns the wrapped callable's name.
func (c *CallableProxy) Name() string { return c.name }

// Abstract reports whether the wrapped callable is required by an abstract
// contract.
func (c *CallableProxy) Abstract() bool { return c.abstract }

// Owner returns the handle calls are forwarded to.
func (c *CallableProxy) Owner() Handle { return c.owner }

func (c *CallableProxy) String() string { return fmt.Sprintf("<callable proxy %q>", c.name) }

// Call forwards to Call(owner, attr, args...).
func (c *CallableProxy) Call(args ...any) (any, error) {
	return c.api.Call(c.owner, c.attr, marshalArgs(args)...)
}

func (c *CallableProxy) CallableName() string { return c.name }

func (c *CallableProxy) IsAbstract() bool { return c.abstract }

func (c *CallableProxy) Invoke(args Args) (any, error) { return c.Call(args.Flatten()...) }
