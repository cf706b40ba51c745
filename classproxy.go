package pkgproxy

import (
	"fmt"
	"sort"
	"sync"
)

// ClassProxy stands in for a real class. It is built from a ClassDescriptor:
// ancestor checks walk the descriptor's declared bases, class-level lookups
// forward to GetAttr on the class handle, and instantiation goes through
// CreateObject.
type ClassProxy struct {
	desc *ClassDescriptor
	eng  *engine
	memo memo

	mu       sync.RWMutex
	abstract []string
}

func newClassProxy(eng *engine, desc *ClassDescriptor) *ClassProxy {
	return &ClassProxy{desc: desc, eng: eng}
}

func (c *ClassProxy) setAbstract(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abstract = append([]string(nil), names...)
	sort.Strings(c.abstract)
}

func (c *ClassProxy) Name() string { return c.desc.Name }

func (c *ClassProxy) QualName() string { return c.desc.QualName() }

func (c *ClassProxy) Handle() Handle { return c.desc.Handle }

// Descriptor returns the descriptor the proxy was built from.
func (c *ClassProxy) Descriptor() *ClassDescriptor { return c.desc }

func (c *ClassProxy) String() string { return fmt.Sprintf("<class proxy %q>", c.desc.QualName()) }

// AbstractMethods returns the sorted unimplemented abstract method names.
func (c *ClassProxy) AbstractMethods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.abstract...)
}

// Attr resolves name on the remote class.
func (c *ClassProxy) Attr(name string) (any, error) {
	switch name {
	case "__name__":
		return c.desc.Name, nil
	case "__module__":
		return c.desc.Module, nil
	case "__abstractmethods__":
		return c.AbstractMethods(), nil
	}
	return c.memo.resolve(name, func() (any, bool, error) {
		w, err := c.eng.api.GetAttr(c.desc.Handle, name)
		if err != nil {
			return nil, false, err
		}
		return c.eng.wrap(c.desc.Handle, name, w)
	})
}

// SetAttr assigns a class-level attribute on the remote class.
func (c *ClassProxy) SetAttr(name string, v any) error {
	if err := c.eng.api.SetAttr(c.desc.Handle, name, marshalArg(v)); err != nil {
		return err
	}
	c.memo.forget(name)
	return nil
}

// Call invokes the class-level callable name.
func (c *ClassProxy) Call(name string, args ...any) (any, error) {
	return c.eng.api.Call(c.desc.Handle, name, marshalArgs(args)...)
}

// Has reports whether the remote class has attribute name.
func (c *ClassProxy) Has(name string) (bool, error) { return HasAttr(c, name) }

// IsSubclassOf reports whether c is base or derives from it.
func (c *ClassProxy) IsSubclassOf(base *ClassProxy) bool {
	return c.desc.IsSubclassOf(base.desc)
}

// New instantiates the remote class. An abstract class is refused with
// *AbstractError before the provider is contacted.
func (c *ClassProxy) New(args ...any) (*ObjectProxy, error) {
	if abstract := c.AbstractMethods(); len(abstract) > 0 {
		return nil, &AbstractError{Class: c.desc.QualName(), Methods: abstract}
	}
	return c.create(args)
}

func (c *ClassProxy) create(args []any) (*ObjectProxy, error) {
	h, err := c.eng.api.CreateObject(c.desc.Handle, marshalArgs(args)...)
	if err != nil {
		return nil, err
	}
	return newObjectProxy(c.eng, h, c), nil
}

func (c *ClassProxy) CallableName() string { return c.desc.Name }

// Invoke makes the proxy callable like the class it stands for.
func (c *ClassProxy) Invoke(args Args) (any, error) { return c.New(args.Flatten()...) }

// Subclass derives a local class from c. Methods given here run locally;
// everything else is served by the remote instance.
func (c *ClassProxy) Subclass(name string, methods ...*LocalMethod) *LocalClass {
	return newLocalClass(name, c, nil, c.AbstractMethods(), methods)
}

// LocalMethod is a method implemented on the client by a local subclass.
type LocalMethod struct {
	Name     string
	Abstract bool
	Fn       func(self *LocalObject, args Args) (any, error)
}

func (m *LocalMethod) CallableName() string { return m.Name }

func (m *LocalMethod) IsAbstract() bool { return m.Abstract }

// LocalClass is a client-side subclass of a Class Proxy.
//
// Its abstract set holds the abstract names of its bases it does not override
// with a concrete method, plus its own abstract methods.
type LocalClass struct {
	name     string
	remote   *ClassProxy
	parent   *LocalClass
	methods  map[string]*LocalMethod
	abstract []string
}

func newLocalClass(name string, remote *ClassProxy, parent *LocalClass, inherited []string, methods []*LocalMethod) *LocalClass {
	lc := &LocalClass{
		name:    name,
		remote:  remote,
		parent:  parent,
		methods: make(map[string]*LocalMethod, len(methods)),
	}
	for _, m := range methods {
		lc.methods[m.Name] = m
	}

	set := make(map[string]struct{})
	for _, n := range inherited {
		if m, ok := lc.methods[n]; ok && !m.Abstract {
			continue
		}
		set[n] = struct{}{}
	}
	for n, m := range lc.methods {
		if m.Abstract {
			set[n] = struct{}{}
		}
	}
	for n := range set {
		lc.abstract = append(lc.abstract, n)
	}
	sort.Strings(lc.abstract)
	return lc
}

func (lc *LocalClass) Name() string { return lc.name }

// QualName names the class after the module of its remote base.
func (lc *LocalClass) QualName() string {
	if mod := lc.remote.desc.Module; mod != "" {
		return mod + "." + lc.name
	}
	return lc.name
}

// Remote returns the Class Proxy at the root of the local hierarchy.
func (lc *LocalClass) Remote() *ClassProxy { return lc.remote }

// AbstractMethods returns the sorted unimplemented abstract method names.
func (lc *LocalClass) AbstractMethods() []string {
	return append([]string(nil), lc.abstract...)
}

// IsSubclassOf reports whether lc derives from base.
func (lc *LocalClass) IsSubclassOf(base *ClassProxy) bool {
	return lc.remote.IsSubclassOf(base)
}

// Subclass derives a further local class from lc.
func (lc *LocalClass) Subclass(name string, methods ...*LocalMethod) *LocalClass {
	return newLocalClass(name, lc.remote, lc, lc.abstract, methods)
}

// New instantiates lc. The remote part of the instance is created with one
// CreateObject call on the remote base.
func (lc *LocalClass) New(args ...any) (*LocalObject, error) {
	if len(lc.abstract) > 0 {
		return nil, &AbstractError{Class: lc.QualName(), Methods: lc.AbstractMethods()}
	}
	obj, err := lc.remote.create(args)
	if err != nil {
		return nil, err
	}
	return &LocalObject{ObjectProxy: obj, class: lc}, nil
}

// lookup finds a local method along the local hierarchy.
func (lc *LocalClass) lookup(name string) (*LocalMethod, bool) {
	for k := lc; k != nil; k = k.parent {
		if m, ok := k.methods[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// LocalObject is an instance of a LocalClass: local methods run on the
// client, everything else goes to the remote instance.
type LocalObject struct {
	*ObjectProxy
	class *LocalClass
}

// Type returns the local class of o.
func (o *LocalObject) Type() *LocalClass { return o.class }

// Attr resolves local methods first, then the remote instance.
func (o *LocalObject) Attr(name string) (any, error) {
	if m, ok := o.class.lookup(name); ok {
		return NewFunc(m.Name, func(args Args) (any, error) { return o.invoke(m, args) }), nil
	}
	return o.ObjectProxy.Attr(name)
}

// Call invokes a local method or forwards to the remote instance.
func (o *LocalObject) Call(name string, args ...any) (any, error) {
	if m, ok := o.class.lookup(name); ok {
		return o.invoke(m, SplitArgs(args))
	}
	return o.ObjectProxy.Call(name, args...)
}

// Has reports whether o has attribute name locally or remotely.
func (o *LocalObject) Has(name string) (bool, error) { return HasAttr(o, name) }

func (o *LocalObject) invoke(m *LocalMethod, args Args) (any, error) {
	if m.Fn == nil {
		return nil, &AbstractError{Class: o.class.QualName(), Methods: []string{m.Name}}
	}
	return m.Fn(o, args)
}
