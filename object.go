package pkgproxy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kwargs carries keyword arguments. When it is the last element of a variadic
// argument list it is split off into Args.Kw.
type Kwargs map[string]any

// Args is the normalized argument list a real callable receives.
type Args struct {
	Pos []any
	Kw  map[string]any
}

// SplitArgs separates a trailing Kwargs value from positional arguments.
func SplitArgs(args []any) Args {
	if n := len(args); n > 0 {
		if kw, ok := args[n-1].(Kwargs); ok {
			return Args{Pos: args[:n-1], Kw: kw}
		}
	}
	return Args{Pos: args}
}

// Flatten is the inverse of SplitArgs.
func (a Args) Flatten() []any {
	out := make([]any, 0, len(a.Pos)+1)
	out = append(out, a.Pos...)
	if len(a.Kw) > 0 {
		out = append(out, Kwargs(a.Kw))
	}
	return out
}

// Len returns the number of positional arguments.
func (a Args) Len() int { return len(a.Pos) }

// Get returns positional argument i, falling back to keyword name when the
// positional slot is absent.
func (a Args) Get(i int, name string) (any, bool) {
	if i >= 0 && i < len(a.Pos) {
		return a.Pos[i], true
	}
	if name != "" {
		v, ok := a.Kw[name]
		return v, ok
	}
	return nil, false
}

// Callable is implemented by every real object that can be invoked through
// the Call operation.
type Callable interface {
	CallableName() string
	Invoke(args Args) (any, error)
}

// AbstractMarker reports whether a callable is required by an abstract
// contract.
type AbstractMarker interface {
	IsAbstract() bool
}

// Func is a plain function living in a module namespace or stored on a class
// as a static function.
type Func struct {
	Name     string
	Doc      string
	Abstract bool
	Fn       func(args Args) (any, error)
}

// NewFunc returns a Func named name.
func NewFunc(name string, fn func(args Args) (any, error)) *Func {
	return &Func{Name: name, Fn: fn}
}

func (f *Func) CallableName() string { return f.Name }

func (f *Func) IsAbstract() bool { return f.Abstract }

func (f *Func) Invoke(args Args) (any, error) {
	if f.Fn == nil {
		return nil, nil
	}
	return f.Fn(args)
}

// Call invokes f with variadic arguments.
func (f *Func) Call(args ...any) (any, error) { return f.Invoke(SplitArgs(args)) }

// Method is a function that takes its receiver explicitly. Looked up on a
// class it stays unbound; looked up on an instance it is bound.
type Method struct {
	Name     string
	Doc      string
	Abstract bool
	Fn       func(self *Instance, args Args) (any, error)
}

func (m *Method) CallableName() string { return m.Name }

func (m *Method) IsAbstract() bool { return m.Abstract }

// Invoke calls an unbound method; the first positional argument is the receiver.
func (m *Method) Invoke(args Args) (any, error) {
	if len(args.Pos) == 0 {
		return nil, fmt.Errorf("unbound method %s() needs an instance argument", m.Name)
	}
	self, ok := args.Pos[0].(*Instance)
	if !ok {
		return nil, fmt.Errorf("unbound method %s() needs an instance argument, got %T", m.Name, args.Pos[0])
	}
	return m.Bind(self).Invoke(Args{Pos: args.Pos[1:], Kw: args.Kw})
}

// Bind returns m bound to self.
func (m *Method) Bind(self *Instance) *BoundMethod {
	return &BoundMethod{Self: self, Method: m}
}

// BoundMethod is a Method paired with its receiver.
type BoundMethod struct {
	Self   *Instance
	Method *Method
}

func (b *BoundMethod) CallableName() string { return b.Method.Name }

func (b *BoundMethod) IsAbstract() bool { return b.Method.Abstract }

func (b *BoundMethod) Invoke(args Args) (any, error) {
	if b.Method.Fn == nil {
		return nil, nil
	}
	return b.Method.Fn(b.Self, args)
}

// Call invokes b with variadic arguments.
func (b *BoundMethod) Call(args ...any) (any, error) { return b.Invoke(SplitArgs(args)) }

// Module is a real module: a dotted name and a namespace.
type Module struct {
	name string

	mu sync.RWMutex
	ns map[string]any
}

// NewModule returns an empty module named name.
func NewModule(name string) *Module {
	return &Module{name: name, ns: map[string]any{"__name__": name}}
}

func (m *Module) Name() string { return m.name }

func (m *Module) String() string { return fmt.Sprintf("<module %q>", m.name) }

// Get returns the namespace entry for name.
func (m *Module) Get(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.ns[name]
	return v, ok
}

// Set binds name in the namespace.
func (m *Module) Set(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ns[name] = v
}

// Define binds a class, function or method under its own name and returns m.
func (m *Module) Define(values ...any) *Module {
	for _, v := range values {
		switch t := v.(type) {
		case *Class:
			m.Set(t.name, t)
		case Callable:
			m.Set(t.CallableName(), t)
		default:
			panic(fmt.Sprintf("pkgproxy: Module.Define cannot name a %T", v))
		}
	}
	return m
}

// Dict returns a snapshot of the namespace.
func (m *Module) Dict() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.ns))
	for k, v := range m.ns {
		out[k] = v
	}
	return out
}

// Attr implements AttrResolver.
func (m *Module) Attr(name string) (any, error) { return GetAttr(m, name) }

// Instance is a real object created from a Class.
type Instance struct {
	class *Class

	mu     sync.RWMutex
	fields map[string]any
}

func (i *Instance) Class() *Class { return i.class }

func (i *Instance) String() string { return fmt.Sprintf("<%s object>", i.class.QualName()) }

// Field returns the instance field name.
func (i *Instance) Field(name string) (any, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.fields[name]
	return v, ok
}

// SetField assigns the instance field name.
func (i *Instance) SetField(name string, v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fields[name] = v
}

// Fields returns a snapshot of the instance fields.
func (i *Instance) Fields() map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]any, len(i.fields))
	for k, v := range i.fields {
		out[k] = v
	}
	return out
}

// Attr implements AttrResolver.
func (i *Instance) Attr(name string) (any, error) { return GetAttr(i, name) }

// GetAttr performs attribute lookup on a real object.
//
// Modules answer from their namespace. Classes search their method resolution
// order. Instances check their own fields first, then the class, binding any
// Method found there. A miss returns *AttributeError.
func GetAttr(obj any, name string) (any, error) {
	switch o := obj.(type) {
	case *Module:
		if name == "__dict__" {
			return o.Dict(), nil
		}
		if v, ok := o.Get(name); ok {
			return v, nil
		}
	case *Class:
		switch name {
		case "__dict__":
			return o.Dict(), nil
		case "__name__":
			return o.name, nil
		case "__module__":
			return o.module, nil
		case "__bases__":
			return o.Bases(), nil
		case "__mro__":
			return o.MRO(), nil
		case "__abstractmethods__":
			return o.AbstractMethods(), nil
		}
		if v, _, ok := o.Lookup(name); ok {
			return v, nil
		}
	case *Instance:
		switch name {
		case "__dict__":
			return o.Fields(), nil
		case "__class__":
			return o.class, nil
		}
		if v, ok := o.Field(name); ok {
			return v, nil
		}
		if v, _, ok := o.class.Lookup(name); ok {
			if m, isMethod := v.(*Method); isMethod {
				return m.Bind(o), nil
			}
			return v, nil
		}
	case Callable:
		switch name {
		case "__name__":
			return o.CallableName(), nil
		case "__isabstractmethod__":
			if am, ok := o.(AbstractMarker); ok {
				return am.IsAbstract(), nil
			}
			return false, nil
		}
	}
	return nil, &AttributeError{Owner: describe(obj), Name: name}
}

// SetAttr assigns an attribute on a real object.
func SetAttr(obj any, name string, v any) error {
	switch o := obj.(type) {
	case *Module:
		o.Set(name, v)
		return nil
	case *Class:
		o.Set(name, v)
		return nil
	case *Instance:
		o.SetField(name, v)
		return nil
	}
	return &AttributeError{Owner: describe(obj) + " (read-only)", Name: name}
}

// AttrResolver is implemented by everything that answers attribute lookups:
// real modules and instances as well as every proxy kind.
type AttrResolver interface {
	Attr(name string) (any, error)
}

// HasAttr checks for an attribute. A NotFound miss yields false with a nil
// error; any other failure is returned unchanged.
func HasAttr(obj AttrResolver, name string) (bool, error) {
	_, err := obj.Attr(name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// publicNames returns the sorted keys of ns that do not start with an underscore.
func publicNames(ns map[string]any) []string {
	names := make([]string, 0, len(ns))
	for k := range ns {
		if !strings.HasPrefix(k, "_") {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func describe(obj any) string {
	switch o := obj.(type) {
	case *Module:
		return fmt.Sprintf("module %q", o.name)
	case *Class:
		return fmt.Sprintf("class %q", o.QualName())
	case *Instance:
		return fmt.Sprintf("%q object", o.class.QualName())
	case Callable:
		return fmt.Sprintf("callable %q", o.CallableName())
	case fmt.Stringer:
		return o.String()
	case nil:
		return "nil"
	}
	return fmt.Sprintf("%T value", obj)
}
