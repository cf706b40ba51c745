package pkgproxy

import (
	"fmt"
	"sort"
	"sync"
)

// Class is a real class: a name, declared bases and an attribute namespace
// holding methods, static functions and class-level data.
//
// Attribute lookup follows the C3 linearization of the bases, computed once at
// construction. A class is abstract when some name resolved along that order
// is a callable marked abstract; New refuses to instantiate it.
type Class struct {
	name   string
	module string
	bases  []*Class
	mro    []*Class

	mu    sync.RWMutex
	attrs map[string]any
}

// NewClass creates a class in module with the given bases. It fails when the
// bases do not admit a consistent method resolution order.
func NewClass(module, name string, bases ...*Class) (*Class, error) {
	c := &Class{
		name:   name,
		module: module,
		bases:  append([]*Class(nil), bases...),
		attrs:  make(map[string]any),
	}
	mro, err := linearize(c)
	if err != nil {
		return nil, err
	}
	c.mro = mro
	return c, nil
}

// MustNewClass is like NewClass but panics on an inconsistent hierarchy.
func MustNewClass(module, name string, bases ...*Class) *Class {
	c, err := NewClass(module, name, bases...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Class) Name() string { return c.name }

func (c *Class) Module() string { return c.module }

// QualName returns module.name.
func (c *Class) QualName() string {
	if c.module == "" {
		return c.name
	}
	return c.module + "." + c.name
}

func (c *Class) String() string { return fmt.Sprintf("<class %q>", c.QualName()) }

// Bases returns the declared bases.
func (c *Class) Bases() []*Class { return append([]*Class(nil), c.bases...) }

// MRO returns the method resolution order, c first.
func (c *Class) MRO() []*Class { return append([]*Class(nil), c.mro...) }

// Set binds name on the class itself.
func (c *Class) Set(name string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[name] = v
}

// Define binds methods and functions under their own names and returns c.
func (c *Class) Define(values ...Callable) *Class {
	for _, v := range values {
		c.Set(v.CallableName(), v)
	}
	return c
}

// Own returns an attribute defined directly on c.
func (c *Class) Own(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attrs[name]
	return v, ok
}

// Dict returns a snapshot of the attributes defined directly on c.
func (c *Class) Dict() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.attrs))
	for k, v := range c.attrs {
		out[k] = v
	}
	return out
}

// Lookup searches the method resolution order for name and returns the value
// together with the class that defines it.
func (c *Class) Lookup(name string) (any, *Class, bool) {
	for _, k := range c.mro {
		if v, ok := k.Own(name); ok {
			return v, k, true
		}
	}
	return nil, nil, false
}

// AbstractMethods returns the sorted names whose resolution on c is still an
// abstract callable.
func (c *Class) AbstractMethods() []string {
	candidates := make(map[string]struct{})
	for _, k := range c.mro {
		for name, v := range k.Dict() {
			if am, ok := v.(AbstractMarker); ok && am.IsAbstract() {
				candidates[name] = struct{}{}
			}
		}
	}
	var out []string
	for name := range candidates {
		v, _, _ := c.Lookup(name)
		if am, ok := v.(AbstractMarker); ok && am.IsAbstract() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// IsAbstract reports whether c has unimplemented abstract methods.
func (c *Class) IsAbstract() bool { return len(c.AbstractMethods()) > 0 }

// IsSubclass reports whether base appears in c's method resolution order.
func (c *Class) IsSubclass(base *Class) bool {
	for _, k := range c.mro {
		if k == base {
			return true
		}
	}
	return false
}

// New instantiates c. Abstract classes are refused with *AbstractError.
func (c *Class) New(args ...any) (*Instance, error) {
	if abstract := c.AbstractMethods(); len(abstract) > 0 {
		return nil, &AbstractError{Class: c.QualName(), Methods: abstract}
	}
	return c.construct(SplitArgs(args))
}

func (c *Class) CallableName() string { return c.name }

// Invoke makes a class callable: calling it constructs an instance.
func (c *Class) Invoke(args Args) (any, error) {
	return c.New(args.Flatten()...)
}

// construct allocates an instance and runs the __init__ found along the MRO.
// It does not check abstractness; callers that instantiate on behalf of a
// subclass rely on that.
func (c *Class) construct(args Args) (*Instance, error) {
	inst := &Instance{class: c, fields: make(map[string]any)}
	v, _, ok := c.Lookup("__init__")
	if !ok {
		if len(args.Pos) > 0 || len(args.Kw) > 0 {
			return nil, fmt.Errorf("%s() takes no arguments", c.name)
		}
		return inst, nil
	}
	init, ok := v.(*Method)
	if !ok {
		return nil, fmt.Errorf("%s.__init__ is %T, not a method", c.name, v)
	}
	if _, err := init.Bind(inst).Invoke(args); err != nil {
		return nil, err
	}
	return inst, nil
}

// linearize computes the C3 method resolution order of c.
func linearize(c *Class) ([]*Class, error) {
	seqs := make([][]*Class, 0, len(c.bases)+1)
	for _, b := range c.bases {
		seqs = append(seqs, append([]*Class(nil), b.mro...))
	}
	seqs = append(seqs, append([]*Class(nil), c.bases...))

	out := []*Class{c}
	for {
		nonEmpty := seqs[:0]
		for _, s := range seqs {
			if len(s) > 0 {
				nonEmpty = append(nonEmpty, s)
			}
		}
		seqs = nonEmpty
		if len(seqs) == 0 {
			return out, nil
		}

		var head *Class
		for _, s := range seqs {
			if !inTail(s[0], seqs) {
				head = s[0]
				break
			}
		}
		if head == nil {
			return nil, fmt.Errorf("cannot create a consistent method resolution order for %s", c.name)
		}
		out = append(out, head)
		for i, s := range seqs {
			if s[0] == head {
				seqs[i] = s[1:]
			}
		}
	}
}

func inTail(k *Class, seqs [][]*Class) bool {
	for _, s := range seqs {
		for _, t := range s[1:] {
			if t == k {
				return true
			}
		}
	}
	return false
}
