package pkgproxy

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	errBoom     = errors.New("boom")
	errBadStart = errors.New("start must be an int")
)

// testCatalog holds the "pkg" tree the tests import through proxies, plus an
// unrelated "other" package that is never intercepted.
//
//	pkg              VERSION, Base (abstract m), Impl(Base), Picky
//	pkg.util         add, fail, counter_class, kind_of, echo, Counter, greeting
//	pkg.broken       fails while building
//	pkg.sub.deep     twice, imports pkg.util
func testCatalog() *Catalog {
	return NewCatalog(
		Package{
			Name: "pkg",
			Doc:  "Test package.",
			Init: buildRoot,
			Modules: []ModuleSource{
				{Name: "util", Doc: "Utilities.", Build: buildUtil},
				{Name: "broken", Build: func(*Module, Importer) error { return errBoom }},
			},
			Packages: []Package{{
				Name:    "sub",
				Modules: []ModuleSource{{Name: "deep", Build: buildDeep}},
			}},
		},
		Package{
			Name: "other",
			Init: func(m *Module, _ Importer) error {
				m.Set("X", 1)
				return nil
			},
		},
	)
}

func buildRoot(m *Module, _ Importer) error {
	base := MustNewClass(m.Name(), "Base")
	base.Define(
		&Method{Name: "m", Abstract: true},
		&Method{Name: "describe", Fn: func(self *Instance, _ Args) (any, error) {
			return "a " + self.Class().Name(), nil
		}},
	)
	impl := MustNewClass(m.Name(), "Impl", base)
	impl.Define(&Method{Name: "m", Fn: func(*Instance, Args) (any, error) {
		return "impl", nil
	}})
	picky := MustNewClass(m.Name(), "Picky")
	picky.Define(&Method{Name: "__init__", Fn: func(self *Instance, args Args) (any, error) {
		if args.Len() != 1 {
			return nil, fmt.Errorf("Picky() takes exactly one argument, got %d", args.Len())
		}
		self.SetField("v", args.Pos[0])
		return nil, nil
	}})

	m.Set("VERSION", "1.2.3")
	m.Define(base, impl, picky)
	return nil
}

func buildUtil(m *Module, _ Importer) error {
	counter := MustNewClass(m.Name(), "Counter")
	counter.Set("step", 1)
	counter.Define(
		&Method{Name: "__init__", Fn: func(self *Instance, args Args) (any, error) {
			start := 0
			if v, ok := args.Get(0, "start"); ok {
				n, ok := v.(int)
				if !ok {
					return nil, errBadStart
				}
				start = n
			}
			self.SetField("value", start)
			return nil, nil
		}},
		&Method{Name: "increment", Fn: func(self *Instance, _ Args) (any, error) {
			step, err := GetAttr(self, "step")
			if err != nil {
				return nil, err
			}
			v, _ := self.Field("value")
			next := v.(int) + step.(int)
			self.SetField("value", next)
			return next, nil
		}},
		NewFunc("zero", func(Args) (any, error) { return 0, nil }),
	)

	m.Define(
		NewFunc("add", func(args Args) (any, error) {
			a, b, err := twoInts(args)
			if err != nil {
				return nil, err
			}
			return a + b, nil
		}),
		NewFunc("fail", func(Args) (any, error) { return nil, errBoom }),
		NewFunc("counter_class", func(Args) (any, error) { return counter, nil }),
		NewFunc("kind_of", func(args Args) (any, error) {
			v, _ := args.Get(0, "v")
			return describe(v), nil
		}),
		NewFunc("echo", func(args Args) (any, error) {
			v, _ := args.Get(0, "v")
			return v, nil
		}),
		counter,
	)
	m.Set("greeting", "hello")
	m.Set("_private", true)
	return nil
}

func buildDeep(m *Module, imp Importer) error {
	util, err := imp.Import("pkg.util")
	if err != nil {
		return err
	}
	add, err := GetAttr(util, "add")
	if err != nil {
		return err
	}
	m.Define(NewFunc("twice", func(args Args) (any, error) {
		v, _ := args.Get(0, "v")
		return add.(Callable).Invoke(Args{Pos: []any{v, v}})
	}))
	return nil
}

func twoInts(args Args) (int, int, error) {
	av, _ := args.Get(0, "a")
	bv, _ := args.Get(1, "b")
	a, aok := av.(int)
	b, bok := bv.(int)
	if !aok || !bok {
		return 0, 0, fmt.Errorf("add() wants two ints, got %T and %T", av, bv)
	}
	return a, b, nil
}

// countingProvider records every protocol operation before forwarding it.
type countingProvider struct {
	Provider

	mu    sync.Mutex
	calls []string
}

func (c *countingProvider) record(op, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, strings.TrimSpace(op+" "+name))
}

func (c *countingProvider) GetModule(name string) (Handle, error) {
	c.record(OpGetModule, name)
	return c.Provider.GetModule(name)
}

func (c *countingProvider) GetAttr(h Handle, name string) (AttrWrapper, error) {
	c.record(OpGetAttr, name)
	return c.Provider.GetAttr(h, name)
}

func (c *countingProvider) SetAttr(h Handle, name string, value any) error {
	c.record(OpSetAttr, name)
	return c.Provider.SetAttr(h, name, value)
}

func (c *countingProvider) CreateObject(cls Handle, args ...any) (Handle, error) {
	c.record(OpCreateObject, "")
	return c.Provider.CreateObject(cls, args...)
}

func (c *countingProvider) Call(h Handle, method string, args ...any) (any, error) {
	c.record(OpCall, method)
	return c.Provider.Call(h, method, args...)
}

func (c *countingProvider) Release(h Handle) error {
	c.record(OpRelease, "")
	if r, ok := c.Provider.(Releaser); ok {
		return r.Release(h)
	}
	return nil
}

func (c *countingProvider) Close() error {
	if cl, ok := c.Provider.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}

// count returns how many times op was issued for name. An empty name counts
// every op.
func (c *countingProvider) count(op, name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if name == "" && (call == op || strings.HasPrefix(call, op+" ")) {
			n++
		} else if call == op+" "+name {
			n++
		}
	}
	return n
}

func (c *countingProvider) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// fixture is an import system with an interceptor for "pkg" backed by a local
// provider, whose traffic is counted.
type fixture struct {
	sys   *ImportSystem
	ic    *Interceptor
	api   *countingProvider
	local *LocalProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sys := NewImportSystem(nil, WithResolvers(testCatalog()))
	api := &countingProvider{}
	ic := InstallInterceptor(sys, InterceptorConfig{Root: "pkg", Provider: api})
	require.NotNil(t, ic)

	local, err := NewLocalProvider(ProviderEnv{Root: "pkg", System: sys, Front: ic})
	require.NoError(t, err)
	api.Provider = local

	t.Cleanup(func() { _ = ic.Uninstall() })
	return &fixture{sys: sys, ic: ic, api: api, local: local}
}

// module imports name and asserts the client got a Module Proxy.
func (f *fixture) module(t *testing.T, name string) *ModuleProxy {
	t.Helper()
	v, err := f.sys.Import(name)
	require.NoError(t, err)
	mp, ok := v.(*ModuleProxy)
	require.Truef(t, ok, "import %s returned %T", name, v)
	return mp
}

// class fetches a Class Proxy from owner.
func (f *fixture) class(t *testing.T, owner AttrResolver, name string) *ClassProxy {
	t.Helper()
	v, err := owner.Attr(name)
	require.NoError(t, err)
	cp, ok := v.(*ClassProxy)
	require.Truef(t, ok, "%s resolved to %T", name, v)
	return cp
}
