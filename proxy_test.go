package pkgproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportFromCallsFunction(t *testing.T) {
	f := newFixture(t)

	got, err := ImportFrom(f.sys, "pkg.util", "add")
	require.NoError(t, err)
	require.Len(t, got, 1)
	add, ok := got[0].(*CallableProxy)
	require.True(t, ok, "add resolved to %T", got[0])
	assert.Equal(t, "add", add.Name())

	assert.Equal(t, 1, f.api.count(OpGetModule, "pkg.util"))
	assert.Equal(t, 1, f.api.count(OpGetAttr, "add"))

	util := f.module(t, "pkg.util")
	assert.Equal(t, util.Handle(), add.Owner())

	v, err := add.Call(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, f.api.count(OpCall, "add"))

	again, err := ImportFrom(f.sys, "pkg.util", "add")
	require.NoError(t, err)
	assert.Same(t, add, again[0])
	assert.Equal(t, 1, f.api.count(OpGetModule, "pkg.util"))
	assert.Equal(t, 1, f.api.count(OpGetAttr, "add"))
}

func TestModuleProxyIdentity(t *testing.T) {
	f := newFixture(t)

	first := f.module(t, "pkg.util")
	second := f.module(t, "pkg.util")
	assert.Same(t, first, second)
	assert.Equal(t, 1, f.api.count(OpGetModule, "pkg.util"))
	assert.Equal(t, 1, f.api.count(OpGetModule, "pkg"))
	assert.Equal(t, "pkg.util", first.Name())
	assert.Equal(t, `<module proxy "pkg.util">`, first.String())

	name, err := first.Attr("__name__")
	require.NoError(t, err)
	assert.Equal(t, "pkg.util", name)
}

func TestClassProxyIdentity(t *testing.T) {
	f := newFixture(t)
	util := f.module(t, "pkg.util")

	c1 := f.class(t, util, "Counter")
	c2 := f.class(t, util, "Counter")
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, f.api.count(OpGetAttr, "Counter"))

	// Call results are returned raw, not wrapped in a proxy.
	v, err := util.Call("counter_class")
	require.NoError(t, err)
	assert.IsType(t, &Class{}, v, "call results are not wrapped")

	obj, err := c1.New()
	require.NoError(t, err)
	cls, err := obj.Attr("__class__")
	require.NoError(t, err)
	assert.Same(t, c1, cls)

	assert.Equal(t, "Counter", c1.Name())
	assert.Equal(t, "pkg.util.Counter", c1.QualName())
	assert.NotZero(t, c1.Handle())
}

func TestEachInstantiationCreatesOneObject(t *testing.T) {
	f := newFixture(t)
	counter := f.class(t, f.module(t, "pkg.util"), "Counter")
	f.api.reset()

	a, err := counter.New()
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.count(OpCreateObject, ""))
	b, err := counter.New(Kwargs{"start": 7})
	require.NoError(t, err)
	assert.Equal(t, 2, f.api.count(OpCreateObject, ""))

	assert.NotEqual(t, a.Handle(), b.Handle())
	assert.Same(t, counter, a.Class())

	v, err := a.Call("increment")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = b.Call("increment")
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	// Callable through Invoke as well.
	c, err := counter.Invoke(Args{})
	require.NoError(t, err)
	assert.IsType(t, &ObjectProxy{}, c)
	assert.Equal(t, 3, f.api.count(OpCreateObject, ""))
}

func TestSetAttrVisibleWithoutResynthesis(t *testing.T) {
	f := newFixture(t)
	counter := f.class(t, f.module(t, "pkg.util"), "Counter")
	obj, err := counter.New(1)
	require.NoError(t, err)

	v, err := obj.Attr("value")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, obj.SetAttr("value", 41))
	v, err = obj.Attr("value")
	require.NoError(t, err)
	assert.Equal(t, 41, v)

	inc, err := obj.Attr("increment")
	require.NoError(t, err)
	out, err := inc.(*CallableProxy).Call()
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	// Same proxy, same handle throughout; plain data is fetched each time.
	v, err = obj.Attr("value")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, f.api.count(OpGetAttr, "value"))

	d, err := obj.Dict()
	require.NoError(t, err)
	assert.Equal(t, 42, d["value"])
}

func TestSetAttrForgetsSynthesizedChild(t *testing.T) {
	f := newFixture(t)
	util := f.module(t, "pkg.util")

	add, err := util.Attr("add")
	require.NoError(t, err)
	require.IsType(t, &CallableProxy{}, add)

	require.NoError(t, util.SetAttr("add", 3))
	v, err := util.Attr("add")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestAbstractSubclassCannotBeInstantiated(t *testing.T) {
	f := newFixture(t)
	root := f.module(t, "pkg")
	base := f.class(t, root, "Base")
	assert.Equal(t, []string{"m"}, base.AbstractMethods())

	// Both the proxy and a local subclass that leaves m out refuse, with the
	// error the object model raises for real classes.
	_, realErr := MustNewClass("x", "Real", MustNewClass("x", "RealBase").Define(&Method{Name: "m", Abstract: true})).New()
	require.Error(t, realErr)

	_, err := base.New()
	assert.IsType(t, realErr, err)
	assert.ErrorIs(t, err, ErrAbstract)

	incomplete := base.Subclass("Incomplete", &LocalMethod{Name: "other", Fn: func(*LocalObject, Args) (any, error) {
		return nil, nil
	}})
	assert.Equal(t, []string{"m"}, incomplete.AbstractMethods())
	assert.True(t, incomplete.IsSubclassOf(base))

	f.api.reset()
	_, err = incomplete.New()
	var abs *AbstractError
	require.ErrorAs(t, err, &abs)
	assert.Equal(t, "pkg.Incomplete", abs.Class)
	assert.Equal(t, []string{"m"}, abs.Methods)
	assert.IsType(t, realErr, err)
	assert.Zero(t, f.api.count(OpCreateObject, ""), "refused before reaching the provider")
}

func TestLocalSubclass(t *testing.T) {
	f := newFixture(t)
	base := f.class(t, f.module(t, "pkg"), "Base")

	complete := base.Subclass("Complete", &LocalMethod{Name: "m", Fn: func(self *LocalObject, args Args) (any, error) {
		return "local m", nil
	}})
	assert.Empty(t, complete.AbstractMethods())
	assert.Equal(t, "pkg.Complete", complete.QualName())
	assert.Same(t, base, complete.Remote())

	obj, err := complete.New()
	require.NoError(t, err)
	assert.Same(t, complete, obj.Type())

	v, err := obj.Call("m")
	require.NoError(t, err)
	assert.Equal(t, "local m", v)

	fn, err := obj.Attr("m")
	require.NoError(t, err)
	out, err := fn.(*Func).Call()
	require.NoError(t, err)
	assert.Equal(t, "local m", out)

	// Inherited concrete methods run on the remote instance.
	v, err = obj.Call("describe")
	require.NoError(t, err)
	assert.Equal(t, "a Base", v)
	ok, err := obj.Has("describe")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, obj.IsInstance(base))

	// A further subclass that re-declares m abstract is abstract again.
	again := complete.Subclass("Again", &LocalMethod{Name: "m", Abstract: true})
	assert.Equal(t, []string{"m"}, again.AbstractMethods())
	_, err = again.New()
	assert.ErrorIs(t, err, ErrAbstract)

	grand := complete.Subclass("Grand")
	g, err := grand.New()
	require.NoError(t, err)
	v, err = g.Call("m")
	require.NoError(t, err)
	assert.Equal(t, "local m", v, "local methods are inherited")
}

func TestMissingAttribute(t *testing.T) {
	f := newFixture(t)
	util := f.module(t, "pkg.util")

	_, err := util.Attr("does_not_exist")
	assert.ErrorIs(t, err, ErrNotFound)
	var attrErr *AttributeError
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, "does_not_exist", attrErr.Name)

	ok, err := util.Has("does_not_exist")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = HasAttr(util, "add")
	require.NoError(t, err)
	assert.True(t, ok)

	// Misses are not cached.
	_, err = util.Attr("does_not_exist")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, f.api.count(OpGetAttr, "does_not_exist"))

	counter := f.class(t, util, "Counter")
	ok, err = counter.Has("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmoduleAttributeIsModuleProxy(t *testing.T) {
	f := newFixture(t)
	deep := f.module(t, "pkg.sub.deep")
	sub := f.module(t, "pkg.sub")

	v, err := sub.Attr("deep")
	require.NoError(t, err)
	assert.Same(t, deep, v)

	out, err := deep.Call("twice", 4)
	require.NoError(t, err)
	assert.Equal(t, 8, out)
}

func TestModuleProxyStarImport(t *testing.T) {
	f := newFixture(t)

	ns, err := ImportAll(f.sys, "pkg.util")
	require.NoError(t, err)
	assert.IsType(t, &CallableProxy{}, ns["add"])
	assert.IsType(t, &ClassProxy{}, ns["Counter"])
	assert.Equal(t, "hello", ns["greeting"])
	assert.NotContains(t, ns, "_private")

	util := f.module(t, "pkg.util")
	require.NoError(t, util.SetAttr("__all__", []string{"add"}))
	all, err := util.Attr("__all__")
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, all)
}

func TestClassProxyAttributes(t *testing.T) {
	f := newFixture(t)
	counter := f.class(t, f.module(t, "pkg.util"), "Counter")

	step, err := counter.Attr("step")
	require.NoError(t, err)
	assert.Equal(t, 1, step)

	zero, err := counter.Call("zero")
	require.NoError(t, err)
	assert.Equal(t, 0, zero)

	name, err := counter.Attr("__name__")
	require.NoError(t, err)
	assert.Equal(t, "Counter", name)

	require.NoError(t, counter.SetAttr("step", 2))
	obj, err := counter.New()
	require.NoError(t, err)
	v, err := obj.Call("increment")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	inc, err := counter.Attr("increment")
	require.NoError(t, err)
	cp, ok := inc.(*CallableProxy)
	require.True(t, ok)
	assert.False(t, cp.Abstract())
	assert.Equal(t, counter.Handle(), cp.Owner())
}

func TestClassProxySubclassRelations(t *testing.T) {
	f := newFixture(t)
	root := f.module(t, "pkg")
	base := f.class(t, root, "Base")
	impl := f.class(t, root, "Impl")
	picky := f.class(t, root, "Picky")

	assert.True(t, impl.IsSubclassOf(base))
	assert.True(t, impl.IsSubclassOf(impl))
	assert.False(t, base.IsSubclassOf(impl))
	assert.False(t, picky.IsSubclassOf(base))
	assert.Empty(t, impl.AbstractMethods())

	d := impl.Descriptor()
	require.Len(t, d.Bases, 1)
	assert.Equal(t, "pkg.Base", d.Bases[0].QualName())

	obj, err := impl.New()
	require.NoError(t, err)
	assert.True(t, obj.IsInstance(base))
	assert.False(t, obj.IsInstance(picky))

	v, err := obj.Call("m")
	require.NoError(t, err)
	assert.Equal(t, "impl", v)

	m, err := base.Attr("m")
	require.NoError(t, err)
	assert.True(t, m.(*CallableProxy).Abstract())
}

func TestConstructionErrorReachesCaller(t *testing.T) {
	f := newFixture(t)
	picky := f.class(t, f.module(t, "pkg"), "Picky")

	_, err := picky.New()
	var ce *ConstructionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "pkg.Picky", ce.Class)
	assert.Contains(t, err.Error(), "exactly one argument")

	obj, err := picky.New("x")
	require.NoError(t, err)
	v, err := obj.Attr("v")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestCallErrorsReachCaller(t *testing.T) {
	f := newFixture(t)
	util := f.module(t, "pkg.util")

	fail, err := util.Attr("fail")
	require.NoError(t, err)
	_, err = fail.(*CallableProxy).Call()
	assert.ErrorIs(t, err, errBoom)

	_, err = util.Call("greeting")
	var notCallable *NotCallableError
	assert.ErrorAs(t, err, &notCallable)
}

func TestProxiesPassedAsArguments(t *testing.T) {
	f := newFixture(t)
	util := f.module(t, "pkg.util")
	counter := f.class(t, util, "Counter")
	obj, err := counter.New()
	require.NoError(t, err)

	v, err := util.Call("kind_of", obj)
	require.NoError(t, err)
	assert.Equal(t, `"pkg.util.Counter" object`, v)

	v, err = util.Call("kind_of", Kwargs{"v": counter})
	require.NoError(t, err)
	assert.Equal(t, `class "pkg.util.Counter"`, v)

	v, err = util.Call("kind_of", util)
	require.NoError(t, err)
	assert.Equal(t, `module "pkg.util"`, v)

	require.NoError(t, util.SetAttr("favorite", obj))
	fav, err := util.Attr("favorite")
	require.NoError(t, err)
	assert.IsType(t, &Instance{}, fav, "plain attributes are not wrapped")
}

func TestObjectRelease(t *testing.T) {
	f := newFixture(t)
	counter := f.class(t, f.module(t, "pkg.util"), "Counter")
	obj, err := counter.New()
	require.NoError(t, err)

	require.NoError(t, obj.Release())
	assert.Equal(t, 1, f.api.count(OpRelease, ""))

	_, err = obj.Call("increment")
	var unknown *UnknownHandleError
	assert.ErrorAs(t, err, &unknown)
}

func TestDataAttributesAreNotMemoized(t *testing.T) {
	f := newFixture(t)
	util := f.module(t, "pkg.util")

	for i := 0; i < 3; i++ {
		v, err := util.Attr("greeting")
		require.NoError(t, err)
		assert.Equal(t, "hello", v)
	}
	assert.Equal(t, 3, f.api.count(OpGetAttr, "greeting"))

	require.NoError(t, util.SetAttr("greeting", "bye"))
	v, err := util.Attr("greeting")
	require.NoError(t, err)
	assert.Equal(t, "bye", v)
}

func TestInterceptorScope(t *testing.T) {
	f := newFixture(t)

	assert.Same(t, f.ic, InstallInterceptor(f.sys, InterceptorConfig{Root: "other"}), "installing is idempotent")
	assert.Nil(t, InstallInterceptor(NewImportSystem(nil), InterceptorConfig{}))

	assert.NotNil(t, f.ic.Resolve("pkg.anything"))
	assert.Nil(t, f.ic.Resolve("pkgx"))
	assert.Nil(t, f.ic.Resolve("other"))
	assert.Equal(t, "pkg", f.ic.Root())

	_, err := f.sys.Import("pkg.nothere")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := f.sys.Registry().Get("pkg.nothere")
	assert.False(t, ok)
}

func TestInterceptorConfigurationErrorIsSticky(t *testing.T) {
	sys := NewImportSystem(nil, WithResolvers(testCatalog()))
	ic := InstallInterceptor(sys, InterceptorConfig{Root: "pkg", Locator: "nosuch"})
	require.NotNil(t, ic)
	defer ic.Uninstall()

	_, err := sys.Import("pkg.util")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "nosuch", cfgErr.Locator)

	_, err = sys.Import("pkg")
	assert.ErrorIs(t, err, ErrConfiguration)

	// Imports outside the root keep working.
	_, err = sys.Import("other")
	require.NoError(t, err)
}

func TestInterceptorLazyProvider(t *testing.T) {
	sys := NewImportSystem(nil, WithResolvers(testCatalog()))
	ic := InstallInterceptor(sys, InterceptorConfig{Root: "pkg", Locator: LocalLocator})
	require.NotNil(t, ic)
	assert.Nil(t, ic.provider, "provider is created at first use")

	v, err := sys.Import("pkg.util")
	require.NoError(t, err)
	assert.IsType(t, &ModuleProxy{}, v)
	assert.IsType(t, &LocalProvider{}, ic.provider)

	require.NoError(t, ic.Uninstall())
	assert.NotContains(t, sys.Resolvers(), Resolver(ic))

	late := InstallInterceptor(NewImportSystem(nil), InterceptorConfig{Root: "pkg", Locator: LocalLocator})
	require.NoError(t, late.Uninstall())
	_, err = late.Provider()
	assert.ErrorIs(t, err, ErrConfiguration)
}
