package pkgproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareProvider(t *testing.T) (*ImportSystem, *LocalProvider) {
	t.Helper()
	sys := NewImportSystem(nil, WithResolvers(testCatalog()))
	p, err := NewLocalProvider(ProviderEnv{Root: "pkg", System: sys})
	require.NoError(t, err)
	return sys, p
}

func TestRealImportLeavesPlainNameFree(t *testing.T) {
	sys, p := newBareProvider(t)
	reg := sys.Registry()

	h, err := p.GetModule("pkg.util")
	require.NoError(t, err)

	_, ok := reg.Get("pkg.util")
	assert.False(t, ok, "plain name must not be bound after a real import")
	_, ok = reg.Get("pkg")
	assert.False(t, ok)

	real, ok := reg.Get("__remote__pkg.util")
	require.True(t, ok)
	held, err := p.Handles().Resolve(h)
	require.NoError(t, err)
	assert.Same(t, real, held)

	// An unrelated local import of the plain name loads its own copy.
	v, err := sys.Import("pkg.util")
	require.NoError(t, err)
	assert.NotSame(t, real, v)
}

func TestTransitiveImportsAreRetagged(t *testing.T) {
	sys, p := newBareProvider(t)
	reg := sys.Registry()

	_, err := p.GetModule("pkg.sub.deep")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"__remote__pkg",
		"__remote__pkg.sub",
		"__remote__pkg.sub.deep",
		"__remote__pkg.util",
	}, reg.Names())

	// pkg.util was imported by pkg.sub.deep; asking for it reuses that module.
	util, _ := reg.Get("__remote__pkg.util")
	h, err := p.GetModule("pkg.util")
	require.NoError(t, err)
	held, err := p.Handles().Resolve(h)
	require.NoError(t, err)
	assert.Same(t, util, held)
	assert.Len(t, reg.Names(), 4)
}

func TestLaterImportReusesRetaggedParents(t *testing.T) {
	sys, p := newBareProvider(t)
	reg := sys.Registry()

	hp, err := p.GetModule("pkg")
	require.NoError(t, err)
	root, _ := reg.Get("__remote__pkg")

	_, err = p.GetModule("pkg.util")
	require.NoError(t, err)

	// The parent was not imported a second time.
	again, _ := reg.Get("__remote__pkg")
	assert.Same(t, root, again)
	held, err := p.Handles().Resolve(hp)
	require.NoError(t, err)
	assert.Same(t, root, held)

	util, err := GetAttr(root, "util")
	require.NoError(t, err)
	assert.Equal(t, "pkg.util", util.(*Module).Name())
}

func TestFailedImportLeavesClientStateAlone(t *testing.T) {
	f := newFixture(t)
	reg := f.sys.Registry()
	proxy := f.module(t, "pkg")

	_, err := f.sys.Import("pkg.broken")
	assert.ErrorIs(t, err, errBoom)

	v, ok := reg.Get("pkg")
	require.True(t, ok)
	assert.Same(t, proxy, v, "client entry kept across a failed real import")
	_, ok = reg.Get("pkg.broken")
	assert.False(t, ok)
	_, ok = reg.Get("__remote__pkg")
	assert.True(t, ok)

	assert.Same(t, f.ic, f.sys.Front(), "interceptor stays at the front")
	for _, r := range f.sys.Resolvers() {
		_, isTracker := r.(*importTracker)
		assert.False(t, isTracker)
	}
}

func TestClientEntriesSurviveRealImports(t *testing.T) {
	f := newFixture(t)
	reg := f.sys.Registry()

	root := f.module(t, "pkg")
	util := f.module(t, "pkg.util")
	deep := f.module(t, "pkg.sub.deep")

	for name, want := range map[string]*ModuleProxy{"pkg": root, "pkg.util": util, "pkg.sub.deep": deep} {
		v, ok := reg.Get(name)
		require.Truef(t, ok, "%s missing", name)
		assert.Samef(t, want, v, "%s replaced", name)
	}
	real, ok := reg.Get("__remote__pkg.util")
	require.True(t, ok)
	assert.IsType(t, &Module{}, real)
}

func TestOtherImportsUnaffected(t *testing.T) {
	f := newFixture(t)
	f.module(t, "pkg.util")

	v, err := f.sys.Import("other")
	require.NoError(t, err)
	m, ok := v.(*Module)
	require.True(t, ok)
	assert.Equal(t, "other", m.Name())
	assert.Zero(t, f.api.count(OpGetModule, "other"))
}

func TestReentrantRealImport(t *testing.T) {
	var p *LocalProvider
	catalog := NewCatalog(Package{
		Name: "re",
		Modules: []ModuleSource{
			{Name: "a", Build: func(m *Module, _ Importer) error {
				_, err := p.GetModule("re.b")
				return err
			}},
			{Name: "b"},
		},
	})
	sys := NewImportSystem(nil, WithResolvers(catalog))
	var err error
	p, err = NewLocalProvider(ProviderEnv{Root: "re", System: sys})
	require.NoError(t, err)

	_, err = p.GetModule("re.a")
	var reentrant *ReentrancyError
	require.ErrorAs(t, err, &reentrant)
	assert.Equal(t, "re.b", reentrant.Module)
	assert.Equal(t, "re.a", reentrant.Active)
	assert.ErrorIs(t, err, ErrReentrant)

	// The section was released.
	assert.False(t, sys.sectionHeld())
	_, err = p.GetModule("re.b")
	require.NoError(t, err)
}

func TestSameNameReentryThroughSharedSystem(t *testing.T) {
	var sys *ImportSystem
	catalog := NewCatalog(Package{
		Name: "rp",
		Modules: []ModuleSource{
			{Name: "a", Build: func(*Module, Importer) error {
				_, err := sys.Import("rp.a")
				return err
			}},
			{Name: "b"},
		},
	})
	sys = NewImportSystem(nil, WithResolvers(catalog))
	ic := InstallInterceptor(sys, InterceptorConfig{Root: "rp", Locator: LocalLocator})
	require.NotNil(t, ic)
	defer ic.Uninstall()

	done := make(chan error, 1)
	go func() {
		_, err := sys.Import("rp.a")
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("import of rp.a did not return")
	}
	var reentrant *ReentrancyError
	require.ErrorAs(t, err, &reentrant)
	assert.Equal(t, "rp.a", reentrant.Module)
	assert.Equal(t, "rp.a", reentrant.Active)

	assert.False(t, sys.sectionHeld())
	_, ok := sys.Registry().Get("rp.a")
	assert.False(t, ok)

	// The provider keeps serving real imports.
	v, err := sys.Import("rp.b")
	require.NoError(t, err)
	assert.IsType(t, &ModuleProxy{}, v)
}

func TestOwnsSection(t *testing.T) {
	sys := NewImportSystem(nil)
	_, ok := sys.ownsSection()
	assert.False(t, ok)

	require.NoError(t, sys.enterSection("pkg.util"))
	active, ok := sys.ownsSection()
	assert.True(t, ok)
	assert.Equal(t, "pkg.util", active)

	other := make(chan bool)
	go func() {
		_, ok := sys.ownsSection()
		other <- ok
	}()
	assert.False(t, <-other, "another goroutine does not own the section")

	sys.exitSection()
	_, ok = sys.ownsSection()
	assert.False(t, ok)
}

func TestTrackerOnlyRecordsInsideSection(t *testing.T) {
	sys := NewImportSystem(nil)
	tr := &importTracker{root: "pkg", sys: sys}

	tr.begin()
	assert.Nil(t, tr.Resolve("pkg.util"))
	assert.Empty(t, tr.end())

	require.NoError(t, sys.enterSection("pkg"))
	tr.begin()
	assert.Nil(t, tr.Resolve("pkg.util"))
	assert.Nil(t, tr.Resolve("elsewhere"))
	assert.Equal(t, []string{"pkg.util"}, tr.end())
	sys.exitSection()
}

func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	assert.Positive(t, id)
	assert.Equal(t, id, goroutineID())

	other := make(chan int64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, id, <-other)
}

func TestSharedStateUntouchedDuringRealImport(t *testing.T) {
	var (
		sys       *ImportSystem
		seenFront Resolver
		seenRoot  any
	)
	catalog := NewCatalog(
		Package{
			Name: "watched",
			Modules: []ModuleSource{{Name: "m", Build: func(_ *Module, imp Importer) error {
				seenFront = sys.Front()
				seenRoot, _ = sys.Registry().Get("watched")
				_, err := imp.Import("ext")
				return err
			}}},
		},
		Package{Name: "ext"},
	)
	sys = NewImportSystem(nil, WithResolvers(catalog))
	ic := InstallInterceptor(sys, InterceptorConfig{Root: "watched", Locator: LocalLocator})
	require.NotNil(t, ic)
	defer ic.Uninstall()

	root, err := sys.Import("watched")
	require.NoError(t, err)
	_, err = sys.Import("watched.m")
	require.NoError(t, err)

	assert.Same(t, ic, seenFront, "shared chain keeps the interceptor in front")
	assert.Same(t, root, seenRoot, "shared registry keeps the client proxy")

	ext, ok := sys.Registry().Get("ext")
	require.True(t, ok, "modules outside the root are committed")
	assert.IsType(t, &Module{}, ext)
	_, ok = sys.Registry().Get("__remote__ext")
	assert.False(t, ok)
}
