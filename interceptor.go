package pkgproxy

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// InterceptorConfig configures an Interceptor.
type InterceptorConfig struct {
	// Root is the target root package. Empty disables interception.
	Root string

	// Locator names the provider implementation to instantiate at first use.
	Locator string

	// Provider, when set, is used as is and Locator is ignored.
	Provider Provider

	// Logger receives interceptor and provider logs.
	Logger *zap.Logger

	// Journal is handed to traced providers.
	Journal *Journal

	// Session identifies the bootstrap session.
	Session string

	// HandleTTL and SweepInterval configure instance handle eviction.
	HandleTTL     time.Duration
	SweepInterval time.Duration
}

// Interceptor is the front resolver that serves names under the target root
// with Module Proxies instead of real modules.
//
// The provider behind it is instantiated lazily at the first import under the
// root. A configuration failure at that point is permanent for the
// interceptor: every later import under the root returns the same error.
type Interceptor struct {
	cfg InterceptorConfig
	sys *ImportSystem
	log *zap.Logger

	provOnce sync.Once
	provider Provider
	engine   *engine
	provErr  error

	mu      sync.Mutex
	modules map[string]*ModuleProxy
	group   singleflight.Group
}

// InstallInterceptor puts an interceptor for cfg.Root at the front of sys's
// resolver chain. Installing is idempotent: when sys already has an
// interceptor, that one is returned. An empty root installs nothing and
// returns nil.
func InstallInterceptor(sys *ImportSystem, cfg InterceptorConfig) *Interceptor {
	ic, _ := installInterceptor(sys, cfg)
	return ic
}

// installInterceptor is InstallInterceptor that also reports whether this call
// installed the returned interceptor.
func installInterceptor(sys *ImportSystem, cfg InterceptorConfig) (*Interceptor, bool) {
	if cfg.Root == "" {
		return nil, false
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ic := &Interceptor{
		cfg:     cfg,
		sys:     sys,
		log:     log.With(zap.String("root", cfg.Root)),
		modules: make(map[string]*ModuleProxy),
	}
	installed := sys.prependOnce(ic, isInterceptor)
	if installed != Resolver(ic) {
		return installed.(*Interceptor), false
	}
	ic.log.Debug("interceptor installed", zap.String("provider", cfg.Locator))
	return ic, true
}

// installedInterceptor returns the interceptor in sys's chain, or nil.
func installedInterceptor(sys *ImportSystem) *Interceptor {
	for _, r := range sys.Resolvers() {
		if ic, ok := r.(*Interceptor); ok {
			return ic
		}
	}
	return nil
}

func isInterceptor(r Resolver) bool {
	_, ok := r.(*Interceptor)
	return ok
}

// Root returns the target root.
func (ic *Interceptor) Root() string { return ic.cfg.Root }

// Resolve implements Resolver. It accepts the root and its submodules and
// declines everything else.
func (ic *Interceptor) Resolve(name string) Loader {
	if !underRoot(ic.cfg.Root, name) {
		return nil
	}
	return proxyLoader{ic: ic}
}

// Provider returns the provider behind the interceptor, instantiating it on
// first use.
func (ic *Interceptor) Provider() (Provider, error) {
	ic.provOnce.Do(func() {
		p := ic.cfg.Provider
		if p == nil {
			p, ic.provErr = NewProvider(ic.cfg.Locator, ProviderEnv{
				Root:          ic.cfg.Root,
				System:        ic.sys,
				Front:         ic,
				Logger:        ic.log,
				Journal:       ic.cfg.Journal,
				Session:       ic.cfg.Session,
				HandleTTL:     ic.cfg.HandleTTL,
				SweepInterval: ic.cfg.SweepInterval,
			})
		}
		if ic.provErr != nil {
			ic.log.Error("provider unavailable", zap.String("provider", ic.cfg.Locator), zap.Error(ic.provErr))
			return
		}
		ic.provider = p
		ic.engine = newEngine(p, ic.sys, ic.log)
	})
	if ic.provider == nil && ic.provErr == nil {
		return nil, &ConfigurationError{Locator: ic.cfg.Locator, Reason: "interceptor uninstalled before first use"}
	}
	return ic.provider, ic.provErr
}

// moduleProxy returns the Module Proxy for name, creating it at most once.
// Real module code running under the isolation section cannot ask for a new
// proxy: the section is held by its own goroutine.
func (ic *Interceptor) moduleProxy(name string) (*ModuleProxy, error) {
	if mp, ok := ic.cachedModule(name); ok {
		return mp, nil
	}
	if active, ok := ic.sys.ownsSection(); ok {
		return nil, &ReentrancyError{Module: name, Active: active}
	}
	v, err, _ := ic.group.Do(name, func() (any, error) {
		if mp, ok := ic.cachedModule(name); ok {
			return mp, nil
		}
		p, err := ic.Provider()
		if err != nil {
			return nil, err
		}
		h, err := p.GetModule(name)
		if err != nil {
			return nil, err
		}
		mp := newModuleProxy(ic.engine, name, h)
		ic.mu.Lock()
		ic.modules[name] = mp
		ic.mu.Unlock()
		ProxiesSynthesized.WithLabelValues("module").Inc()
		ic.log.Debug("module proxy created", zap.String("module", name), zap.Int64("handle", int64(h)))
		return mp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ModuleProxy), nil
}

func (ic *Interceptor) cachedModule(name string) (*ModuleProxy, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	mp, ok := ic.modules[name]
	return mp, ok
}

// Uninstall removes the interceptor from the chain and closes its provider
// when the provider holds resources.
func (ic *Interceptor) Uninstall() error {
	ic.sys.Remove(ic)
	// Settles a concurrent first use and keeps a later one from starting.
	ic.provOnce.Do(func() {})
	if c, ok := ic.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// proxyLoader creates Module Proxies. It runs no source.
type proxyLoader struct {
	ic *Interceptor
}

func (l proxyLoader) Create(name string) (any, error) { return l.ic.moduleProxy(name) }

func (l proxyLoader) Exec(any, Importer) error { return nil }
