package pkgproxy

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalLocator names the in-process provider.
const LocalLocator = "local"

func init() {
	if err := RegisterProvider(LocalLocator, func(env ProviderEnv) (Provider, error) {
		return NewLocalProvider(env)
	}); err != nil {
		panic(err)
	}
}

// LocalProvider answers the protocol from real objects living in the same
// process. Real modules are imported through an IsolationScope and every
// object handed out is tracked in a HandleTable.
type LocalProvider struct {
	root    string
	sys     *ImportSystem
	scope   *IsolationScope
	handles *HandleTable

	// mu guards modules, the cache of resolved module handles.
	mu      sync.Mutex
	modules map[string]Handle

	stopSweep func()
	log       *zap.Logger
}

// NewLocalProvider creates a provider for env.Root over env.System.
func NewLocalProvider(env ProviderEnv) (*LocalProvider, error) {
	if env.Root == "" {
		return nil, fmt.Errorf("local provider: empty target root")
	}
	if env.System == nil {
		return nil, fmt.Errorf("local provider: no import system")
	}
	log := env.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("root", env.Root))

	p := &LocalProvider{
		root:    env.Root,
		sys:     env.System,
		scope:   NewIsolationScope(env.Root, env.System, env.Front, log),
		handles: NewHandleTable(WithHandleLogger(log)),
		modules: make(map[string]Handle),
		log:     log,
	}
	if env.HandleTTL > 0 {
		interval := env.SweepInterval
		if interval <= 0 {
			interval = env.HandleTTL
		}
		p.stopSweep = p.handles.StartSweeper(interval, env.HandleTTL)
	}
	return p, nil
}

// Handles exposes the provider's handle table.
func (p *LocalProvider) Handles() *HandleTable { return p.handles }

// GetModule implements Provider.
func (p *LocalProvider) GetModule(name string) (h Handle, err error) {
	defer func(start time.Time) { recordOp(OpGetModule, start, err) }(time.Now())

	if !underRoot(p.root, name) {
		return 0, &NotUnderRootError{Name: name, Root: p.root}
	}

	p.mu.Lock()
	h, ok := p.modules[name]
	p.mu.Unlock()
	if ok {
		return h, nil
	}

	// Imported transitively by an earlier real import.
	var mod *Module
	if v, ok := p.sys.Registry().Get(remoteName(name)); ok {
		mod, _ = v.(*Module)
	}
	if mod == nil {
		mod, err = p.scope.Import(name)
		if err != nil {
			p.log.Debug("get_module failed", zap.String("module", name), zap.Error(err))
			return 0, err
		}
	}

	h = p.handles.Register(mod)
	p.mu.Lock()
	p.modules[name] = h
	p.mu.Unlock()
	p.log.Debug("get_module", zap.String("module", name), zap.Int64("handle", int64(h)))
	return h, nil
}

// GetAttr implements Provider.
func (p *LocalProvider) GetAttr(h Handle, name string) (w AttrWrapper, err error) {
	defer func(start time.Time) { recordOp(OpGetAttr, start, err) }(time.Now())

	obj, err := p.handles.Resolve(h)
	if err != nil {
		return AttrWrapper{}, err
	}
	v, err := GetAttr(obj, name)
	if err != nil {
		return AttrWrapper{}, err
	}
	w = AttrWrapper{Value: v}
	if c, ok := v.(*Class); ok {
		w.Handle = p.handles.Register(c)
	}
	return w, nil
}

// SetAttr implements Provider.
func (p *LocalProvider) SetAttr(h Handle, name string, value any) (err error) {
	defer func(start time.Time) { recordOp(OpSetAttr, start, err) }(time.Now())

	obj, err := p.handles.Resolve(h)
	if err != nil {
		return err
	}
	value, err = p.deref(value)
	if err != nil {
		return err
	}
	return SetAttr(obj, name, value)
}

// CreateObject implements Provider. It builds the real instance only; the
// abstract-class check belongs to the class being instantiated on the client.
func (p *LocalProvider) CreateObject(cls Handle, args ...any) (h Handle, err error) {
	defer func(start time.Time) { recordOp(OpCreateObject, start, err) }(time.Now())

	obj, err := p.handles.Resolve(cls)
	if err != nil {
		return 0, err
	}
	c, ok := obj.(*Class)
	if !ok {
		return 0, fmt.Errorf("create_object: handle %d is %s, not a class", cls, describe(obj))
	}
	args, err = p.derefArgs(args)
	if err != nil {
		return 0, err
	}
	inst, err := c.construct(SplitArgs(args))
	if err != nil {
		return 0, &ConstructionError{Class: c.QualName(), Err: err}
	}
	h = p.handles.Register(inst)
	p.log.Debug("create_object", zap.String("class", c.QualName()), zap.Int64("handle", int64(h)))
	return h, nil
}

// Call implements Provider.
func (p *LocalProvider) Call(h Handle, method string, args ...any) (result any, err error) {
	defer func(start time.Time) { recordOp(OpCall, start, err) }(time.Now())

	obj, err := p.handles.Resolve(h)
	if err != nil {
		return nil, err
	}
	v, err := GetAttr(obj, method)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(Callable)
	if !ok {
		return nil, &NotCallableError{Owner: describe(obj), Name: method}
	}
	args, err = p.derefArgs(args)
	if err != nil {
		return nil, err
	}
	return fn.Invoke(SplitArgs(args))
}

// Release implements Releaser. Module and class handles are pinned.
func (p *LocalProvider) Release(h Handle) (err error) {
	defer func(start time.Time) { recordOp(OpRelease, start, err) }(time.Now())
	return p.handles.Release(h)
}

// Close stops the background handle sweeper.
func (p *LocalProvider) Close() error {
	if p.stopSweep != nil {
		p.stopSweep()
	}
	return nil
}

func (p *LocalProvider) derefArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := p.deref(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// deref replaces Refs with the real objects they name, looking inside
// argument lists and keyword maps.
func (p *LocalProvider) deref(v any) (any, error) {
	switch t := v.(type) {
	case Ref:
		return p.handles.Resolve(t.Handle)
	case Kwargs:
		out := make(Kwargs, len(t))
		for k, e := range t {
			r, err := p.deref(e)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		return p.derefArgs(t)
	}
	return v, nil
}
