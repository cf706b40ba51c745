package pkgproxy

import (
	"bytes"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// IsolationScope performs real imports of a target package for a provider
// without re-entering the interceptor that stands in for that package.
//
// While one import runs, the scope holds the import system's exclusive
// section and imports through a private view: a staging registry seeded with
// the real modules imported so far, and the shared resolver chain with the
// front resolver left out and a tracker put first. On exit every real module
// the tracker saw is retagged to RemotePrefix+name and committed to the shared
// registry. The shared registry and chain are never touched mid-import, so
// concurrent client imports keep seeing their proxies.
type IsolationScope struct {
	root    string
	sys     *ImportSystem
	front   Resolver
	tracker *importTracker

	log *zap.Logger
}

// NewIsolationScope creates a scope importing names under root through sys.
// front is the resolver to leave out during an import; it may be nil.
func NewIsolationScope(root string, sys *ImportSystem, front Resolver, log *zap.Logger) *IsolationScope {
	if log == nil {
		log = zap.NewNop()
	}
	return &IsolationScope{
		root:    root,
		sys:     sys,
		front:   front,
		tracker: &importTracker{root: root, sys: sys},
		log:     log,
	}
}

// Import performs a real import of name. The returned module is bound under
// RemotePrefix+name afterwards, never under name.
func (s *IsolationScope) Import(name string) (mod *Module, err error) {
	if err := s.sys.enterSection(name); err != nil {
		return nil, err
	}
	defer s.sys.exitSection()

	shared := s.sys.Registry()
	staging := s.stage(shared)
	view := s.sys.view(staging, s.tracker, s.front)

	s.tracker.begin()
	defer func() {
		s.commit(shared, staging, s.tracker.end())
		recordImport(err)
	}()

	s.log.Debug("real import", zap.String("module", name))
	v, err := view.Import(name)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Module)
	if !ok {
		return nil, &ConfigurationError{Reason: "real import of " + name + " produced " + describe(v)}
	}
	return m, nil
}

// stage returns the provider's view of the registry: real modules retagged
// earlier are back under their plain keys, client entries under the root are
// left out and everything else is shared as is.
func (s *IsolationScope) stage(shared *Registry) *Registry {
	staging := NewRegistry()
	for _, k := range shared.Names() {
		v, ok := shared.Get(k)
		if !ok {
			continue
		}
		if plain, remote := strings.CutPrefix(k, RemotePrefix); remote {
			if underRoot(s.root, plain) {
				staging.Set(plain, v)
			}
			continue
		}
		if !underRoot(s.root, k) {
			staging.Set(k, v)
		}
	}
	return staging
}

// commit retags each tracked name in staging and moves it to the shared
// registry under its remote key. Modules outside the root that the import
// pulled in are shared under their plain names.
func (s *IsolationScope) commit(shared, staging *Registry, tracked []string) {
	sort.Strings(tracked)
	moved := 0
	for i, name := range tracked {
		if i > 0 && tracked[i-1] == name {
			continue
		}
		if !staging.Rename(name, remoteName(name)) {
			continue
		}
		v, _ := staging.Get(remoteName(name))
		shared.Set(remoteName(name), v)
		moved++
	}
	for _, k := range staging.Names() {
		if strings.HasPrefix(k, RemotePrefix) || underRoot(s.root, k) {
			continue
		}
		if v, ok := staging.Get(k); ok {
			shared.SetIfAbsent(k, v)
		}
	}
	RetaggedModules.Add(float64(moved))
	if moved > 0 {
		s.log.Debug("retagged modules", zap.Strings("modules", tracked), zap.Int("moved", moved))
	}
}

// importTracker is a resolver that always declines and records every name
// under the root it is asked about. It only records while its import system's
// isolation section is held.
type importTracker struct {
	root string
	sys  *ImportSystem

	mu        sync.Mutex
	recording bool
	names     []string
}

func (t *importTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = true
	t.names = t.names[:0]
}

func (t *importTracker) end() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = false
	out := append([]string(nil), t.names...)
	t.names = t.names[:0]
	return out
}

func (t *importTracker) Resolve(name string) Loader {
	if !t.sys.sectionHeld() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recording && underRoot(t.root, name) {
		t.names = append(t.names, name)
	}
	return nil
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID returns the id of the calling goroutine, parsed from the header
// line of its stack trace.
func goroutineID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
