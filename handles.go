package pkgproxy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handle is an opaque provider-side identity for one real object. Handles are
// assigned from 1 upwards and never reused; zero means "no handle".
type Handle int64

// HandleKind classifies the real object a handle refers to.
type HandleKind int

const (
	KindValue HandleKind = iota
	KindModule
	KindClass
	KindInstance
	KindCallable
)

func (k HandleKind) String() string {
	switch k {
	case KindModule:
		return "module"
	case KindClass:
		return "class"
	case KindInstance:
		return "instance"
	case KindCallable:
		return "callable"
	}
	return "value"
}

func kindOf(v any) HandleKind {
	switch v.(type) {
	case *Module:
		return KindModule
	case *Class:
		return KindClass
	case *Instance:
		return KindInstance
	case Callable:
		return KindCallable
	}
	return KindValue
}

// handleEntry is one slot of the table.
type handleEntry struct {
	id      Handle
	value   any
	kind    HandleKind
	pinned  bool
	created time.Time

	// lastUsed holds UnixNano of the latest lookup.
	lastUsed atomic.Int64
}

// HandleTable maps handles to real objects.
//
// Registration interns pointer-identified objects: registering the same module,
// class, instance or function twice returns the handle it already has, keeping
// handles 1:1 with live objects. Module and class entries are pinned and never
// evicted; instance entries can be released explicitly or swept by TTL.
type HandleTable struct {
	mu     sync.RWMutex
	byID   map[Handle]*handleEntry
	byObj  map[any]Handle
	nextID atomic.Int64

	log *zap.Logger
}

// HandleTableOption configures a HandleTable.
type HandleTableOption func(*HandleTable)

// WithHandleLogger sets the logger used for registration and eviction events.
func WithHandleLogger(log *zap.Logger) HandleTableOption {
	return func(t *HandleTable) {
		if log != nil {
			t.log = log
		}
	}
}

// NewHandleTable creates an empty handle table.
func NewHandleTable(opts ...HandleTableOption) *HandleTable {
	t := &HandleTable{
		byID:  make(map[Handle]*handleEntry),
		byObj: make(map[any]Handle),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register returns the handle for v, assigning a fresh one when v has not been
// registered before.
func (t *HandleTable) Register(v any) Handle {
	key, internable := internKey(v)

	t.mu.Lock()
	defer t.mu.Unlock()

	if internable {
		if h, ok := t.byObj[key]; ok {
			t.byID[h].lastUsed.Store(time.Now().UnixNano())
			return h
		}
	}

	now := time.Now()
	e := &handleEntry{
		id:      Handle(t.nextID.Add(1)),
		value:   v,
		kind:    kindOf(v),
		created: now,
	}
	e.pinned = e.kind == KindModule || e.kind == KindClass
	e.lastUsed.Store(now.UnixNano())

	t.byID[e.id] = e
	if internable {
		t.byObj[key] = e.id
	}
	HandlesLive.WithLabelValues(e.kind.String()).Inc()
	t.log.Debug("handle registered",
		zap.Int64("handle", int64(e.id)),
		zap.Stringer("kind", e.kind),
		zap.String("object", describe(v)))
	return e.id
}

// Lookup returns the object behind h.
func (t *HandleTable) Lookup(h Handle) (any, bool) {
	t.mu.RLock()
	e, ok := t.byID[h]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.lastUsed.Store(time.Now().UnixNano())
	return e.value, true
}

// Resolve is Lookup returning *UnknownHandleError on a miss.
func (t *HandleTable) Resolve(h Handle) (any, error) {
	v, ok := t.Lookup(h)
	if !ok {
		return nil, &UnknownHandleError{Handle: h}
	}
	return v, nil
}

// HandleOf returns the handle already assigned to v, if any.
func (t *HandleTable) HandleOf(v any) (Handle, bool) {
	key, internable := internKey(v)
	if !internable {
		return 0, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byObj[key]
	return h, ok
}

// Kind returns the object kind behind h.
func (t *HandleTable) Kind(h Handle) (HandleKind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[h]
	if !ok {
		return KindValue, false
	}
	return e.kind, true
}

// Len returns the number of live handles.
func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Release removes h from the table. Pinned handles are refused with ErrPinned.
func (t *HandleTable) Release(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[h]
	if !ok {
		return &UnknownHandleError{Handle: h}
	}
	if e.pinned {
		return fmt.Errorf("release %s handle %d: %w", e.kind, h, ErrPinned)
	}
	t.removeLocked(e)
	HandlesReleased.WithLabelValues("release").Inc()
	t.log.Debug("handle released", zap.Int64("handle", int64(h)))
	return nil
}

// Sweep removes unpinned handles that have not been looked up within ttl and
// returns how many were removed.
func (t *HandleTable) Sweep(ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-ttl).UnixNano()
	removed := 0
	for _, e := range t.byID {
		if e.pinned || e.lastUsed.Load() >= cutoff {
			continue
		}
		t.removeLocked(e)
		removed++
	}
	if removed > 0 {
		HandlesReleased.WithLabelValues("sweep").Add(float64(removed))
		t.log.Debug("handles swept", zap.Int("removed", removed), zap.Duration("ttl", ttl))
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (t *HandleTable) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				t.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (t *HandleTable) removeLocked(e *handleEntry) {
	delete(t.byID, e.id)
	if key, ok := internKey(e.value); ok && t.byObj[key] == e.id {
		delete(t.byObj, key)
	}
	HandlesLive.WithLabelValues(e.kind.String()).Dec()
}

// internKey returns the identity key used for interning. Only pointer-typed
// objects have a stable identity; everything else gets a fresh handle.
func internKey(v any) (any, bool) {
	switch v.(type) {
	case *Module, *Class, *Instance, *Func, *Method:
		return v, true
	}
	return nil, false
}
