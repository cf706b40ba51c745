package pkgproxy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Provider is the handle-based protocol between proxies and the real objects
// they stand in for. Every operation is synchronous.
type Provider interface {
	// GetModule returns the handle of the real module name, importing it on
	// first request. name must be under the provider's target root.
	GetModule(name string) (Handle, error)

	// GetAttr looks up name on the object behind h. When the value is a class
	// the wrapper also carries the class's own handle. A missing attribute
	// fails with an error matching ErrNotFound.
	GetAttr(h Handle, name string) (AttrWrapper, error)

	// SetAttr assigns name on the object behind h.
	SetAttr(h Handle, name string, value any) error

	// CreateObject instantiates the class behind cls and returns the handle of
	// the new instance.
	CreateObject(cls Handle, args ...any) (Handle, error)

	// Call invokes the callable attribute method of the object behind h and
	// returns its raw result. Results are never wrapped.
	Call(h Handle, method string, args ...any) (any, error)
}

// Releaser is implemented by providers that let clients drop instance handles
// they no longer need.
type Releaser interface {
	Release(h Handle) error
}

// AttrWrapper is the result of GetAttr.
type AttrWrapper struct {
	// Value is the attribute value.
	Value any

	// Handle identifies Value when it is a class, zero otherwise.
	Handle Handle
}

// Ref stands for a provider object inside an argument list. Proxies passed as
// arguments travel as a Ref and the provider swaps in the real object.
type Ref struct {
	Handle Handle
}

// Protocol operation names, as used in logs, metrics and journal records.
const (
	OpGetModule    = "get_module"
	OpGetAttr      = "get_attr"
	OpSetAttr      = "set_attr"
	OpCreateObject = "create_object"
	OpCall         = "call"
	OpRelease      = "release"
)

// ProviderEnv is what a provider factory gets to build a provider.
type ProviderEnv struct {
	// Root is the target root package name.
	Root string

	// System is the import system shared with the client.
	System *ImportSystem

	// Front is the resolver that must step aside while the provider performs
	// a real import (normally the interceptor).
	Front Resolver

	// Logger receives provider logs. Nil means no logging.
	Logger *zap.Logger

	// Journal, when set, records every protocol operation of traced providers.
	Journal *Journal

	// Session identifies the bootstrap session in logs and journal records.
	Session string

	// HandleTTL, when positive, evicts instance handles unused for that long.
	HandleTTL time.Duration

	// SweepInterval is how often the TTL sweep runs.
	SweepInterval time.Duration
}

// ProviderFactory builds a provider for a locator.
type ProviderFactory func(env ProviderEnv) (Provider, error)

// TracedPrefix wraps the provider named after it in a TracingProvider.
const TracedPrefix = "traced:"

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]ProviderFactory)
)

// RegisterProvider makes a provider implementation available under locator.
// Registering the same locator twice is an error.
func RegisterProvider(locator string, f ProviderFactory) error {
	if locator == "" || strings.HasPrefix(locator, TracedPrefix) {
		return fmt.Errorf("invalid provider locator %q", locator)
	}
	if f == nil {
		return fmt.Errorf("provider %q: nil factory", locator)
	}
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[locator]; exists {
		return fmt.Errorf("provider %q already registered", locator)
	}
	factories[locator] = f
	return nil
}

// Providers returns the sorted registered locators.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider instantiates the provider named by locator. An empty or unknown
// locator yields *ConfigurationError.
func NewProvider(locator string, env ProviderEnv) (Provider, error) {
	if locator == "" {
		return nil, &ConfigurationError{Reason: "no provider locator configured"}
	}
	if inner, ok := strings.CutPrefix(locator, TracedPrefix); ok {
		p, err := NewProvider(inner, env)
		if err != nil {
			return nil, err
		}
		return NewTracingProvider(p, env.Logger, env.Journal, env.Session), nil
	}

	factoriesMu.RLock()
	f, ok := factories[locator]
	factoriesMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Locator: locator, Reason: "no such provider implementation"}
	}
	p, err := f(env)
	if err != nil {
		return nil, &ConfigurationError{Locator: locator, Reason: err.Error()}
	}
	return p, nil
}
