package pkgproxy

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinsley/pkgproxy/internal/logging"
)

// Session is one bootstrap of the interceptor over an import system.
type Session struct {
	// ID identifies the session in logs and journal headers.
	ID string

	// Config is the configuration the session was started with.
	Config Config

	// System is the import system the interceptor is installed on.
	System *ImportSystem

	// Interceptor is nil when no target root is configured.
	Interceptor *Interceptor

	// ownsInterceptor is false when the interceptor was installed by an
	// earlier session on the same import system.
	ownsInterceptor bool

	journal *Journal
	log     *zap.Logger
}

type bootstrapOptions struct {
	log      *zap.Logger
	provider Provider
}

// BootstrapOption configures Bootstrap.
type BootstrapOption func(*bootstrapOptions)

// WithLogger makes the session log to log instead of building a logger from
// the configuration.
func WithLogger(log *zap.Logger) BootstrapOption {
	return func(o *bootstrapOptions) { o.log = log }
}

// WithProvider uses p instead of instantiating cfg.Provider.
func WithProvider(p Provider) BootstrapOption {
	return func(o *bootstrapOptions) { o.provider = p }
}

// Bootstrap installs the interceptor for cfg.Target on sys. It must run
// before the first import under the target root. With no target the session
// is inert and imports behave as before.
func Bootstrap(sys *ImportSystem, cfg Config, opts ...BootstrapOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o bootstrapOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err != nil {
			return nil, err
		}
		o.log = log
	}

	s := &Session{
		ID:     uuid.NewString(),
		Config: cfg,
		System: sys,
	}
	s.log = o.log.With(zap.String("session", s.ID))

	if cfg.Target == "" {
		s.log.Debug("no target root configured, interception disabled")
		return s, nil
	}

	if ic := installedInterceptor(sys); ic != nil {
		s.Interceptor = ic
		s.log.Info("sharing installed interceptor",
			zap.String("target", ic.Root()),
			zap.String("requested_target", cfg.Target))
		return s, nil
	}

	if cfg.Journal != "" {
		j, err := OpenJournal(cfg.Journal, s.ID)
		if err != nil {
			return nil, err
		}
		s.journal = j
	}

	s.Interceptor, s.ownsInterceptor = installInterceptor(sys, InterceptorConfig{
		Root:          cfg.Target,
		Locator:       cfg.Provider,
		Provider:      o.provider,
		Logger:        s.log,
		Journal:       s.journal,
		Session:       s.ID,
		HandleTTL:     cfg.HandleTTL,
		SweepInterval: cfg.SweepInterval,
	})
	if !s.ownsInterceptor {
		// Another session installed one concurrently; its journal is the one in use.
		if s.journal != nil {
			if err := s.journal.Close(); err != nil {
				s.log.Warn("closing unused journal", zap.Error(err))
			}
			s.journal = nil
		}
		s.log.Info("sharing installed interceptor", zap.String("target", s.Interceptor.Root()))
		return s, nil
	}
	s.log.Info("interceptor ready",
		zap.String("target", cfg.Target),
		zap.String("provider", cfg.Provider))
	return s, nil
}

// Active reports whether the session intercepts imports.
func (s *Session) Active() bool { return s.Interceptor != nil }

// Import imports name through the session's import system.
func (s *Session) Import(name string) (any, error) { return s.System.Import(name) }

// Close uninstalls the interceptor when this session installed it and closes
// the journal.
func (s *Session) Close() error {
	var errs []error
	if s.Interceptor != nil && s.ownsInterceptor {
		errs = append(errs, s.Interceptor.Uninstall())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	errs = append(errs, logging.Sync(s.log))
	return errors.Join(errs...)
}
