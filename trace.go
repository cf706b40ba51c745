package pkgproxy

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richinsley/pkgproxy/internal/logging"
)

// TracingProvider wraps a Provider and logs every protocol operation. With a
// journal it also appends one record per operation.
type TracingProvider struct {
	inner   Provider
	log     *zap.Logger
	journal *Journal
}

// NewTracingProvider wraps inner. log and journal may be nil.
func NewTracingProvider(inner Provider, log *zap.Logger, journal *Journal, session string) *TracingProvider {
	if log == nil {
		log = zap.NewNop()
	}
	if session != "" {
		log = log.With(zap.String("session", session))
	}
	return &TracingProvider{inner: inner, log: log.Named("trace"), journal: journal}
}

// Unwrap returns the wrapped provider.
func (t *TracingProvider) Unwrap() Provider { return t.inner }

func (t *TracingProvider) GetModule(name string) (Handle, error) {
	start := time.Now()
	h, err := t.inner.GetModule(name)
	t.trace(Record{Op: OpGetModule, Name: name, Produced: int64(h)}, start, err)
	return h, err
}

func (t *TracingProvider) GetAttr(h Handle, name string) (AttrWrapper, error) {
	start := time.Now()
	w, err := t.inner.GetAttr(h, name)
	rec := Record{Op: OpGetAttr, Handle: int64(h), Name: name, Produced: int64(w.Handle)}
	if err == nil {
		rec.Result = summarize(w.Value)
	}
	t.trace(rec, start, err)
	return w, err
}

func (t *TracingProvider) SetAttr(h Handle, name string, value any) error {
	start := time.Now()
	err := t.inner.SetAttr(h, name, value)
	t.trace(Record{Op: OpSetAttr, Handle: int64(h), Name: name, Args: []string{summarize(value)}}, start, err)
	return err
}

func (t *TracingProvider) CreateObject(cls Handle, args ...any) (Handle, error) {
	start := time.Now()
	h, err := t.inner.CreateObject(cls, args...)
	t.trace(Record{Op: OpCreateObject, Handle: int64(cls), Args: summarizeAll(args), Produced: int64(h)}, start, err)
	return h, err
}

func (t *TracingProvider) Call(h Handle, method string, args ...any) (any, error) {
	start := time.Now()
	v, err := t.inner.Call(h, method, args...)
	rec := Record{Op: OpCall, Handle: int64(h), Name: method, Args: summarizeAll(args)}
	if err == nil {
		rec.Result = summarize(v)
	}
	t.trace(rec, start, err)
	return v, err
}

// Release implements Releaser when the wrapped provider does.
func (t *TracingProvider) Release(h Handle) error {
	r, ok := t.inner.(Releaser)
	if !ok {
		return nil
	}
	start := time.Now()
	err := r.Release(h)
	t.trace(Record{Op: OpRelease, Handle: int64(h)}, start, err)
	return err
}

// Close closes the wrapped provider when it holds resources.
func (t *TracingProvider) Close() error {
	if c, ok := t.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (t *TracingProvider) trace(rec Record, start time.Time, err error) {
	rec.Duration = time.Since(start)
	fields := []zap.Field{
		zap.String("op", rec.Op),
		zap.Int64("handle", rec.Handle),
		zap.Duration("duration", rec.Duration),
	}
	if rec.Name != "" {
		fields = append(fields, zap.String("name", rec.Name))
	}
	if len(rec.Args) > 0 {
		fields = append(fields, zap.Strings("args", rec.Args))
	}
	if rec.Produced != 0 {
		fields = append(fields, zap.Int64("produced", rec.Produced))
	}
	if err != nil {
		rec.Err = err.Error()
		fields = append(fields, zap.Error(err))
	}
	logging.Trace(t.log, "provider op", fields...)

	if t.journal != nil {
		if jerr := t.journal.Append(rec); jerr != nil {
			t.log.Warn("journal append failed", zap.Error(jerr))
		}
	}
}

// summarize renders a value for logs and journal records without exposing
// real objects.
func summarize(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case Ref:
		return fmt.Sprintf("ref(%d)", t.Handle)
	case string:
		return fmt.Sprintf("%q", t)
	case *Module, *Class, *Instance, Callable:
		return describe(v)
	case map[string]any:
		return fmt.Sprintf("namespace(%d)", len(t))
	}
	return fmt.Sprintf("%v", v)
}

func summarizeAll(args []any) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = summarize(a)
	}
	return out
}
