package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// binder validates raw arguments and returns a bound invocation.
type binder func(raw json.RawMessage) (func(ctx context.Context) error, error)

// Registry maps handler names to functions. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]binder
}

// Default is the process-wide registry used when a scheduler is not given one.
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]binder{}}
}

// RegisterHandler registers a zero-argument handler in Default.
func RegisterHandler(name string, fn func(ctx context.Context) error) error {
	return Default.Register(name, fn)
}

// Register adds a handler that takes no arguments. Any valid JSON stored as
// its arguments is accepted and ignored.
func (r *Registry) Register(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.Wrapf(ErrInvalidHandler, "%q: nil function", name)
	}
	return r.add(name, func(raw json.RawMessage) (func(ctx context.Context) error, error) {
		if len(raw) > 0 && !json.Valid(raw) {
			return nil, errors.New("arguments are not valid JSON")
		}
		return fn, nil
	})
}

// RegisterFunc adds a handler whose arguments decode into T. Multi-argument
// handlers use a struct or slice for T. A nil registry means Default.
//
// Decoding is strict: unknown object fields are rejected, so a record written
// for a different argument shape is reported as corrupt instead of running
// with zero values.
func RegisterFunc[T any](r *Registry, name string, fn func(ctx context.Context, args T) error) error {
	if r == nil {
		r = Default
	}
	if fn == nil {
		return errors.Wrapf(ErrInvalidHandler, "%q: nil function", name)
	}
	return r.add(name, func(raw json.RawMessage) (func(ctx context.Context) error, error) {
		var args T
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, errors.New("arguments are empty")
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			return nil, err
		}
		if dec.More() {
			return nil, errors.New("trailing data after arguments")
		}
		return func(ctx context.Context) error { return fn(ctx, args) }, nil
	})
}

func (r *Registry) add(name string, b binder) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.Wrap(ErrInvalidHandler, "name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return errors.Wrapf(ErrHandlerExists, "%q", name)
	}
	r.handlers[name] = b
	return nil
}

// Unregister removes a handler. Records naming it will fail to decode.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.handlers, strings.TrimSpace(name))
	r.mu.Unlock()
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[strings.TrimSpace(name)]
	return ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (binder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.handlers[name]
	return b, ok
}
