package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/cockroachdb/errors"
)

// Payload is the storable form of a deferred call.
type Payload struct {
	Action    string // registered handler name
	Arguments string // JSON document
}

// Action is a decoded payload bound to the currently registered handler.
type Action struct {
	Handler string
	run     func(ctx context.Context) error
}

// Run invokes the handler. A panicking handler is reported as an error.
func (a Action) Run(ctx context.Context) (err error) {
	if a.run == nil {
		return errors.Wrapf(ErrUnknownHandler, "%q: action not bound", a.Handler)
	}
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("handler %q panicked: %v\n%s", a.Handler, p, debug.Stack())
		}
	}()
	return a.run(ctx)
}

// Encode validates args against the handler registered under name and returns
// the storable payload. Args must be data only: numbers, strings, booleans,
// nil, and nested maps/slices/structs of those.
func (r *Registry) Encode(name string, args any) (Payload, error) {
	name = strings.TrimSpace(name)
	b, ok := r.lookup(name)
	if !ok {
		return Payload{}, errors.WithHint(
			errors.Wrapf(ErrUnknownHandler, "%q", name),
			"register the handler at startup before scheduling jobs that use it",
		)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Payload{}, errors.Mark(errors.Wrapf(err, "encode arguments for %q", name), ErrInvalidArguments)
	}
	if _, err := b(raw); err != nil {
		return Payload{}, errors.Mark(errors.Wrapf(err, "arguments for %q", name), ErrInvalidArguments)
	}
	return Payload{Action: name, Arguments: string(raw)}, nil
}

// Decode binds a stored payload to the handler registered under its name.
func (r *Registry) Decode(p Payload) (Action, error) {
	name := strings.TrimSpace(p.Action)
	b, ok := r.lookup(name)
	if !ok {
		return Action{}, errors.Wrapf(ErrUnknownHandler, "%q", name)
	}
	run, err := b(json.RawMessage(p.Arguments))
	if err != nil {
		return Action{}, errors.Mark(errors.Wrapf(err, "decode arguments for %q", name), ErrCorruptPayload)
	}
	return Action{Handler: name, run: run}, nil
}

func (p Payload) String() string {
	return fmt.Sprintf("%s(%s)", p.Action, p.Arguments)
}
