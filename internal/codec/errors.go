package codec

import "github.com/cockroachdb/errors"

var (
	// ErrUnknownHandler is returned when a payload names a handler that is not registered.
	ErrUnknownHandler = errors.New("codec: unknown handler")
	// ErrCorruptPayload is returned when stored arguments cannot be decoded into the
	// shape the handler expects.
	ErrCorruptPayload = errors.New("codec: corrupt payload")
	// ErrInvalidArguments is returned by Encode when arguments are not serializable
	// or do not fit the handler's argument type.
	ErrInvalidArguments = errors.New("codec: invalid arguments")
	// ErrInvalidHandler is returned for an empty handler name or nil function.
	ErrInvalidHandler = errors.New("codec: invalid handler")
	// ErrHandlerExists is returned when a name is registered twice.
	ErrHandlerExists = errors.New("codec: handler already registered")
)
