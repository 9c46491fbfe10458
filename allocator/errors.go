package allocator

import "github.com/cockroachdb/errors"

// Errors returned by Arena operations. Call sites wrap them with context,
// match with errors.Is.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyInitialized = errors.New("arena already initialized")
	ErrOutOfMemory        = errors.New("out of memory")
	ErrInvalidHandle      = errors.New("invalid handle")
	ErrOutOfBounds        = errors.New("write out of bounds")
)
