package ikcp

import "github.com/pkg/errors"

var (
	// ErrNotAvailable means there is nothing to hand out yet: too few bytes to frame a
	// segment, or no complete message in the receive queue.
	ErrNotAvailable = errors.New("ikcp: not available")
	// ErrInvalidHeader is a structurally inconsistent header. Bytes after it are dropped.
	ErrInvalidHeader = errors.New("ikcp: invalid header")
	// ErrInvalidCommand is a well formed header with an unknown command tag.
	ErrInvalidCommand = errors.New("ikcp: invalid command")
	ErrQueueFull      = errors.New("ikcp: send queue full")
	ErrConvMismatch   = errors.New("ikcp: conv mismatch")
	// ErrMessageTooLarge is returned by Send when the message needs more than 256
	// fragments (frg counts down from 255) or more than the receive window holds.
	ErrMessageTooLarge = errors.New("ikcp: message too large")
	ErrInvalidConfig   = errors.New("ikcp: invalid config")
)
