package chat

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

var (
	// ErrInvalidArgument and ErrNotFound are shared with the store so a single errors.Is check
	// covers both layers.
	ErrInvalidArgument = rooms.ErrInvalidArgument
	ErrNotFound        = rooms.ErrNotFound

	ErrProvider  = errors.New("completion provider failed")
	ErrCancelled = errors.New("chat turn cancelled")
)

// ProviderError reports a failed completion for one room. errors.Is(err, ErrProvider) holds,
// and the provider's own error stays reachable through Unwrap.
type ProviderError struct {
	RoomID rooms.ID
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("room %d: %s", int64(e.RoomID), ErrProvider)
	}
	return fmt.Sprintf("room %d: %s: %v", int64(e.RoomID), ErrProvider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// CancelledError reports a turn abandoned because the caller's context ended.
// errors.Is matches ErrCancelled and the context error that caused it.
type CancelledError struct {
	RoomID rooms.ID
	Err    error
}

func (e *CancelledError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("room %d: %s", int64(e.RoomID), ErrCancelled)
	}
	return fmt.Sprintf("room %d: %s: %v", int64(e.RoomID), ErrCancelled, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

func cancelled(id rooms.ID, cause error) error {
	return &CancelledError{RoomID: id, Err: cause}
}
