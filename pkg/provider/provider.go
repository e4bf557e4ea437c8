// Package provider is the boundary to LLM completion services. Callers hand over a full
// transcript and get back exactly one assistant message or an error.
package provider

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// Provider produces the next message of a transcript. Implementations must not retry on
// their own and must honour ctx cancellation.
type Provider interface {
	Complete(ctx context.Context, messages []rooms.Message) (rooms.Message, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, messages []rooms.Message) (rooms.Message, error)

func (f Func) Complete(ctx context.Context, messages []rooms.Message) (rooms.Message, error) {
	return f(ctx, messages)
}

// ErrEmptyCompletion is returned when the service answered without usable content.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// Error is a failure reported by the remote service.
type Error struct {
	// StatusCode is the HTTP status, 0 when the request never got a response.
	StatusCode int
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Reason != "":
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Reason)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider error (status %d)", e.StatusCode)
	case e.Reason != "":
		return "provider error: " + e.Reason
	case e.Err != nil:
		return "provider error: " + e.Err.Error()
	default:
		return "provider error"
	}
}

func (e *Error) Unwrap() error { return e.Err }
