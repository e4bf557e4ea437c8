package provider

import (
	"context"
	"fmt"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// EchoProvider answers with the last user message. It needs no network and is what the
// server falls back to when no API key is configured.
type EchoProvider struct {
	Prefix string
}

var _ Provider = EchoProvider{}

func (p EchoProvider) Complete(ctx context.Context, messages []rooms.Message) (rooms.Message, error) {
	if err := ctx.Err(); err != nil {
		return rooms.Message{}, err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == rooms.RoleUser {
			return rooms.AssistantMessage(p.Prefix + messages[i].Content), nil
		}
	}
	return rooms.Message{}, &Error{Reason: fmt.Sprintf("no user message among %d messages", len(messages))}
}
