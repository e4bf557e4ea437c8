// Package rooms owns chat room transcripts: the message model, the Store contract and the
// in-memory store used by default.
//
// A room is created implicitly the first time its id is referenced and is only ever mutated
// by appending messages. Nothing in this package removes or reorders messages.
package rooms

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Role is the closed set of speakers in a transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Roles lists every valid role in canonical order.
var Roles = []Role{RoleSystem, RoleUser, RoleAssistant}

func (r Role) Valid() bool {
	return lo.Contains(Roles, r)
}

func (r Role) String() string { return string(r) }

// ParseRole accepts role names case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", errors.Wrapf(ErrInvalidArgument, "unknown role %q, want one of %v", s, Roles)
	}
	return r, nil
}

// Message is one immutable entry of a transcript.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

func (m Message) Validate() error {
	if !m.Role.Valid() {
		return errors.Wrapf(ErrInvalidArgument, "message has invalid role %q", m.Role)
	}
	// Backends differ in how they store invalid UTF-8, so none of them gets to see it.
	if !utf8.ValidString(m.Content) {
		return errors.Wrapf(ErrInvalidArgument, "%s message is not valid UTF-8", m.Role)
	}
	return nil
}

// ID identifies a room. Valid ids are non-negative.
type ID int64

func (id ID) Validate() error {
	if id < 0 {
		return errors.Wrapf(ErrInvalidArgument, "room id %d is negative", int64(id))
	}
	return nil
}

// ChatRoom is a point-in-time view of a room. Messages is never nil.
type ChatRoom struct {
	RoomID   ID        `json:"roomId" yaml:"roomId"`
	Messages []Message `json:"messages" yaml:"messages"`
}

// Last returns the most recent message, if any.
func (r ChatRoom) Last() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// SeedMessages returns the initial transcript of a freshly created room.
func SeedMessages(systemPrompt string) []Message {
	if strings.TrimSpace(systemPrompt) == "" {
		return []Message{}
	}
	return []Message{SystemMessage(systemPrompt)}
}
