// Package chat runs chat turns: it loads a room, asks the completion provider for the next
// assistant message and records both sides of the exchange.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/provider"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

type ServiceConfig struct {
	Store    rooms.Store
	Provider provider.Provider

	// Events is optional. Every append and every failed turn is published to it.
	Events EventPublisher
	// Budget is optional. A nil budget accepts prompts of any size.
	Budget *TokenBudget
	// ProviderTimeout bounds one provider call. Zero means only the caller's context applies.
	ProviderTimeout time.Duration
}

// Service is safe for concurrent use. Turns on the same room run one at a time in arrival
// order; turns on different rooms run in parallel.
type Service struct {
	store    rooms.Store
	provider provider.Provider
	events   EventPublisher
	budget   *TokenBudget
	timeout  time.Duration
	slots    *turnSlots
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat service: store is nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("chat service: provider is nil")
	}
	if cfg.ProviderTimeout < 0 {
		return nil, errors.Errorf("chat service: negative provider timeout %s", cfg.ProviderTimeout)
	}
	return &Service{
		store:    cfg.Store,
		provider: cfg.Provider,
		events:   cfg.Events,
		budget:   cfg.Budget,
		timeout:  cfg.ProviderTimeout,
		slots:    newTurnSlots(),
	}, nil
}

// DoChat runs one turn on roomID and returns the assistant's reply.
//
// The user message is recorded before the provider is called and stays recorded when the
// provider fails or the caller cancels during the call. A reply that was produced is always
// recorded, even if the caller went away in the meantime.
func (s *Service) DoChat(ctx context.Context, roomID rooms.ID, userPrompt string) (string, error) {
	if s == nil || s.store == nil {
		return "", errors.New("chat service is not initialized")
	}
	if strings.TrimSpace(userPrompt) == "" {
		return "", errors.Wrap(ErrInvalidArgument, "user prompt is empty")
	}
	if err := roomID.Validate(); err != nil {
		return "", err
	}
	if err := rooms.UserMessage(userPrompt).Validate(); err != nil {
		return "", err
	}
	if err := s.budget.Check(userPrompt); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", cancelled(roomID, err)
	}

	logger := log.With().Str("component", "chat").Int64("room_id", int64(roomID)).Logger()

	release, err := s.slots.acquire(ctx, roomID)
	if err != nil {
		return "", cancelled(roomID, err)
	}
	defer release()

	// A turn cancelled while queued must not create the room.
	if err := ctx.Err(); err != nil {
		return "", cancelled(roomID, err)
	}
	// From here the room and the user message are written together, so a cancellation
	// arriving in between cannot leave a new room empty.
	storeCtx := context.WithoutCancel(ctx)
	room, err := s.store.GetOrCreate(storeCtx, roomID)
	if err != nil {
		return "", errors.Wrapf(err, "room %d: load", int64(roomID))
	}

	userMsg := rooms.UserMessage(userPrompt)
	request := append(room.Messages, userMsg)

	if err := s.store.Append(storeCtx, roomID, userMsg); err != nil {
		return "", errors.Wrapf(err, "room %d: append user message", int64(roomID))
	}
	s.publish(ctx, newMessageEvent(roomID, userMsg))

	started := time.Now()
	reply, err := s.complete(ctx, roomID, request)
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("chat turn failed")
		s.publish(context.WithoutCancel(ctx), newFailureEvent(roomID, err))
		return "", err
	}

	detached := context.WithoutCancel(ctx)
	if err := s.store.Append(detached, roomID, reply); err != nil {
		return "", errors.Wrapf(err, "room %d: append assistant message", int64(roomID))
	}
	s.publish(detached, newMessageEvent(roomID, reply))

	logger.Debug().
		Int("history", len(request)).
		Int("reply_len", len(reply.Content)).
		Dur("elapsed", time.Since(started)).
		Msg("chat turn completed")
	return reply.Content, nil
}

func (s *Service) complete(ctx context.Context, roomID rooms.ID, msgs []rooms.Message) (rooms.Message, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, err := s.provider.Complete(callCtx, msgs)
	if err != nil {
		// The caller's context ending is a cancellation; our own timeout is a provider failure.
		if ctx.Err() != nil {
			return rooms.Message{}, cancelled(roomID, ctx.Err())
		}
		return rooms.Message{}, &ProviderError{RoomID: roomID, Err: err}
	}
	if reply.Role != rooms.RoleAssistant {
		return rooms.Message{}, &ProviderError{RoomID: roomID, Err: errors.Errorf("unexpected reply role %q", reply.Role)}
	}
	if strings.TrimSpace(reply.Content) == "" {
		return rooms.Message{}, &ProviderError{RoomID: roomID, Err: provider.ErrEmptyCompletion}
	}
	if err := reply.Validate(); err != nil {
		return rooms.Message{}, &ProviderError{RoomID: roomID, Err: err}
	}
	return reply, nil
}

// GetChatRoomList returns every room with its full transcript.
func (s *Service) GetChatRoomList(ctx context.Context) ([]rooms.ChatRoom, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("chat service is not initialized")
	}
	return s.store.ListAll(ctx)
}

func (s *Service) publish(ctx context.Context, ev RoomEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRoomEvent(ctx, ev); err != nil {
		log.Warn().Err(err).
			Str("component", "chat").
			Int64("room_id", int64(ev.RoomID)).
			Str("event_type", string(ev.Type)).
			Msg("failed to publish room event")
	}
}
