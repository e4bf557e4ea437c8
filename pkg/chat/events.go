package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const DefaultEventsTopic = "chatrooms.events"

// MetadataRoomID is the watermill metadata key carrying the room id, so consumers can
// route without decoding the payload.
const MetadataRoomID = "room_id"

type EventType string

const (
	EventMessageAppended EventType = "message.appended"
	EventTurnFailed      EventType = "turn.failed"
)

// RoomEvent is what the service emits after each append and on each failed turn.
type RoomEvent struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	RoomID  rooms.ID       `json:"roomId"`
	Message *rooms.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	At      time.Time      `json:"at"`
}

func newMessageEvent(id rooms.ID, msg rooms.Message) RoomEvent {
	return RoomEvent{ID: uuid.NewString(), Type: EventMessageAppended, RoomID: id, Message: &msg, At: time.Now().UTC()}
}

func newFailureEvent(id rooms.ID, err error) RoomEvent {
	return RoomEvent{ID: uuid.NewString(), Type: EventTurnFailed, RoomID: id, Error: err.Error(), At: time.Now().UTC()}
}

// EventPublisher receives room events. Publishing errors never fail a chat turn.
type EventPublisher interface {
	PublishRoomEvent(ctx context.Context, ev RoomEvent) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, ev RoomEvent) error

func (f EventPublisherFunc) PublishRoomEvent(ctx context.Context, ev RoomEvent) error {
	return f(ctx, ev)
}

// WatermillPublisher publishes room events as JSON watermill messages on one topic.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

var _ EventPublisher = (*WatermillPublisher)(nil)

func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultEventsTopic
	}
	return &WatermillPublisher{publisher: publisher, topic: topic}
}

func (w *WatermillPublisher) Topic() string { return w.topic }

func (w *WatermillPublisher) PublishRoomEvent(ctx context.Context, ev RoomEvent) error {
	if w == nil || w.publisher == nil {
		return errors.New("watermill room event publisher is not initialized")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal room event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataRoomID, strconv.FormatInt(int64(ev.RoomID), 10))
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return errors.Wrapf(err, "publish room event to %s", w.topic)
	}
	log.Trace().Str("topic", w.topic).Str("event_type", string(ev.Type)).Int64("room_id", int64(ev.RoomID)).Msg("published room event")
	return nil
}

// DecodeRoomEvent parses a payload written by WatermillPublisher.
func DecodeRoomEvent(payload []byte) (RoomEvent, error) {
	var ev RoomEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return RoomEvent{}, errors.Wrap(err, "decode room event")
	}
	return ev, nil
}
