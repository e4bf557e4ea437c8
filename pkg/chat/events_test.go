package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatrooms/pkg/provider"
	"github.com/go-go-golems/chatrooms/pkg/redisstream"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []RoomEvent
	err    error
}

func (r *recordingPublisher) PublishRoomEvent(_ context.Context, ev RoomEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestDoChat_PublishesEvents(t *testing.T) {
	rec := &recordingPublisher{}
	svc, _ := newTestService(t, replyWith("hi there"), func(c *ServiceConfig) { c.Events = rec })

	_, err := svc.DoChat(context.Background(), 4, "hello")
	require.NoError(t, err)

	require.Equal(t, []EventType{EventMessageAppended, EventMessageAppended}, rec.types())
	require.Equal(t, rooms.UserMessage("hello"), *rec.events[0].Message)
	require.Equal(t, rooms.AssistantMessage("hi there"), *rec.events[1].Message)
	require.Equal(t, rooms.ID(4), rec.events[1].RoomID)
	require.NotEmpty(t, rec.events[0].ID)
	require.NotEqual(t, rec.events[0].ID, rec.events[1].ID)
}

func TestDoChat_PublishesFailure(t *testing.T) {
	rec := &recordingPublisher{}
	svc, _ := newTestService(t, provider.Func(func(ctx context.Context, _ []rooms.Message) (rooms.Message, error) {
		return rooms.Message{}, errors.New("down")
	}), func(c *ServiceConfig) { c.Events = rec })

	_, err := svc.DoChat(context.Background(), 4, "hello")
	require.ErrorIs(t, err, ErrProvider)
	require.Equal(t, []EventType{EventMessageAppended, EventTurnFailed}, rec.types())
	require.Contains(t, rec.events[1].Error, "down")
}

func TestDoChat_PublishErrorsDoNotFailTurn(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("bus down")}
	svc, _ := newTestService(t, replyWith("ok"), func(c *ServiceConfig) { c.Events = rec })

	reply, err := svc.DoChat(context.Background(), 1, "hello")
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
}

func TestWatermillPublisher_RoundTrip(t *testing.T) {
	ps, err := redisstream.BuildPubSub(redisstream.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := ps.Subscriber.Subscribe(ctx, DefaultEventsTopic)
	require.NoError(t, err)

	pub := NewWatermillPublisher(ps.Publisher, "")
	require.Equal(t, DefaultEventsTopic, pub.Topic())

	svc, _ := newTestService(t, replyWith("hi there"), func(c *ServiceConfig) { c.Events = pub })
	errc := make(chan error, 1)
	go func() {
		_, err := svc.DoChat(ctx, 8, "hello")
		errc <- err
	}()

	got := collectEvents(t, msgs, 2)
	require.NoError(t, <-errc)
	require.Equal(t, "8", got[0].Metadata.Get(MetadataRoomID))
	require.Equal(t, rooms.UserMessage("hello"), *decodeEvent(t, got[0]).Message)
	require.Equal(t, rooms.AssistantMessage("hi there"), *decodeEvent(t, got[1]).Message)
}

func TestRoomEventsKeepTurnOrder(t *testing.T) {
	ps, err := redisstream.BuildPubSub(redisstream.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := ps.Subscriber.Subscribe(ctx, DefaultEventsTopic)
	require.NoError(t, err)

	svc, _ := newTestService(t, replyWith("pong"), func(c *ServiceConfig) {
		c.Events = NewWatermillPublisher(ps.Publisher, "")
	})

	const turns = 20
	errc := make(chan error, 1)
	go func() {
		for i := 0; i < turns; i++ {
			if _, err := svc.DoChat(ctx, 1, fmt.Sprintf("ping %d", i)); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	got := collectEvents(t, msgs, 2*turns)
	require.NoError(t, <-errc)
	for i := 0; i < turns; i++ {
		user := decodeEvent(t, got[2*i])
		reply := decodeEvent(t, got[2*i+1])
		require.Equal(t, rooms.UserMessage(fmt.Sprintf("ping %d", i)), *user.Message, "turn %d", i)
		require.Equal(t, rooms.AssistantMessage("pong"), *reply.Message, "turn %d", i)
	}
}

func collectEvents(t *testing.T, msgs <-chan *message.Message, n int) []*message.Message {
	t.Helper()
	var got []*message.Message
	for len(got) < n {
		select {
		case m := <-msgs:
			got = append(got, m)
			m.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d room events", len(got), n)
		}
	}
	return got
}

func decodeEvent(t *testing.T, m *message.Message) RoomEvent {
	t.Helper()
	ev, err := DecodeRoomEvent(m.Payload)
	require.NoError(t, err)
	require.NotNil(t, ev.Message)
	return ev
}

func TestWatermillPublisher_NotInitialized(t *testing.T) {
	var p *WatermillPublisher
	require.Error(t, p.PublishRoomEvent(context.Background(), RoomEvent{}))
}
