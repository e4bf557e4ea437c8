package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/redisstream"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

type hubFixture struct {
	srv *httptest.Server
	svc *chat.Service
	hub *StreamHub
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	ps, err := redisstream.BuildPubSub(redisstream.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	svc, err := chat.NewService(chat.ServiceConfig{
		Store:    rooms.NewInMemoryStore(rooms.Options{}),
		Provider: staticReply("hi there"),
		Events:   chat.NewWatermillPublisher(ps.Publisher, ""),
	})
	require.NoError(t, err)

	hub, err := NewStreamHub(StreamHubConfig{Subscriber: ps.Subscriber, IdleTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	select {
	case <-hub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("stream hub did not subscribe")
	}

	r, err := NewRouter(RouterConfig{Chat: svc, Hub: hub})
	require.NoError(t, err)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return &hubFixture{srv: srv, svc: svc, hub: hub}
}

func (f *hubFixture) dial(t *testing.T, roomID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?roomId=" + url.QueryEscape(roomID)
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestStreamHubDeliversRoomEvents(t *testing.T) {
	f := newHubFixture(t)

	watcher := f.dial(t, "1")
	other := f.dial(t, "2")
	require.Equal(t, "ws.hello", readFrame(t, watcher)["type"])
	require.Equal(t, "ws.hello", readFrame(t, other)["type"])
	require.Eventually(t, func() bool { return f.hub.Connections(1) == 1 }, time.Second, 5*time.Millisecond)

	_, err := f.svc.DoChat(context.Background(), 1, "hello")
	require.NoError(t, err)

	first := readFrame(t, watcher)
	require.Equal(t, string(chat.EventMessageAppended), first["type"])
	require.Equal(t, float64(1), first["roomId"])
	require.Equal(t, map[string]any{"role": "user", "content": "hello"}, first["message"])

	second := readFrame(t, watcher)
	require.Equal(t, map[string]any{"role": "assistant", "content": "hi there"}, second["message"])

	// Room 2's watcher sees nothing from room 1.
	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = other.ReadMessage()
	require.Error(t, err)
}

func TestStreamHubPingPong(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "3")
	require.Equal(t, "ws.hello", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ws.ping"}`)))
	require.Equal(t, "ws.pong", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.Equal(t, "ws.pong", readFrame(t, conn)["type"])
}

func TestStreamHubDropsIdlePools(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "5")
	_ = readFrame(t, conn)
	require.Eventually(t, func() bool { return f.hub.Connections(5) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.hub.lookup(5) == nil }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamHubRejectsBadRoom(t *testing.T) {
	f := newHubFixture(t)
	resp, err := http.Get(f.srv.URL + "/ws?roomId=nope")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIsPing(t *testing.T) {
	require.True(t, isPing([]byte(" PING ")))
	require.True(t, isPing([]byte(`{"type":"WS.PING"}`)))
	require.False(t, isPing([]byte(`{"type":"chat"}`)))
	require.False(t, isPing([]byte("hello")))
}

func TestNewStreamHubRequiresSubscriber(t *testing.T) {
	_, err := NewStreamHub(StreamHubConfig{})
	require.Error(t, err)
}
