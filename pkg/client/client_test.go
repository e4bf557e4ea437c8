package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/provider"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
	"github.com/go-go-golems/chatrooms/pkg/webchat"
)

func newServer(t *testing.T) *Client {
	t.Helper()
	svc, err := chat.NewService(chat.ServiceConfig{
		Store:    rooms.NewInMemoryStore(rooms.Options{}),
		Provider: provider.EchoProvider{Prefix: "echo: "},
	})
	require.NoError(t, err)
	r, err := webchat.NewRouter(webchat.RouterConfig{Chat: svc})
	require.NoError(t, err)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestChatAndRooms(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	reply, err := c.Chat(ctx, 2, "hello")
	require.NoError(t, err)
	require.Equal(t, "echo: hello", reply)

	_, err = c.Chat(ctx, 1, "first")
	require.NoError(t, err)

	list, err := c.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, rooms.ID(2), list[0].RoomID)
	require.Equal(t, []rooms.Message{rooms.UserMessage("hello"), rooms.AssistantMessage("echo: hello")}, list[0].Messages)
	require.Equal(t, rooms.ID(1), list[1].RoomID)
}

func TestChatDecodesServerError(t *testing.T) {
	c := newServer(t)
	_, err := c.Chat(context.Background(), 1, "   ")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.NotEmpty(t, apiErr.Message)
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Rooms(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	require.Equal(t, "gateway down", apiErr.Message)
}

func TestNewValidatesURL(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL.String())

	_, err = New("ftp://example.com")
	require.Error(t, err)
}
