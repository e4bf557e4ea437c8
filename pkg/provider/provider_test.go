package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "test-model"})
	require.NoError(t, err)
	return p
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var got capturedRequest
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	})

	msg, err := p.Complete(context.Background(), []rooms.Message{
		rooms.SystemMessage("be nice"),
		rooms.UserMessage("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, rooms.AssistantMessage("hi there"), msg)

	require.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "user", got.Messages[1].Role)
	require.Equal(t, "hello", got.Messages[1].Content)
}

func TestOpenAIProvider_APIError(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_error", "code": "rate_limit"}}`))
	})

	_, err := p.Complete(context.Background(), []rooms.Message{rooms.UserMessage("hello")})
	var perr *Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, "slow down", perr.Reason)
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "choices": []}`))
	})

	_, err := p.Complete(context.Background(), []rooms.Message{rooms.UserMessage("hello")})
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIProvider_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, []rooms.Message{rooms.UserMessage("hello")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	require.Error(t, err)
}

func TestEchoProvider(t *testing.T) {
	p := EchoProvider{Prefix: "echo: "}
	msg, err := p.Complete(context.Background(), []rooms.Message{
		rooms.UserMessage("first"),
		rooms.AssistantMessage("echo: first"),
		rooms.UserMessage("second"),
	})
	require.NoError(t, err)
	require.Equal(t, rooms.AssistantMessage("echo: second"), msg)

	_, err = p.Complete(context.Background(), nil)
	var perr *Error
	require.True(t, errors.As(err, &perr))
}

func TestFunc(t *testing.T) {
	var p Provider = Func(func(ctx context.Context, messages []rooms.Message) (rooms.Message, error) {
		return rooms.AssistantMessage("n=" + string(rune('0'+len(messages)))), nil
	})
	msg, err := p.Complete(context.Background(), []rooms.Message{rooms.UserMessage("a")})
	require.NoError(t, err)
	require.Equal(t, "n=1", msg.Content)
}

func TestErrorMessage(t *testing.T) {
	require.Equal(t, "provider error (status 503): overloaded", (&Error{StatusCode: 503, Reason: "overloaded"}).Error())
	require.Equal(t, "provider error: boom", (&Error{Err: errors.New("boom")}).Error())
	inner := errors.New("inner")
	require.ErrorIs(t, &Error{Err: inner}, inner)
}
