// Package client is a typed HTTP client for the chatrooms JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const DefaultBaseURL = "http://localhost:8080"

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatrooms server: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server url %q must be http or https", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: 5 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	RoomID rooms.ID `json:"roomId"`
	Reply  string   `json:"reply"`
}

// Chat runs one turn in roomID and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, roomID rooms.ID, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{Prompt: prompt})
	if err != nil {
		return "", errors.Wrap(err, "encode chat request")
	}
	var out chatResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/rooms/%d/chat", roomID), body, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

// Rooms returns every room with its transcript in creation order.
func (c *Client) Rooms(ctx context.Context) ([]rooms.ChatRoom, error) {
	var out []rooms.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var env struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			apiErr.Message = env.Error
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
