package provider

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const DefaultOpenAIModel = go_openai.GPT4oMini

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// OpenAIProvider calls an OpenAI compatible chat completions endpoint.
type OpenAIProvider struct {
	client *go_openai.Client
	cfg    OpenAIConfig
}

var _ Provider = &OpenAIProvider{}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai provider: missing api key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultOpenAIModel
	}
	config := go_openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIProvider{client: go_openai.NewClientWithConfig(config), cfg: cfg}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []rooms.Message) (rooms.Message, error) {
	if p == nil || p.client == nil {
		return rooms.Message{}, errors.New("openai provider: nil client")
	}
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role, err := toOpenAIRole(m.Role)
		if err != nil {
			return rooms.Message{}, err
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := go_openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	log.Debug().
		Str("component", "provider").
		Str("model", req.Model).
		Int("messages", len(msgs)).
		Msg("openai chat completion request")

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return rooms.Message{}, fromOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return rooms.Message{}, ErrEmptyCompletion
	}
	choice := resp.Choices[0].Message
	if choice.Content == "" {
		return rooms.Message{}, ErrEmptyCompletion
	}
	role, err := fromOpenAIRole(choice.Role)
	if err != nil {
		return rooms.Message{}, &Error{Reason: err.Error(), Err: err}
	}
	log.Debug().
		Str("component", "provider").
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("openai chat completion response")
	return rooms.Message{Role: role, Content: choice.Content}, nil
}

func toOpenAIRole(r rooms.Role) (string, error) {
	switch r {
	case rooms.RoleSystem:
		return go_openai.ChatMessageRoleSystem, nil
	case rooms.RoleUser:
		return go_openai.ChatMessageRoleUser, nil
	case rooms.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant, nil
	default:
		return "", errors.Wrapf(rooms.ErrInvalidArgument, "role %q has no openai mapping", r)
	}
}

// fromOpenAIRole treats a missing role as assistant; some compatible servers omit it.
func fromOpenAIRole(role string) (rooms.Role, error) {
	if role == "" {
		return rooms.RoleAssistant, nil
	}
	return rooms.ParseRole(role)
}

func fromOpenAIError(ctx context.Context, err error) error {
	// Cancellation and deadlines stay recognizable as context errors.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, "openai chat completion")
	}
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{StatusCode: apiErr.HTTPStatusCode, Reason: apiErr.Message, Err: err}
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{StatusCode: reqErr.HTTPStatusCode, Reason: reqErr.Error(), Err: err}
	}
	return &Error{Reason: err.Error(), Err: err}
}
