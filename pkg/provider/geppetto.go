package provider

import (
	"context"
	"strings"

	"github.com/go-go-golems/geppetto/pkg/inference/engine"
	"github.com/go-go-golems/geppetto/pkg/inference/engine/factory"
	"github.com/go-go-golems/geppetto/pkg/steps/ai/settings"
	ai_types "github.com/go-go-golems/geppetto/pkg/steps/ai/types"
	"github.com/go-go-golems/geppetto/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

type GeppettoConfig struct {
	// APIType selects the geppetto engine family (openai, claude, gemini, ...).
	APIType     string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// GeppettoProvider runs a room transcript through a geppetto inference engine.
type GeppettoProvider struct {
	eng engine.Engine
}

var _ Provider = &GeppettoProvider{}

func NewGeppettoProvider(cfg GeppettoConfig) (*GeppettoProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("geppetto provider: missing api key")
	}
	ss, err := geppettoStepSettings(cfg)
	if err != nil {
		return nil, err
	}
	eng, err := factory.NewEngineFromStepSettings(ss)
	if err != nil {
		return nil, errors.Wrap(err, "geppetto provider: engine init failed")
	}
	return NewGeppettoProviderFromEngine(eng)
}

// NewGeppettoProviderFromEngine wraps an already built engine, middlewares included.
func NewGeppettoProviderFromEngine(eng engine.Engine) (*GeppettoProvider, error) {
	if eng == nil {
		return nil, errors.New("geppetto provider: nil engine")
	}
	return &GeppettoProvider{eng: eng}, nil
}

func geppettoStepSettings(cfg GeppettoConfig) (*settings.StepSettings, error) {
	ss, err := settings.NewStepSettings()
	if err != nil {
		return nil, errors.Wrap(err, "geppetto provider: step settings")
	}
	apiType := ai_types.ApiType(strings.ToLower(strings.TrimSpace(cfg.APIType)))
	if apiType == "" {
		apiType = ai_types.ApiTypeOpenAI
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	ss.Chat.ApiType = &apiType
	ss.Chat.Engine = &model
	ss.Chat.Stream = false
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		ss.Chat.MaxResponseTokens = &maxTokens
	}
	temperature := float64(cfg.Temperature)
	ss.Chat.Temperature = &temperature

	ss.API.APIKeys[string(apiType)+"-api-key"] = cfg.APIKey
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		ss.API.BaseUrls[string(apiType)+"-base-url"] = strings.TrimRight(base, "/")
	}
	return ss, nil
}

func (p *GeppettoProvider) Complete(ctx context.Context, messages []rooms.Message) (rooms.Message, error) {
	if p == nil || p.eng == nil {
		return rooms.Message{}, errors.New("geppetto provider: nil engine")
	}
	seed, err := turnFromMessages(messages)
	if err != nil {
		return rooms.Message{}, err
	}
	seeded := len(seed.Blocks)
	log.Debug().Str("component", "provider").Int("blocks", seeded).Msg("geppetto inference request")

	out, err := p.eng.RunInference(ctx, seed)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rooms.Message{}, errors.Wrap(ctxErr, "geppetto inference")
		}
		return rooms.Message{}, &Error{Reason: err.Error(), Err: err}
	}
	if out == nil {
		return rooms.Message{}, &Error{Reason: "engine returned no turn"}
	}
	text, ok := lastAssistantText(out, seeded)
	if !ok || text == "" {
		return rooms.Message{}, ErrEmptyCompletion
	}
	return rooms.AssistantMessage(text), nil
}

func turnFromMessages(messages []rooms.Message) (*turns.Turn, error) {
	t := &turns.Turn{}
	for _, m := range messages {
		switch m.Role {
		case rooms.RoleSystem:
			turns.AppendBlock(t, turns.NewSystemTextBlock(m.Content))
		case rooms.RoleUser:
			turns.AppendBlock(t, turns.NewUserTextBlock(m.Content))
		case rooms.RoleAssistant:
			turns.AppendBlock(t, turns.NewAssistantTextBlock(m.Content))
		default:
			return nil, errors.Wrapf(rooms.ErrInvalidArgument, "role %q has no geppetto mapping", m.Role)
		}
	}
	return t, nil
}

// lastAssistantText only looks at blocks the engine added after the seeded transcript.
func lastAssistantText(t *turns.Turn, from int) (string, bool) {
	if from > len(t.Blocks) {
		from = 0
	}
	for i := len(t.Blocks) - 1; i >= from; i-- {
		b := t.Blocks[i]
		if b.Kind != turns.BlockKindLLMText {
			continue
		}
		if txt, ok := b.Payload[turns.PayloadKeyText].(string); ok {
			return txt, true
		}
	}
	return "", false
}
