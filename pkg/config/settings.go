// Package config decodes chatrooms settings from viper. Config file discovery and the
// logging flags belong to clay.InitViper on the root command; this package registers the
// defaults and CHATROOMS_* environment bindings on top and validates the result.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/persistence/roomstore"
	"github.com/go-go-golems/chatrooms/pkg/provider"
	"github.com/go-go-golems/chatrooms/pkg/redisstream"
)

const EnvPrefix = "chatrooms"

const (
	ProviderAuto     = "auto"
	ProviderOpenAI   = "openai"
	ProviderGeppetto = "geppetto"
	ProviderEcho     = "echo"
)

type Settings struct {
	Store    roomstore.Settings `mapstructure:"store" yaml:"store"`
	Provider ProviderSettings   `mapstructure:"provider" yaml:"provider"`
	Chat     ChatSettings       `mapstructure:"chat" yaml:"chat"`
	Events   EventsSettings     `mapstructure:"events" yaml:"events"`
	HTTP     HTTPSettings       `mapstructure:"http" yaml:"http"`
}

type ProviderSettings struct {
	// Kind auto picks geppetto when an API key is set and echo otherwise.
	Kind string `mapstructure:"kind" yaml:"kind" validate:"oneof=auto openai geppetto echo"`
	// APIType is the geppetto engine family, ignored by the other kinds.
	APIType     string        `mapstructure:"api-type" yaml:"api-type" validate:"required_if=Kind geppetto"`
	APIKey      string        `mapstructure:"api-key" yaml:"-" validate:"required_if=Kind openai,required_if=Kind geppetto"`
	BaseURL     string        `mapstructure:"base-url" yaml:"base-url" validate:"omitempty,url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max-tokens" yaml:"max-tokens" validate:"gte=0"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	EchoPrefix  string        `mapstructure:"echo-prefix" yaml:"echo-prefix"`
}

type ChatSettings struct {
	MaxPromptTokens int    `mapstructure:"max-prompt-tokens" yaml:"max-prompt-tokens" validate:"gte=0"`
	Encoding        string `mapstructure:"encoding" yaml:"encoding"`
}

type EventsSettings struct {
	Topic string               `mapstructure:"topic" yaml:"topic" validate:"required"`
	Redis redisstream.Settings `mapstructure:",squash" yaml:",inline"`
}

type HTTPSettings struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	AllowedOrigins  []string      `mapstructure:"allowed-origins" yaml:"allowed-origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" yaml:"shutdown-timeout" validate:"gte=0"`
	WSIdleTimeout   time.Duration `mapstructure:"ws-idle-timeout" yaml:"ws-idle-timeout" validate:"gte=0"`
}

// ResolvedKind returns the concrete provider kind.
func (p ProviderSettings) ResolvedKind() string {
	kind := strings.ToLower(strings.TrimSpace(p.Kind))
	if kind == "" || kind == ProviderAuto {
		if p.APIKey != "" {
			return ProviderGeppetto
		}
		return ProviderEcho
	}
	return kind
}

// Build constructs the configured completion provider.
func (p ProviderSettings) Build() (provider.Provider, error) {
	switch p.ResolvedKind() {
	case ProviderOpenAI:
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		})
	case ProviderGeppetto:
		return provider.NewGeppettoProvider(provider.GeppettoConfig{
			APIType:     p.APIType,
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		})
	case ProviderEcho:
		return &provider.EchoProvider{Prefix: p.EchoPrefix}, nil
	default:
		return nil, errors.Errorf("unknown provider kind %q", p.Kind)
	}
}

var validate = validator.New()

func defaults() map[string]any {
	rs := redisstream.DefaultSettings()
	return map[string]any{
		"store.backend":            roomstore.BackendMemory,
		"store.sqlite-path":        "",
		"store.redis-addr":         "",
		"store.redis-key-prefix":   "chatrooms",
		"store.badger-dir":         "",
		"store.seed-system-prompt": "",

		"provider.kind":        ProviderAuto,
		"provider.api-type":    "openai",
		"provider.api-key":     "",
		"provider.base-url":    "",
		"provider.model":       provider.DefaultOpenAIModel,
		"provider.max-tokens":  0,
		"provider.temperature": 0.7,
		"provider.timeout":     "60s",
		"provider.echo-prefix": "echo: ",

		"chat.max-prompt-tokens": 0,
		"chat.encoding":          chat.DefaultEncoding,

		"events.topic":          chat.DefaultEventsTopic,
		"events.redis-enabled":  rs.Enabled,
		"events.redis-addr":     rs.Addr,
		"events.redis-group":    rs.Group,
		"events.redis-consumer": rs.Consumer,

		"http.addr":             ":8080",
		"http.allowed-origins":  []string{"http://localhost:3000"},
		"http.shutdown-timeout": "30s",
		"http.ws-idle-timeout":  "1m",
	}
}

// Register adds every default and the environment bindings to v. Env names are the key
// upper-cased with dots and dashes as underscores, e.g. CHATROOMS_STORE_SQLITE_PATH.
func Register(v *viper.Viper) {
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("provider.api-key", "CHATROOMS_PROVIDER_API_KEY", "OPENAI_API_KEY")
}

// NewViper returns a standalone viper instance with Register applied.
func NewViper() *viper.Viper {
	v := viper.New()
	Register(v)
	return v
}

// Load decodes and validates the settings held by v, which must already have read its
// config file if there is one.
func Load(v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = NewViper()
	}
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("settings are nil")
	}
	s.Store.Backend = strings.ToLower(strings.TrimSpace(s.Store.Backend))
	s.Provider.Kind = strings.ToLower(strings.TrimSpace(s.Provider.Kind))
	s.Provider.APIType = strings.ToLower(strings.TrimSpace(s.Provider.APIType))
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
