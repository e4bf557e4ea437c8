package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/provider"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatrooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// loadFile reads path the way clay.InitViper does for --config.
func loadFile(t *testing.T, path string) (*Settings, error) {
	t.Helper()
	v := NewViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	s, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "memory", s.Store.Backend)
	require.Equal(t, ":8080", s.HTTP.Addr)
	require.Equal(t, 30*time.Second, s.HTTP.ShutdownTimeout)
	require.Equal(t, time.Minute, s.HTTP.WSIdleTimeout)
	require.Equal(t, []string{"http://localhost:3000"}, s.HTTP.AllowedOrigins)
	require.Equal(t, chat.DefaultEventsTopic, s.Events.Topic)
	require.False(t, s.Events.Redis.Enabled)
	require.Equal(t, "chatrooms-ws", s.Events.Redis.Group)
	require.Equal(t, 60*time.Second, s.Provider.Timeout)
	require.Equal(t, ProviderEcho, s.Provider.ResolvedKind())
	require.Equal(t, "openai", s.Provider.APIType)
}

func TestRegisterOnSharedViper(t *testing.T) {
	t.Setenv("CHATROOMS_STORE_BACKEND", "badger")
	t.Setenv("CHATROOMS_STORE_BADGER_DIR", "/tmp/rooms")

	v := viper.New()
	v.SetDefault("log-level", "debug")
	Register(v)
	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "badger", s.Store.Backend)
	require.Equal(t, "/tmp/rooms", s.Store.BadgerDir)
	require.Equal(t, "debug", v.GetString("log-level"))
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: sqlite
  sqlite-path: /tmp/rooms.db
  seed-system-prompt: You are terse.
chat:
  max-prompt-tokens: 512
events:
  redis-enabled: true
  redis-addr: redis:6379
http:
  addr: ":9000"
`)
	t.Setenv("CHATROOMS_HTTP_ADDR", ":9100")
	t.Setenv("CHATROOMS_PROVIDER_TIMEOUT", "5s")

	s, err := loadFile(t, path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", s.Store.Backend)
	require.Equal(t, "/tmp/rooms.db", s.Store.SQLitePath)
	require.Equal(t, "You are terse.", s.Store.SeedSystemPrompt)
	require.Equal(t, 512, s.Chat.MaxPromptTokens)
	require.True(t, s.Events.Redis.Enabled)
	require.Equal(t, "redis:6379", s.Events.Redis.Addr)
	require.Equal(t, ":9100", s.HTTP.Addr)
	require.Equal(t, 5*time.Second, s.Provider.Timeout)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: postgres\n")
	_, err := loadFile(t, path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Backend")
}

func TestLoadRequiresSQLitePath(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: sqlite\n")
	_, err := loadFile(t, path)
	require.Error(t, err)
}

func TestLoadRequiresAPIKeyForOpenAI(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "provider:\n  kind: openai\n")
	_, err := loadFile(t, path)
	require.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	s, err := loadFile(t, path)
	require.NoError(t, err)
	require.Equal(t, "sk-test", s.Provider.APIKey)
	require.Equal(t, ProviderOpenAI, s.Provider.ResolvedKind())
}

func TestLoadRequiresAPIKeyForGeppetto(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "provider:\n  kind: geppetto\n  api-type: claude\n")
	_, err := loadFile(t, path)
	require.Error(t, err)

	t.Setenv("CHATROOMS_PROVIDER_API_KEY", "sk-ant")
	s, err := loadFile(t, path)
	require.NoError(t, err)
	require.Equal(t, "claude", s.Provider.APIType)
	require.Equal(t, ProviderGeppetto, s.Provider.ResolvedKind())
}

func TestLoadRejectsUnknownProviderKind(t *testing.T) {
	path := writeConfig(t, "provider:\n  kind: llama\n")
	_, err := loadFile(t, path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Kind")
}

func TestProviderBuild(t *testing.T) {
	p, err := ProviderSettings{Kind: ProviderEcho, EchoPrefix: "> "}.Build()
	require.NoError(t, err)
	require.IsType(t, &provider.EchoProvider{}, p)

	p, err = ProviderSettings{Kind: ProviderOpenAI, APIKey: "sk-test"}.Build()
	require.NoError(t, err)
	require.IsType(t, &provider.OpenAIProvider{}, p)

	require.Equal(t, ProviderGeppetto, ProviderSettings{Kind: ProviderAuto, APIKey: "sk-test"}.ResolvedKind())
	require.Equal(t, ProviderEcho, ProviderSettings{Kind: ProviderAuto}.ResolvedKind())

	_, err = ProviderSettings{Kind: ProviderGeppetto}.Build()
	require.Error(t, err)

	_, err = ProviderSettings{Kind: "llama"}.Build()
	require.Error(t, err)
}
