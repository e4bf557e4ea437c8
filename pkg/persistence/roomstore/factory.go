package roomstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Backends lists the accepted values of Settings.Backend.
var Backends = []string{BackendMemory, BackendSQLite, BackendRedis, BackendBadger}

// Settings selects and configures a room store backend.
type Settings struct {
	Backend          string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory sqlite redis badger"`
	SQLitePath       string `mapstructure:"sqlite-path" yaml:"sqlite-path" validate:"required_if=Backend sqlite"`
	RedisAddr        string `mapstructure:"redis-addr" yaml:"redis-addr" validate:"required_if=Backend redis"`
	RedisKeyPrefix   string `mapstructure:"redis-key-prefix" yaml:"redis-key-prefix"`
	BadgerDir        string `mapstructure:"badger-dir" yaml:"badger-dir"`
	SeedSystemPrompt string `mapstructure:"seed-system-prompt" yaml:"seed-system-prompt"`
}

// Open builds the store described by s. An empty backend means memory.
func Open(ctx context.Context, s Settings) (rooms.Store, error) {
	opts := rooms.Options{SeedSystemPrompt: s.SeedSystemPrompt}
	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	logger := log.With().Str("component", "roomstore").Str("backend", backend).Logger()

	switch backend {
	case "", BackendMemory:
		logger.Info().Msg("using in-memory room store")
		return rooms.NewInMemoryStore(opts), nil

	case BackendSQLite:
		if dir := filepath.Dir(s.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create sqlite directory")
			}
		}
		dsn, err := SQLiteDSNForFile(s.SQLitePath)
		if err != nil {
			return nil, err
		}
		st, err := NewSQLiteStore(dsn, opts)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", s.SQLitePath).Msg("opened sqlite room store")
		return st, nil

	case BackendRedis:
		st, err := NewRedisStore(ctx, RedisConfig{Addr: s.RedisAddr, KeyPrefix: s.RedisKeyPrefix}, opts)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("addr", s.RedisAddr).Msg("connected redis room store")
		return st, nil

	case BackendBadger:
		st, err := NewBadgerStore(s.BadgerDir, opts)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("dir", s.BadgerDir).Bool("in_memory", s.BadgerDir == "").Msg("opened badger room store")
		return st, nil

	default:
		return nil, errors.Wrapf(rooms.ErrInvalidArgument, "unknown room store backend %q, want one of %s", s.Backend, strings.Join(Backends, ", "))
	}
}
