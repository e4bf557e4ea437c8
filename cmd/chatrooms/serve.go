package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/config"
	"github.com/go-go-golems/chatrooms/pkg/persistence/roomstore"
	"github.com/go-go-golems/chatrooms/pkg/redisstream"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
	"github.com/go-go-golems/chatrooms/pkg/webchat"
)

func newServeCommand(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat rooms HTTP API and websocket feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, st.settings)
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "HTTP listen address")
	f.String("store", roomstore.BackendMemory, "room store backend (memory, sqlite, redis, badger)")
	f.String("sqlite-path", "", "sqlite database file for the sqlite backend")
	f.String("provider", config.ProviderAuto, "completion provider (auto, geppetto, openai, echo)")
	f.Bool("redis-events", false, "carry room events over Redis Streams")
	for flag, key := range map[string]string{
		"addr":         "http.addr",
		"store":        "store.backend",
		"sqlite-path":  "store.sqlite-path",
		"provider":     "provider.kind",
		"redis-events": "events.redis-enabled",
	} {
		cobra.CheckErr(viper.BindPFlag(key, f.Lookup(flag)))
	}
	return cmd
}

type app struct {
	store  rooms.Store
	pubsub *redisstream.PubSub
	chat   *chat.Service
	server *webchat.Server
}

func buildApp(ctx context.Context, s *config.Settings) (*app, error) {
	if s == nil {
		return nil, errors.New("settings not loaded")
	}
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.store, err = roomstore.Open(ctx, s.Store)
	if err != nil {
		return nil, errors.Wrap(err, "open room store")
	}

	prov, err := s.Provider.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build provider")
	}
	log.Info().Str("provider", s.Provider.ResolvedKind()).Msg("completion provider ready")

	budget, err := chat.NewTokenBudget(s.Chat.Encoding, s.Chat.MaxPromptTokens)
	if err != nil {
		return nil, err
	}

	a.pubsub, err = redisstream.BuildPubSub(s.Events.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "build event transport")
	}
	if err := redisstream.EnsureGroupAtTail(ctx, s.Events.Redis, s.Events.Topic); err != nil {
		return nil, err
	}

	a.chat, err = chat.NewService(chat.ServiceConfig{
		Store:           a.store,
		Provider:        prov,
		Events:          chat.NewWatermillPublisher(a.pubsub.Publisher, s.Events.Topic),
		Budget:          budget,
		ProviderTimeout: s.Provider.Timeout,
	})
	if err != nil {
		return nil, err
	}

	hub, err := webchat.NewStreamHub(webchat.StreamHubConfig{
		Subscriber:  a.pubsub.Subscriber,
		Topic:       s.Events.Topic,
		IdleTimeout: s.HTTP.WSIdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	router, err := webchat.NewRouter(webchat.RouterConfig{
		Chat:           a.chat,
		Hub:            hub,
		AllowedOrigins: s.HTTP.AllowedOrigins,
	})
	if err != nil {
		return nil, err
	}
	a.server, err = webchat.NewServer(webchat.ServerConfig{
		Addr:            s.HTTP.Addr,
		Router:          router,
		ShutdownTimeout: s.HTTP.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			log.Warn().Err(err).Msg("close event transport")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("close room store")
		}
	}
}

func runServe(ctx context.Context, s *config.Settings) error {
	a, err := buildApp(ctx, s)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.server.Run(ctx)
}
