// Package redisstream builds the watermill publisher/subscriber pair that carries room events:
// an in-process channel by default, Redis Streams when enabled.
package redisstream

// Settings holds Redis Streams transport configuration for watermill.
type Settings struct {
	Enabled  bool   `mapstructure:"redis-enabled" yaml:"redis-enabled"`
	Addr     string `mapstructure:"redis-addr" yaml:"redis-addr" validate:"required_if=Enabled true"`
	Group    string `mapstructure:"redis-group" yaml:"redis-group"`
	Consumer string `mapstructure:"redis-consumer" yaml:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "chatrooms-ws",
		Consumer: "ws-1",
	}
}
