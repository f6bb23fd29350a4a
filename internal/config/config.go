package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

const (
	// DefaultFileName is the configuration file looked up by the CLI.
	DefaultFileName = "inkwell.toml"

	// DefaultAddress is the default listen address of the room server.
	DefaultAddress = ":8080"

	// DefaultMaxEntries is the default per-room history cap.
	DefaultMaxEntries = 500

	// DefaultChannelPrefix prefixes the relay channel of each room.
	DefaultChannelPrefix = "inkwell:room:"
)

// Duration is a time.Duration written as a string ("30s", "1m30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete inkwell.toml configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	History HistoryConfig `toml:"history"`
	Room    RoomConfig    `toml:"room"`
	Client  ClientConfig  `toml:"client"`
	Redis   RedisConfig   `toml:"redis"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Address           string   `toml:"address"`
	ReadTimeout       Duration `toml:"read_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`

	// SnapshotRate and SnapshotBurst limit the HTTP snapshot and canvas
	// endpoints across all callers.
	SnapshotRate  float64 `toml:"snapshot_rate"`
	SnapshotBurst int     `toml:"snapshot_burst"`
}

// HistoryConfig configures each room's history.
type HistoryConfig struct {
	// MaxEntries caps stored entries; the oldest are evicted beyond it.
	MaxEntries int `toml:"max_entries"`
}

// RoomConfig configures the room coordinator.
type RoomConfig struct {
	OutboxSize    int     `toml:"outbox_size"`
	SnapshotRate  float64 `toml:"snapshot_rate"`
	SnapshotBurst int     `toml:"snapshot_burst"`
}

// ClientConfig configures interactive clients and spectators.
type ClientConfig struct {
	RequestTimeout  Duration `toml:"request_timeout"`
	AppendTimeout   Duration `toml:"append_timeout"`
	SnapshotTimeout Duration `toml:"snapshot_timeout"`
	MaxBackoff      Duration `toml:"max_backoff"`
	MaxDialElapsed  Duration `toml:"max_dial_elapsed"`
}

// RedisConfig configures the optional cross-process relay. The relay is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	ChannelPrefix string `toml:"channel_prefix"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // text | json | logfmt
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:           DefaultAddress,
			ReadTimeout:       Duration(60 * time.Second),
			WriteTimeout:      Duration(10 * time.Second),
			HeartbeatInterval: Duration(30 * time.Second),
			ShutdownTimeout:   Duration(30 * time.Second),
			SnapshotRate:      10,
			SnapshotBurst:     20,
		},
		History: HistoryConfig{
			MaxEntries: DefaultMaxEntries,
		},
		Room: RoomConfig{
			OutboxSize:    256,
			SnapshotRate:  1,
			SnapshotBurst: 3,
		},
		Client: ClientConfig{
			RequestTimeout:  Duration(5 * time.Second),
			AppendTimeout:   Duration(5 * time.Second),
			SnapshotTimeout: Duration(10 * time.Second),
			MaxBackoff:      Duration(5 * time.Second),
			MaxDialElapsed:  Duration(30 * time.Second),
		},
		Redis: RedisConfig{
			ChannelPrefix: DefaultChannelPrefix,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over defaults. An empty path, a missing file or an empty
// file yields defaults unchanged.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, ierrors.ErrInvalidConfig.WithDetail("decode %s", path).Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return invalid("server.address is required")
	}
	for _, f := range []struct {
		name string
		d    Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.heartbeat_interval", c.Server.HeartbeatInterval},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"client.request_timeout", c.Client.RequestTimeout},
		{"client.append_timeout", c.Client.AppendTimeout},
		{"client.snapshot_timeout", c.Client.SnapshotTimeout},
		{"client.max_backoff", c.Client.MaxBackoff},
		{"client.max_dial_elapsed", c.Client.MaxDialElapsed},
	} {
		if f.d < 0 {
			return invalid("%s must be >= 0", f.name)
		}
	}
	if c.Server.HeartbeatInterval > 0 && c.Server.ReadTimeout > 0 &&
		c.Server.HeartbeatInterval >= c.Server.ReadTimeout {
		return invalid("server.heartbeat_interval must be shorter than server.read_timeout")
	}
	if c.Server.SnapshotRate < 0 {
		return invalid("server.snapshot_rate must be >= 0")
	}
	if c.Server.SnapshotBurst < 0 {
		return invalid("server.snapshot_burst must be >= 0")
	}
	if c.History.MaxEntries < 1 {
		return invalid("history.max_entries must be >= 1")
	}
	if c.Room.OutboxSize < 0 {
		return invalid("room.outbox_size must be >= 0")
	}
	if c.Room.SnapshotRate < 0 {
		return invalid("room.snapshot_rate must be >= 0")
	}
	if c.Room.SnapshotBurst < 0 {
		return invalid("room.snapshot_burst must be >= 0")
	}
	if c.Redis.Addr != "" && strings.TrimSpace(c.Redis.ChannelPrefix) == "" {
		return invalid("redis.channel_prefix is required when redis.addr is set")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("invalid logging.level: %q", c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json", "logfmt":
	default:
		return invalid("invalid logging.format: %q", c.Logging.Format)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return ierrors.ErrInvalidConfig.WithDetail(format, args...)
}
