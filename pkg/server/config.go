package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/inkwell/pkg/protocol"
)

// ConnectionConfig holds configuration for individual WebSocket connections.
type ConnectionConfig struct {
	// ReadTimeout is the maximum time to wait for a message from the client.
	// Any inbound message, pongs included, extends it.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: one maximal frame.
	MaxMessageSize int64

	// ControlQueue is the size of the buffer for replies generated by the
	// read side. Default: 16.
	ControlQueue int
}

// DefaultConnectionConfig returns a ConnectionConfig with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    protocol.FrameHeaderSize + protocol.MaxPayloadSize,
		ControlQueue:      16,
	}
}

// Clone returns a copy of the ConnectionConfig.
func (c *ConnectionConfig) Clone() *ConnectionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func (c *ConnectionConfig) withDefaults() *ConnectionConfig {
	def := DefaultConnectionConfig()
	if c == nil {
		return def
	}
	c = c.Clone()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.ControlQueue <= 0 {
		c.ControlQueue = def.ControlQueue
	}
	return c
}

// Config holds configuration for the HTTP/WebSocket server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allows all origins.
	CheckOrigin func(r *http.Request) bool

	// Connection is the configuration for individual connections.
	// Default: DefaultConnectionConfig().
	Connection *ConnectionConfig

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// SnapshotRate is the sustained number of HTTP snapshot and canvas
	// requests per second, shared by all callers. Default: 10.
	SnapshotRate float64

	// SnapshotBurst is the number of HTTP snapshot and canvas requests
	// allowed at once. Default: 20.
	SnapshotBurst int

	// Gatherer serves /metrics. When nil /metrics returns 404.
	Gatherer prometheus.Gatherer

	// Logger receives server diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       func(*http.Request) bool { return true },
		Connection:        DefaultConnectionConfig(),
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		SnapshotRate:      10,
		SnapshotBurst:     20,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		c = def
	} else {
		clone := *c
		c = &clone
	}
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = def.CheckOrigin
	}
	c.Connection = c.Connection.withDefaults()
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if c.SnapshotRate <= 0 {
		c.SnapshotRate = def.SnapshotRate
	}
	if c.SnapshotBurst <= 0 {
		c.SnapshotBurst = def.SnapshotBurst
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
