package client

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/inkwell/pkg/protocol"
	"github.com/vango-dev/inkwell/pkg/sequencer"
)

// Config configures a Client.
type Config struct {
	// URL is the room endpoint, e.g. ws://localhost:8080/ws/board.
	URL string

	// ProducerID identifies this client in the room. A UUID is generated
	// when empty.
	ProducerID string

	// DialTimeout bounds one connection attempt. Default: 10s.
	DialTimeout time.Duration

	// InitialBackoff is the delay before the first redial. Default: 200ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 5s.
	MaxBackoff time.Duration

	// MaxDialElapsed bounds the total time spent dialing. Default: 30s.
	MaxDialElapsed time.Duration

	// MaxRetries caps the number of redials. Zero retries until
	// MaxDialElapsed.
	MaxRetries uint64

	// WriteTimeout bounds each frame write. Default: 10s.
	WriteTimeout time.Duration

	// MaxMessageSize is the largest message accepted from the server. A
	// larger one ends the session. Default: one maximal frame.
	MaxMessageSize int64

	// TickInterval is how often sequencer deadlines are checked.
	// Default: 250ms.
	TickInterval time.Duration

	// CommandQueue is the size of the command channel. Default: 64.
	CommandQueue int

	// Sequencer configures the hosted sequencer. Its Logger defaults to
	// the client logger.
	Sequencer sequencer.Config

	// Renderer receives canvas updates. Default: a new render.Canvas.
	Renderer sequencer.Renderer

	// Dialer opens the WebSocket. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger receives client diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults and no URL.
func DefaultConfig() Config {
	return Config{
		DialTimeout:    10 * time.Second,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		MaxDialElapsed: 30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: protocol.FrameHeaderSize + protocol.MaxPayloadSize,
		TickInterval:   250 * time.Millisecond,
		CommandQueue:   64,
		Sequencer:      sequencer.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.MaxDialElapsed <= 0 {
		c.MaxDialElapsed = def.MaxDialElapsed
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.CommandQueue <= 0 {
		c.CommandQueue = def.CommandQueue
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sequencer.Logger == nil {
		c.Sequencer.Logger = c.Logger
	}
	return c
}
