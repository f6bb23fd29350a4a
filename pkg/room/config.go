package room

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/inkwell/pkg/history"
	"github.com/vango-dev/inkwell/pkg/protocol"
)

// Config configures a Registry.
type Config struct {
	// MaxHistory caps the entries of each room's history.
	// Default: 500.
	MaxHistory int

	// SnapshotBudget caps the encoded size of each room's stored actions so
	// that a snapshot always fits in one frame. Oldest entries are evicted
	// first. Default: protocol.SnapshotBudget.
	SnapshotBudget int

	// OutboxSize is the number of frames buffered per member. A member
	// whose outbox overflows is disconnected. Default: 256.
	OutboxSize int

	// SnapshotRate is the sustained number of snapshot requests per second
	// allowed per member. Default: 1.
	SnapshotRate float64

	// SnapshotBurst is the number of snapshot requests a member may issue at
	// once. Default: 3.
	SnapshotBurst int

	// Mirror receives every broadcast frame after fan-out. Optional.
	Mirror Mirror

	// Registerer receives the room metrics. When nil the metrics are kept in
	// a private registry.
	Registerer prometheus.Registerer

	// Namespace is the metrics namespace. Default: "inkwell".
	Namespace string

	// TracerName names the OpenTelemetry tracer. Default: "inkwell/room".
	TracerName string

	// Logger receives room lifecycle and drop diagnostics.
	Logger *slog.Logger

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxHistory:     history.DefaultMaxEntries,
		SnapshotBudget: protocol.SnapshotBudget,
		OutboxSize:     256,
		SnapshotRate:   1,
		SnapshotBurst:  3,
		Namespace:      "inkwell",
		TracerName:     "inkwell/room",
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return DefaultConfig()
	}
	clone := *c
	return &clone
}

func (c *Config) withDefaults() *Config {
	c = c.Clone()
	def := DefaultConfig()
	if c.MaxHistory <= 0 {
		c.MaxHistory = def.MaxHistory
	}
	if c.SnapshotBudget <= 0 || c.SnapshotBudget > protocol.SnapshotBudget {
		c.SnapshotBudget = def.SnapshotBudget
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = def.OutboxSize
	}
	if c.SnapshotRate <= 0 {
		c.SnapshotRate = def.SnapshotRate
	}
	if c.SnapshotBurst <= 0 {
		c.SnapshotBurst = def.SnapshotBurst
	}
	if c.Namespace == "" {
		c.Namespace = def.Namespace
	}
	if c.TracerName == "" {
		c.TracerName = def.TracerName
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
