package sequencer

import (
	"log/slog"
	"time"
)

// Config configures a Sequencer.
type Config struct {
	// RequestTimeout bounds how long an own undo or redo may stay
	// outstanding. Default: 5s.
	RequestTimeout time.Duration

	// AppendTimeout bounds how long a speculative stroke may wait for its
	// canonical echo before it is dropped. Default: 5s.
	AppendTimeout time.Duration

	// SnapshotTimeout bounds how long a snapshot request may stay
	// unanswered before the Sequencer fails. Default: 10s.
	SnapshotTimeout time.Duration

	// SnapshotRetry is the delay before re-sending a rate limited snapshot
	// request. Default: 1s.
	SnapshotRetry time.Duration

	// ConflictLogSize is the number of retained conflicts. Default: 64.
	ConflictLogSize int

	// OutcomeBuffer is the capacity of the outcome channel. Default: 64.
	OutcomeBuffer int

	// MaxPending caps the queue of out-of-order results. When exceeded the
	// queue is dropped and the canvas is rebuilt from a snapshot.
	// Default: 1024.
	MaxPending int

	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:  5 * time.Second,
		AppendTimeout:   5 * time.Second,
		SnapshotTimeout: 10 * time.Second,
		SnapshotRetry:   time.Second,
		ConflictLogSize: DefaultConflictLogSize,
		OutcomeBuffer:   64,
		MaxPending:      1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = def.AppendTimeout
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = def.SnapshotTimeout
	}
	if c.SnapshotRetry <= 0 {
		c.SnapshotRetry = def.SnapshotRetry
	}
	if c.ConflictLogSize <= 0 {
		c.ConflictLogSize = def.ConflictLogSize
	}
	if c.OutcomeBuffer <= 0 {
		c.OutcomeBuffer = def.OutcomeBuffer
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
