// Package logging builds the process *slog.Logger on a charmbracelet/log
// handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error. Default: info.
	Level string

	// Format is text, json or logfmt. Default: text.
	Format string

	// Prefix is printed before every message, e.g. the command name.
	Prefix string

	// ReportTimestamp adds an RFC 3339 timestamp to every line.
	ReportTimestamp bool
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	if w == nil {
		w = io.Discard
	}

	levelName := strings.ToLower(strings.TrimSpace(opts.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, err := charmLog.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", opts.Level, err)
	}

	formatter, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	handler := charmLog.NewWithOptions(w, charmLog.Options{
		Level:           level,
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.ReportTimestamp,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	return slog.New(handler), nil
}

// ParseFormat maps a format name to a charmbracelet/log formatter.
func ParseFormat(name string) (charmLog.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text":
		return charmLog.TextFormatter, nil
	case "json":
		return charmLog.JSONFormatter, nil
	case "logfmt":
		return charmLog.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("unknown logging format %q", name)
	}
}
