package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/inkwell/pkg/relay"
	"github.com/vango-dev/inkwell/pkg/render"
)

func watchCmd(g *globals) *cobra.Command {
	var (
		redisAddr string
		roomID    string
		httpURL   string
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room read-only through the Redis relay",
		Long: `Follow a room read-only through the Redis relay.

The initial canvas is fetched from the room server over HTTP; every
later change arrives on the room's Redis channel. The visible stroke
ids are printed whenever the revision changes.

Examples:
  inkwell watch --redis=localhost:6379 --room=board --http=http://localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if redisAddr == "" {
				redisAddr = g.cfg.Redis.Addr
			}
			if redisAddr == "" || roomID == "" || httpURL == "" {
				return fmt.Errorf("watch: --redis, --room and --http are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			broker, err := relay.NewRedisBroker(ctx, redisAddr)
			if err != nil {
				return err
			}
			defer broker.Close()
			return runWatch(ctx, g, broker, roomID, httpURL, interval, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address (default from config)")
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "Room to follow")
	cmd.Flags().StringVar(&httpURL, "http", "", "Room server base URL, e.g. http://localhost:8080")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "How often to check for changes")

	return cmd
}

func runWatch(ctx context.Context, g *globals, broker relay.Broker, roomID, httpURL string, interval time.Duration, out io.Writer) error {
	canvas := render.NewCanvas()
	f, err := relay.NewFollower(broker, relay.FollowerConfig{
		RoomID:        roomID,
		SnapshotURL:   httpURL,
		ChannelPrefix: g.cfg.Redis.ChannelPrefix,
		Renderer:      canvas,
		Sequencer:     sequencerConfigFrom(g.cfg),
		Logger:        g.logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ticker.C:
			if rev := f.Revision(); rev != last {
				last = rev
				fmt.Fprintf(out, "revision %d: %s\n", rev, strings.Join(canvas.IDs(), " "))
			}
		}
	}
}
