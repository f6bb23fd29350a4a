package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/inkwell/internal/config"
	"github.com/vango-dev/inkwell/pkg/relay"
	"github.com/vango-dev/inkwell/pkg/room"
	"github.com/vango-dev/inkwell/pkg/server"
)

func serveCmd(g *globals) *cobra.Command {
	var (
		addr       string
		maxHistory int
		redisAddr  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room server",
		Long: `Run the room server.

Clients connect to /ws/{room}. Rooms are created on the first join
and destroyed when the last member leaves. With --redis every
broadcast is mirrored on a Redis channel for spectators.

Examples:
  inkwell serve
  inkwell serve --addr=:9000 --max-history=200
  inkwell serve --redis=localhost:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			if addr != "" {
				cfg.Server.Address = addr
			}
			if maxHistory > 0 {
				cfg.History.MaxEntries = maxHistory
			}
			if redisAddr != "" {
				cfg.Redis.Addr = redisAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, g.logger)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default from config)")
	cmd.Flags().IntVar(&maxHistory, "max-history", 0, "Maximum history entries per room (default from config)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for the broadcast relay (default from config)")

	return cmd
}

// serveStack is the wired server with its optional relay.
type serveStack struct {
	server    *server.Server
	publisher *relay.Publisher
	broker    *relay.RedisBroker
}

func (s *serveStack) close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.broker != nil {
		s.broker.Close()
	}
}

func newServeStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*serveStack, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stack := &serveStack{}
	roomConfig := roomConfigFrom(cfg, reg, logger)

	if cfg.Redis.Addr != "" {
		broker, err := relay.NewRedisBroker(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		stack.broker = broker
		stack.publisher = relay.NewPublisher(broker, &relay.PublisherConfig{
			ChannelPrefix: cfg.Redis.ChannelPrefix,
			Registerer:    reg,
			Logger:        logger,
		})
		roomConfig.Mirror = stack.publisher
		logger.Info("relay enabled", "redis", cfg.Redis.Addr, "prefix", cfg.Redis.ChannelPrefix)
	}

	stack.server = server.New(room.NewRegistry(roomConfig), serverConfigFrom(cfg, reg, logger))
	return stack, nil
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	stack, err := newServeStack(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer stack.close()
	return stack.server.Run(ctx)
}

func roomConfigFrom(cfg config.Config, reg prometheus.Registerer, logger *slog.Logger) *room.Config {
	rc := room.DefaultConfig()
	rc.MaxHistory = cfg.History.MaxEntries
	rc.OutboxSize = cfg.Room.OutboxSize
	rc.SnapshotRate = cfg.Room.SnapshotRate
	rc.SnapshotBurst = cfg.Room.SnapshotBurst
	rc.Registerer = reg
	rc.Logger = logger
	return rc
}

func serverConfigFrom(cfg config.Config, gatherer prometheus.Gatherer, logger *slog.Logger) *server.Config {
	sc := server.DefaultConfig()
	sc.Address = cfg.Server.Address
	sc.ShutdownTimeout = cfg.Server.ShutdownTimeout.Std()
	sc.Connection.ReadTimeout = cfg.Server.ReadTimeout.Std()
	sc.Connection.WriteTimeout = cfg.Server.WriteTimeout.Std()
	sc.Connection.HeartbeatInterval = cfg.Server.HeartbeatInterval.Std()
	sc.SnapshotRate = cfg.Server.SnapshotRate
	sc.SnapshotBurst = cfg.Server.SnapshotBurst
	sc.Gatherer = gatherer
	sc.Logger = logger
	return sc
}
