package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/inkwell/internal/config"
	"github.com/vango-dev/inkwell/pkg/client"
	"github.com/vango-dev/inkwell/pkg/render"
	"github.com/vango-dev/inkwell/pkg/sequencer"
)

func drawCmd(g *globals) *cobra.Command {
	var (
		url      string
		producer string
	)

	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Join a room and draw from the terminal",
		Long: `Join a room and draw from the terminal.

Reads one command per line from stdin:

` + replHelp + `

Examples:
  inkwell draw --url ws://localhost:8080/ws/board
  echo "line 0,0 10,10 --color #f00" | inkwell draw --url ws://localhost:8080/ws/board`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return fmt.Errorf("draw: --url is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDraw(ctx, g, url, producer, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Room endpoint, e.g. ws://localhost:8080/ws/board")
	cmd.Flags().StringVarP(&producer, "producer", "p", "", "Producer id (default: random UUID)")

	return cmd
}

func runDraw(ctx context.Context, g *globals, url, producer string, in io.Reader, out io.Writer) error {
	out = &lockedWriter{w: out}
	canvas := render.NewCanvas()
	cc := clientConfigFrom(g.cfg)
	cc.URL = url
	cc.ProducerID = producer
	cc.Renderer = canvas
	cc.Logger = g.logger

	c, err := client.Dial(ctx, cc)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintf(out, "joined as %s\n", c.ProducerID())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-c.Done()
		cancel()
	}()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printOutcomes(ctx, c.Outcomes(), out)
	}()
	defer func() {
		cancel()
		<-printed
	}()

	r := &repl{client: c, canvas: canvas, out: out}
	if err := r.run(ctx, in); err != nil && ctx.Err() == nil {
		return err
	}
	if err := c.Err(); err != nil && !errors.Is(err, client.ErrClosed) {
		return err
	}
	return nil
}

func printOutcomes(ctx context.Context, outcomes <-chan sequencer.Outcome, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			if o.OK() {
				fmt.Fprintf(out, "%s #%d ok (revision %d)\n", o.Request, o.RequestID, o.Revision)
				continue
			}
			fmt.Fprintf(out, "%s #%d failed: %v\n", o.Request, o.RequestID, o.Err)
		}
	}
}

func clientConfigFrom(cfg config.Config) client.Config {
	cc := client.DefaultConfig()
	cc.MaxBackoff = cfg.Client.MaxBackoff.Std()
	cc.MaxDialElapsed = cfg.Client.MaxDialElapsed.Std()
	cc.Sequencer = sequencerConfigFrom(cfg)
	return cc
}

func sequencerConfigFrom(cfg config.Config) sequencer.Config {
	sc := sequencer.DefaultConfig()
	sc.RequestTimeout = cfg.Client.RequestTimeout.Std()
	sc.AppendTimeout = cfg.Client.AppendTimeout.Std()
	sc.SnapshotTimeout = cfg.Client.SnapshotTimeout.Std()
	return sc
}

// lockedWriter serializes writes from the REPL and the outcome printer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
