package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/inkwell/pkg/action"
	"github.com/vango-dev/inkwell/pkg/protocol"
	"github.com/vango-dev/inkwell/pkg/render"
	"github.com/vango-dev/inkwell/pkg/sequencer"
)

var (
	// ErrClosed is returned by commands after Close.
	ErrClosed = errors.New("client: closed")

	// ErrServerClosed reports that the server ended the session.
	ErrServerClosed = errors.New("client: server closed the connection")
)

// Status is a point-in-time view of the hosted sequencer.
type Status struct {
	ProducerID       string
	State            sequencer.State
	Revision         uint64
	LastAppliedIndex int64
	Active           int
	Speculative      int
	Pending          int
	Syncing          bool
	Conflicts        uint64
	Failed           error
}

type command struct {
	fn   func(*sequencer.Sequencer)
	done chan struct{}
}

// Client is a connected room participant.
type Client struct {
	config    Config
	conn      *websocket.Conn
	seq       *sequencer.Sequencer
	renderer  sequencer.Renderer
	transport *wsTransport
	logger    *slog.Logger

	commands chan command
	inbound  chan protocol.Message
	stop     chan struct{}
	done     chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

// Dial connects to config.URL, retrying with exponential backoff, and starts
// the event loop.
func Dial(ctx context.Context, config Config) (*Client, error) {
	config = config.withDefaults()
	if config.ProducerID == "" {
		config.ProducerID = uuid.NewString()
	}
	target, err := endpoint(config.URL, config.ProducerID)
	if err != nil {
		return nil, err
	}

	logger := config.Logger.With("component", "client", "producer", config.ProducerID)
	conn, err := dial(ctx, config, target, logger)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(config.MaxMessageSize)

	renderer := config.Renderer
	if renderer == nil {
		renderer = render.NewCanvas()
	}
	t := &wsTransport{conn: conn, timeout: config.WriteTimeout}
	c := &Client{
		config:    config,
		conn:      conn,
		seq:       sequencer.New(config.ProducerID, t, renderer, config.Sequencer),
		renderer:  renderer,
		transport: t,
		logger:    logger,
		commands:  make(chan command, config.CommandQueue),
		inbound:   make(chan protocol.Message, config.CommandQueue),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	go c.loop()
	logger.Info("connected", "url", target)
	return c, nil
}

// endpoint adds the producer query parameter to raw.
func endpoint(raw, producerID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("client: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("client: url scheme must be ws or wss, got %q", u.Scheme)
	}
	q := u.Query()
	q.Set("producer", producerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dial(ctx context.Context, config Config, target string, logger *slog.Logger) (*websocket.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = config.InitialBackoff
	eb.MaxInterval = config.MaxBackoff
	eb.MaxElapsedTime = config.MaxDialElapsed

	var policy backoff.BackOff = eb
	if config.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(eb, config.MaxRetries)
	}

	var conn *websocket.Conn
	attempt := func() error {
		dctx, cancel := context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
		c, resp, err := config.Dialer.DialContext(dctx, target, nil)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("dial failed, retrying", "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", target, err)
	}
	return conn, nil
}

// ProducerID returns the producer id the client draws as.
func (c *Client) ProducerID() string { return c.config.ProducerID }

// Renderer returns the renderer fed by the sequencer.
func (c *Client) Renderer() sequencer.Renderer { return c.renderer }

// Outcomes returns the channel of own request outcomes.
func (c *Client) Outcomes() <-chan sequencer.Outcome { return c.seq.Outcomes() }

// Done is closed when the event loop has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the client stopped, or nil while it runs.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Draw renders kind speculatively and sends it to the room.
func (c *Client) Draw(ctx context.Context, kind action.Kind) (action.Action, error) {
	var (
		a   action.Action
		err error
	)
	if doErr := c.do(ctx, func(s *sequencer.Sequencer) { a, err = s.Draw(kind) }); doErr != nil {
		return action.Action{}, doErr
	}
	return a, err
}

// Undo asks the room to undo its newest action.
func (c *Client) Undo(ctx context.Context) (uint64, error) {
	return c.request(ctx, (*sequencer.Sequencer).Undo)
}

// Redo asks the room to redo its oldest undone action.
func (c *Client) Redo(ctx context.Context) (uint64, error) {
	return c.request(ctx, (*sequencer.Sequencer).Redo)
}

// Clear asks the room to clear the canvas.
func (c *Client) Clear(ctx context.Context) (uint64, error) {
	return c.request(ctx, (*sequencer.Sequencer).Clear)
}

func (c *Client) request(ctx context.Context, fn func(*sequencer.Sequencer) (uint64, error)) (uint64, error) {
	var (
		id  uint64
		err error
	)
	if doErr := c.do(ctx, func(s *sequencer.Sequencer) { id, err = fn(s) }); doErr != nil {
		return 0, doErr
	}
	return id, err
}

// Resync requests a snapshot and rebuilds the canvas from it.
func (c *Client) Resync(ctx context.Context) error {
	var err error
	if doErr := c.do(ctx, func(s *sequencer.Sequencer) { err = s.Resync() }); doErr != nil {
		return doErr
	}
	return err
}

// Status returns the sequencer state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, func(s *sequencer.Sequencer) {
		st = Status{
			ProducerID:       s.ProducerID(),
			State:            s.State(),
			Revision:         s.Revision(),
			LastAppliedIndex: s.LastAppliedIndex(),
			Active:           len(s.Active()),
			Speculative:      len(s.Speculative()),
			Pending:          s.Pending(),
			Syncing:          s.Syncing(),
			Conflicts:        s.ConflictCount(),
			Failed:           s.Failed(),
		}
	})
	return st, err
}

// Active returns a copy of the local mirror of the room's active slice.
func (c *Client) Active(ctx context.Context) ([]action.Action, error) {
	var out []action.Action
	err := c.do(ctx, func(s *sequencer.Sequencer) { out = s.Active() })
	return out, err
}

// Conflicts returns the retained conflict log.
func (c *Client) Conflicts(ctx context.Context) ([]sequencer.Conflict, error) {
	var out []sequencer.Conflict
	err := c.do(ctx, func(s *sequencer.Sequencer) { out = s.Conflicts() })
	return out, err
}

// do runs fn on the event loop and waits for it.
func (c *Client) do(ctx context.Context, fn func(*sequencer.Sequencer)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return c.stoppedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-c.done:
		return c.stoppedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) stoppedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// Close sends a close notice, stops the event loop and closes the socket.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

func (c *Client) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.logger.Error("server message too large", "limit", c.config.MaxMessageSize)
				return
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("frame decode error", "error", err)
			continue
		}
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) loop() {
	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.inbound:
			if !ok {
				c.finish(fmt.Errorf("%w: connection lost", ErrServerClosed))
				return
			}
			if stop := c.handle(msg); stop {
				return
			}

		case cmd := <-c.commands:
			cmd.fn(c.seq)
			close(cmd.done)
			if err := c.seq.Failed(); err != nil {
				c.finish(err)
				return
			}

		case now := <-ticker.C:
			c.seq.Tick(now)
			if err := c.seq.Failed(); err != nil {
				c.finish(err)
				return
			}

		case <-c.stop:
			if err := c.transport.Send(&protocol.Close{Reason: protocol.CloseNormal, Message: "client closing"}); err != nil {
				c.logger.Debug("close notice not sent", "error", err)
			}
			c.finish(ErrClosed)
			return
		}
	}
}

// handle processes one inbound message and reports whether the loop must
// stop.
func (c *Client) handle(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.Ping:
		if err := c.transport.Send(&protocol.Pong{Timestamp: m.Timestamp}); err != nil {
			c.logger.Warn("pong failed", "error", err)
		}
		return false
	case *protocol.Pong:
		return false
	case *protocol.Close:
		c.logger.Info("server closing", "reason", m.Reason, "message", m.Message)
		c.finish(fmt.Errorf("%w: %s", ErrServerClosed, m.Reason))
		return true
	}

	if err := c.seq.Handle(msg); err != nil {
		if failed := c.seq.Failed(); failed != nil {
			c.finish(failed)
			return true
		}
		c.logger.Warn("message ignored", "type", msg.FrameType(), "error", err)
	}
	return false
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.config.WriteTimeout))
	c.conn.Close()
	close(c.done)
	c.logger.Info("client stopped", "reason", err)
}

// wsTransport writes frames to the socket. Only the event loop calls Send.
type wsTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (t *wsTransport) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}
