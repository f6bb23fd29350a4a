package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/vango-dev/inkwell/pkg/protocol"
	"github.com/vango-dev/inkwell/pkg/render"
	"github.com/vango-dev/inkwell/pkg/sequencer"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// ErrReadOnly is returned when a follower is asked to mutate the room.
var ErrReadOnly = errors.New("relay: follower is read-only")

// FollowerConfig configures a Follower.
type FollowerConfig struct {
	// RoomID is the room to follow.
	RoomID string

	// SnapshotURL is the base URL of the room server,
	// e.g. http://localhost:8080.
	SnapshotURL string

	// ChannelPrefix must match the publisher's. Default: DefaultChannelPrefix.
	ChannelPrefix string

	// HTTPClient fetches snapshots. Default: a client with a 10s timeout.
	HTTPClient *http.Client

	// FetchElapsed bounds the retries of one snapshot fetch. Default: 5s.
	FetchElapsed time.Duration

	// TickInterval is how often sequencer deadlines are checked.
	// Default: 250ms.
	TickInterval time.Duration

	// Renderer receives canvas updates. Default: a new render.Canvas.
	Renderer sequencer.Renderer

	// Sequencer configures the hosted sequencer.
	Sequencer sequencer.Config

	// Logger receives follower diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

func (c FollowerConfig) withDefaults() FollowerConfig {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = DefaultChannelPrefix
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.FetchElapsed <= 0 {
		c.FetchElapsed = 5 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.Renderer == nil {
		c.Renderer = render.NewCanvas()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sequencer.Logger == nil {
		c.Sequencer.Logger = c.Logger
	}
	return c
}

// Follower is a read-only spectator of one room. It never sends requests to
// the room; snapshots come from the HTTP endpoint and results from the
// mirror channel.
type Follower struct {
	config  FollowerConfig
	broker  Broker
	seq     *sequencer.Sequencer
	logger  *slog.Logger
	inbound chan protocol.Message

	// fetchCtx scopes snapshot fetches to the current Run.
	fetchCtx context.Context

	revision atomic.Uint64
	applied  atomic.Uint64
}

// NewFollower creates a Follower for config.RoomID.
func NewFollower(broker Broker, config FollowerConfig) (*Follower, error) {
	config = config.withDefaults()
	if strings.TrimSpace(config.RoomID) == "" {
		return nil, ierrors.ErrRoomNotFound.WithDetail("empty room id")
	}
	if _, err := url.Parse(config.SnapshotURL); err != nil || config.SnapshotURL == "" {
		return nil, fmt.Errorf("relay: invalid snapshot url %q", config.SnapshotURL)
	}

	f := &Follower{
		config:   config,
		broker:   broker,
		logger:   config.Logger.With("component", "relay_follower", "room", config.RoomID),
		inbound:  make(chan protocol.Message, 16),
		fetchCtx: context.Background(),
	}
	f.seq = sequencer.New("spectator", followerTransport{f}, config.Renderer, config.Sequencer)
	return f, nil
}

// Renderer returns the renderer the follower draws into.
func (f *Follower) Renderer() sequencer.Renderer { return f.config.Renderer }

// Revision returns the last revision applied by Run.
func (f *Follower) Revision() uint64 { return f.revision.Load() }

// Applied returns the number of mirrored frames handled.
func (f *Follower) Applied() uint64 { return f.applied.Load() }

// Run subscribes to the room channel, loads the initial snapshot and follows
// the room until ctx is done, the subscription ends or recovery fails.
func (f *Follower) Run(ctx context.Context) error {
	sub, err := f.broker.Subscribe(ctx, Channel(f.config.ChannelPrefix, f.config.RoomID))
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.fetchCtx = ctx

	// Subscribe first so no result published after the snapshot is missed.
	if err := f.seq.Resync(); err != nil {
		return err
	}

	ticker := time.NewTicker(f.config.TickInterval)
	defer ticker.Stop()

	messages := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data, ok := <-messages:
			if !ok {
				return ErrBrokerClosed
			}
			f.handleFrame(data)

		case msg := <-f.inbound:
			f.seq.Handle(msg)

		case now := <-ticker.C:
			f.seq.Tick(now)
		}

		if err := f.seq.Failed(); err != nil {
			return err
		}
		f.revision.Store(f.seq.Revision())
	}
}

func (f *Follower) handleFrame(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		f.logger.Warn("mirror frame decode error", "error", err)
		return
	}
	if !frame.Flags.Has(protocol.FlagMirrored) {
		f.logger.Debug("unmirrored frame on relay channel", "type", frame.Type)
	}
	msg, err := protocol.DecodeFrameMessage(frame)
	if err != nil {
		f.logger.Warn("mirror message decode error", "error", err)
		return
	}
	f.applied.Add(1)
	if err := f.seq.Handle(msg); err != nil && f.seq.Failed() == nil {
		f.logger.Warn("mirror message ignored", "type", frame.Type, "error", err)
	}
}

// fetchSnapshot loads the room snapshot and queues it, or a snapshot error,
// for the run loop.
func (f *Follower) fetchSnapshot(ctx context.Context, requestID uint64) {
	var snap *protocol.Snapshot
	attempt := func() error {
		s, err := f.getSnapshot(ctx)
		if err != nil {
			return err
		}
		snap = s
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = f.config.FetchElapsed
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("snapshot fetch failed, retrying", "error", err, "retry_in", wait)
	}

	var msg protocol.Message
	if err := backoff.RetryNotify(attempt, backoff.WithContext(eb, ctx), notify); err != nil {
		msg = protocol.NewError(requestID, protocol.RequestSnapshot, err)
	} else {
		snap.RequestID = requestID
		msg = snap
	}

	select {
	case f.inbound <- msg:
	case <-ctx.Done():
	}
}

func (f *Follower) getSnapshot(ctx context.Context) (*protocol.Snapshot, error) {
	target := strings.TrimRight(f.config.SnapshotURL, "/") + "/rooms/" + url.PathEscape(f.config.RoomID) + "?format=frame"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// No member has joined yet, or the last one left: the room has no
		// history and no epoch.
		return &protocol.Snapshot{RoomID: f.config.RoomID, Cursor: -1}, nil
	default:
		return nil, fmt.Errorf("relay: snapshot %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, protocol.FrameHeaderSize+protocol.MaxPayloadSize))
	if err != nil {
		return nil, err
	}
	msg, err := protocol.Decode(body)
	if err != nil {
		return nil, err
	}
	snap, ok := msg.(*protocol.Snapshot)
	if !ok {
		return nil, fmt.Errorf("relay: snapshot endpoint returned %T", msg)
	}
	return snap, nil
}

// followerTransport answers snapshot requests over HTTP and rejects
// everything else.
type followerTransport struct {
	f *Follower
}

func (t followerTransport) Send(m protocol.Message) error {
	req, ok := m.(*protocol.SnapshotRequest)
	if !ok {
		return ErrReadOnly
	}
	go t.f.fetchSnapshot(t.f.fetchCtx, req.RequestID)
	return nil
}
