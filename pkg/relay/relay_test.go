package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-dev/inkwell/pkg/action"
	"github.com/vango-dev/inkwell/pkg/protocol"
	"github.com/vango-dev/inkwell/pkg/render"
	"github.com/vango-dev/inkwell/pkg/room"
	"github.com/vango-dev/inkwell/pkg/server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func appendReq(id string) *protocol.AppendRequest {
	return &protocol.AppendRequest{Action: action.Action{ID: id, Kind: action.Stroke{
		Tool:   action.ToolMarker,
		Points: []action.Point{{X: 1, Y: 1}},
		Color:  "#0f0",
		Width:  3,
	}}}
}

func TestMemoryBroker(t *testing.T) {
	b := NewMemoryBroker(4)
	ctx := context.Background()

	s1, _ := b.Subscribe(ctx, "a")
	s2, _ := b.Subscribe(ctx, "b")
	b.Publish(ctx, "a", []byte("one"))

	select {
	case got := <-s1.Messages():
		if string(got) != "one" {
			t.Errorf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber on a got nothing")
	}
	select {
	case got := <-s2.Messages():
		t.Errorf("subscriber on b got %q", got)
	default:
	}

	s1.Close()
	if _, ok := <-s1.Messages(); ok {
		t.Error("expected closed subscription")
	}
	s1.Close()

	b.Close()
	if _, ok := <-s2.Messages(); ok {
		t.Error("expected broker close to end subscriptions")
	}
	if err := b.Publish(ctx, "a", nil); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("Publish after Close = %v", err)
	}
}

func TestMemoryBroker_SlowSubscriberLoses(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx := context.Background()
	s, _ := b.Subscribe(ctx, "a")
	b.Publish(ctx, "a", []byte("1"))
	b.Publish(ctx, "a", []byte("2"))

	if got := <-s.Messages(); string(got) != "1" {
		t.Errorf("got %q", got)
	}
	select {
	case got := <-s.Messages():
		t.Errorf("expected second message dropped, got %q", got)
	default:
	}
}

func TestPublisher_SetsMirroredFlag(t *testing.T) {
	b := NewMemoryBroker(8)
	reg := prometheus.NewRegistry()
	p := NewPublisher(b, &PublisherConfig{Registerer: reg, Logger: discardLogger()})
	sub, _ := b.Subscribe(context.Background(), Channel(DefaultChannelPrefix, "board"))

	frame, err := protocol.Encode(&protocol.Ping{Timestamp: 7})
	if err != nil {
		t.Fatal(err)
	}
	original := append([]byte(nil), frame...)
	p.Publish("board", frame)
	p.Publish("board", []byte{1})
	p.Close()

	if string(frame) != string(original) {
		t.Error("caller's frame was modified")
	}
	got := <-sub.Messages()
	f, err := protocol.DecodeFrame(got)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Flags.Has(protocol.FlagMirrored) {
		t.Error("expected mirrored flag")
	}
	msg, err := protocol.DecodeFrameMessage(f)
	if err != nil {
		t.Fatal(err)
	}
	if ping, ok := msg.(*protocol.Ping); !ok || ping.Timestamp != 7 {
		t.Errorf("unexpected message %#v", msg)
	}

	if v := testutil.ToFloat64(p.published.WithLabelValues("ok")); v != 1 {
		t.Errorf("ok = %v", v)
	}
	if v := testutil.ToFloat64(p.published.WithLabelValues("invalid")); v != 1 {
		t.Errorf("invalid = %v", v)
	}

	p.Publish("board", frame)
	if v := testutil.ToFloat64(p.published.WithLabelValues("closed")); v != 1 {
		t.Errorf("closed = %v", v)
	}
}

// blockingBroker blocks every publish until release is closed.
type blockingBroker struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (b *blockingBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	<-b.release
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}

func (b *blockingBroker) Subscribe(context.Context, string) (Subscription, error) {
	return nil, errors.New("not supported")
}

type failingBroker struct{}

func (failingBroker) Publish(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func (failingBroker) Subscribe(context.Context, string) (Subscription, error) {
	return nil, errors.New("connection refused")
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	b := &blockingBroker{release: make(chan struct{})}
	p := NewPublisher(b, &PublisherConfig{QueueSize: 2, Logger: discardLogger()})
	frame, _ := protocol.Encode(&protocol.Pong{})

	// One frame can be held by the worker; two more fill the queue.
	for i := 0; i < 10; i++ {
		p.Publish("board", frame)
	}
	if v := testutil.ToFloat64(p.published.WithLabelValues("dropped")); v < 7 {
		t.Errorf("dropped = %v, want at least 7", v)
	}

	close(b.release)
	p.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count < 2 || b.count > 3 {
		t.Errorf("published %d frames, want 2 or 3", b.count)
	}
}

func TestPublisher_CountsErrors(t *testing.T) {
	p := NewPublisher(failingBroker{}, &PublisherConfig{Logger: discardLogger()})
	frame, _ := protocol.Encode(&protocol.Pong{})
	p.Publish("board", frame)
	p.Close()
	if v := testutil.ToFloat64(p.published.WithLabelValues("error")); v != 1 {
		t.Errorf("error = %v", v)
	}
}

type relayEnv struct {
	registry *room.Registry
	http     *httptest.Server
	broker   *MemoryBroker
	pub      *Publisher
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()
	broker := NewMemoryBroker(1024)
	pub := NewPublisher(broker, &PublisherConfig{Logger: discardLogger()})
	registry := room.NewRegistry(&room.Config{Mirror: pub, Logger: discardLogger()})
	ts := httptest.NewServer(server.New(registry, &server.Config{Logger: discardLogger()}))
	t.Cleanup(func() {
		registry.Close()
		ts.Close()
		pub.Close()
		broker.Close()
	})
	return &relayEnv{registry: registry, http: ts, broker: broker, pub: pub}
}

func (e *relayEnv) follow(t *testing.T, roomID string) (*Follower, *render.Canvas, context.CancelFunc, <-chan error) {
	t.Helper()
	canvas := render.NewCanvas()
	f, err := NewFollower(e.broker, FollowerConfig{
		RoomID:       roomID,
		SnapshotURL:  e.http.URL,
		Renderer:     canvas,
		TickInterval: 10 * time.Millisecond,
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(cancel)
	return f, canvas, cancel, done
}

func TestFollower_TracksRoom(t *testing.T) {
	env := newRelayEnv(t)
	m, err := env.registry.Join("board", "alice")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	env.registry.HandleClientMessage(ctx, "board", m.ID, appendReq("s1"))
	env.registry.HandleClientMessage(ctx, "board", m.ID, appendReq("s2"))

	f, canvas, _, _ := env.follow(t, "board")
	eventually(t, "initial snapshot", func() bool { return fmt.Sprint(canvas.IDs()) == "[s1 s2]" })

	env.registry.HandleClientMessage(ctx, "board", m.ID, &protocol.UndoRequest{})
	env.registry.HandleClientMessage(ctx, "board", m.ID, appendReq("s3"))
	env.registry.HandleClientMessage(ctx, "board", m.ID, &protocol.ClearRequest{ActionID: "c1"})
	env.registry.HandleClientMessage(ctx, "board", m.ID, &protocol.UndoRequest{})

	eventually(t, "mirrored results", func() bool {
		return f.Revision() == 6 && fmt.Sprint(canvas.IDs()) == "[s1 s3]"
	})
	if f.Applied() == 0 {
		t.Error("expected mirrored frames to be applied")
	}
}

func TestFollower_EmptyRoom(t *testing.T) {
	env := newRelayEnv(t)
	f, canvas, _, _ := env.follow(t, "later")

	// The room does not exist yet, so the follower starts from an empty
	// history and picks up the first results from the mirror.
	time.Sleep(50 * time.Millisecond)
	m, err := env.registry.Join("later", "bob")
	if err != nil {
		t.Fatal(err)
	}
	env.registry.HandleClientMessage(context.Background(), "later", m.ID, appendReq("x"))

	eventually(t, "first stroke", func() bool {
		return f.Revision() == 1 && fmt.Sprint(canvas.IDs()) == "[x]"
	})
}

func TestFollower_FollowsRecreatedRoom(t *testing.T) {
	env := newRelayEnv(t)
	ctx := context.Background()
	alice, err := env.registry.Join("board", "alice")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		env.registry.HandleClientMessage(ctx, "board", alice.ID, appendReq(id))
	}

	f, canvas, _, _ := env.follow(t, "board")
	eventually(t, "initial snapshot", func() bool {
		return f.Revision() == 3 && fmt.Sprint(canvas.IDs()) == "[s1 s2 s3]"
	})

	// The last member leaves, so the history is dropped. The next join
	// starts a new one whose revisions restart at 1.
	if err := env.registry.Leave("board", alice.ID); err != nil {
		t.Fatal(err)
	}
	bob, err := env.registry.Join("board", "bob")
	if err != nil {
		t.Fatal(err)
	}
	env.registry.HandleClientMessage(ctx, "board", bob.ID, appendReq("x"))
	env.registry.HandleClientMessage(ctx, "board", bob.ID, appendReq("y"))

	eventually(t, "new history", func() bool {
		return f.Revision() == 2 && fmt.Sprint(canvas.IDs()) == "[x y]"
	})

	env.registry.HandleClientMessage(ctx, "board", bob.ID, &protocol.UndoRequest{})
	eventually(t, "undo on the new history", func() bool {
		return f.Revision() == 3 && fmt.Sprint(canvas.IDs()) == "[x]"
	})
}

func TestFollower_StopsOnCancel(t *testing.T) {
	env := newRelayEnv(t)
	_, _, cancel, done := env.follow(t, "board")
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestFollower_ReadOnly(t *testing.T) {
	f, err := NewFollower(NewMemoryBroker(1), FollowerConfig{RoomID: "r", SnapshotURL: "http://localhost", Logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := (followerTransport{f}).Send(&protocol.UndoRequest{}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Send = %v, want ErrReadOnly", err)
	}
	if _, err := NewFollower(NewMemoryBroker(1), FollowerConfig{SnapshotURL: "http://x"}); err == nil {
		t.Error("expected error for empty room id")
	}
	if _, err := NewFollower(NewMemoryBroker(1), FollowerConfig{RoomID: "r"}); err == nil {
		t.Error("expected error for empty snapshot url")
	}
}
