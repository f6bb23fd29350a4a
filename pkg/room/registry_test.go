package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-dev/inkwell/pkg/action"
	"github.com/vango-dev/inkwell/pkg/protocol"
	"github.com/vango-dev/inkwell/pkg/render"
	"github.com/vango-dev/inkwell/pkg/sequencer"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, mutate func(*Config)) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = discardLogger()
	cfg.Registerer = prometheus.NewRegistry()
	if mutate != nil {
		mutate(cfg)
	}
	return NewRegistry(cfg)
}

func testStroke() action.Stroke {
	return action.Stroke{
		Tool:   action.ToolPen,
		Points: []action.Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
		Color:  "#f00",
		Width:  4,
	}
}

func appendReq(id string) *protocol.AppendRequest {
	return &protocol.AppendRequest{RequestID: 1, Action: action.Action{ID: id, Kind: testStroke()}}
}

// recv decodes every frame currently queued in m's outbox.
func recv(t *testing.T, m *Member) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for {
		select {
		case frame, ok := <-m.Outbox():
			if !ok {
				return out
			}
			msg, err := protocol.Decode(frame)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func mustJoin(t *testing.T, r *Registry, roomID, producer string) *Member {
	t.Helper()
	m, err := r.Join(roomID, producer)
	if err != nil {
		t.Fatalf("Join error: %v", err)
	}
	return m
}

func TestRegistry_JoinSendsSnapshot(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")

	msgs := recv(t, a)
	if len(msgs) != 1 {
		t.Fatalf("expected one message on join, got %d", len(msgs))
	}
	snap, ok := msgs[0].(*protocol.Snapshot)
	if !ok || snap.RoomID != "room" || snap.Revision != 0 || snap.Cursor != -1 {
		t.Fatalf("unexpected join message %#v", msgs[0])
	}

	if err := r.HandleClientMessage(context.Background(), "room", a.ID, appendReq("x")); err != nil {
		t.Fatal(err)
	}
	b := mustJoin(t, r, "room", "p2")
	snap = recv(t, b)[0].(*protocol.Snapshot)
	if snap.Revision != 1 || len(snap.Active) != 1 || snap.Active[0].ID != "x" {
		t.Errorf("late joiner snapshot = %+v", snap)
	}

	rooms := r.Rooms()
	if len(rooms) != 1 || rooms[0].Members != 2 || rooms[0].Revision != 1 {
		t.Errorf("Rooms() = %+v", rooms)
	}
}

func TestRegistry_JoinGeneratesProducerID(t *testing.T) {
	r := newTestRegistry(t, nil)
	m := mustJoin(t, r, "room", "")
	if m.ProducerID == "" {
		t.Error("expected a generated producer id")
	}
	if _, err := r.Join(" ", "p"); !errors.Is(err, ierrors.ErrRoomNotFound) {
		t.Errorf("expected RoomNotFound for empty room id, got %v", err)
	}
}

func TestRegistry_ResultsReachEveryoneErrorsOnlyRequester(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")
	b := mustJoin(t, r, "room", "p2")
	recv(t, a)
	recv(t, b)

	ctx := context.Background()
	err := r.HandleClientMessage(ctx, "room", a.ID, &protocol.UndoRequest{RequestID: 7})
	if !errors.Is(err, ierrors.ErrNothingToUndo) {
		t.Fatalf("expected NothingToUndo, got %v", err)
	}
	got := recv(t, a)
	if len(got) != 1 {
		t.Fatalf("requester expected one error, got %d messages", len(got))
	}
	if e, ok := got[0].(*protocol.Error); !ok || e.Code != protocol.ErrNothingToUndo || e.RequestID != 7 || e.Request != protocol.RequestUndo {
		t.Errorf("unexpected error message %#v", got[0])
	}
	if n := len(recv(t, b)); n != 0 {
		t.Errorf("other member must not see errors, got %d messages", n)
	}

	if err := r.HandleClientMessage(ctx, "room", b.ID, appendReq("s1")); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*Member{a, b} {
		msgs := recv(t, m)
		if len(msgs) != 1 {
			t.Fatalf("member %s expected one result, got %d", m.ProducerID, len(msgs))
		}
		res := msgs[0].(*protocol.Result)
		if res.Op != protocol.OpAppend || res.Revision != 1 || res.ProducerID != "p2" || res.Action.RoomID != "room" {
			t.Errorf("unexpected result %+v", res)
		}
	}
}

func TestRegistry_InvalidActionOnlyRequester(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")
	b := mustJoin(t, r, "room", "p2")
	recv(t, a)
	recv(t, b)

	bad := &protocol.AppendRequest{RequestID: 3, Action: action.Action{Kind: action.Stroke{Tool: action.ToolPen, Color: "red", Width: 1, Points: []action.Point{{}}}}}
	if err := r.HandleClientMessage(context.Background(), "room", a.ID, bad); !errors.Is(err, ierrors.ErrInvalidAction) {
		t.Fatalf("expected InvalidAction, got %v", err)
	}
	if e := recv(t, a)[0].(*protocol.Error); e.Code != protocol.ErrInvalidAction {
		t.Errorf("code = %v", e.Code)
	}
	if n := len(recv(t, b)); n != 0 {
		t.Errorf("other member saw %d messages", n)
	}
	if snap, _ := r.Snapshot("room"); snap.Length != 0 {
		t.Errorf("invalid action must not be stored")
	}
}

func TestRegistry_ProducerComesFromMember(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")
	recv(t, a)

	req := appendReq("x")
	req.ProducerID = "spoofed"
	req.Action.ProducerID = "spoofed"
	if err := r.HandleClientMessage(context.Background(), "room", a.ID, req); err != nil {
		t.Fatal(err)
	}
	res := recv(t, a)[0].(*protocol.Result)
	if res.ProducerID != "p1" || res.Action.ProducerID != "p1" {
		t.Errorf("producer = %q / %q, want p1", res.ProducerID, res.Action.ProducerID)
	}
}

func TestRegistry_RoomDestroyedWhenEmpty(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")
	b := mustJoin(t, r, "room", "p2")
	if err := r.HandleClientMessage(context.Background(), "room", a.ID, appendReq("x")); err != nil {
		t.Fatal(err)
	}

	if err := r.Leave("room", a.ID); err != nil {
		t.Fatal(err)
	}
	if len(r.Rooms()) != 1 {
		t.Fatal("room must survive while a member remains")
	}
	if err := r.Leave("room", b.ID); err != nil {
		t.Fatal(err)
	}
	if len(r.Rooms()) != 0 {
		t.Fatalf("expected no rooms, got %+v", r.Rooms())
	}
	if _, err := r.Snapshot("room"); !errors.Is(err, ierrors.ErrRoomNotFound) {
		t.Errorf("expected RoomNotFound, got %v", err)
	}

	recv(t, a)
	if _, ok := <-a.Outbox(); ok {
		t.Error("outbox must be closed after leave")
	}

	c := mustJoin(t, r, "room", "p3")
	if snap := recv(t, c)[0].(*protocol.Snapshot); snap.Revision != 0 || len(snap.Active) != 0 {
		t.Errorf("recreated room must start empty, got %+v", snap)
	}

	if err := r.Leave("room", "nobody"); !errors.Is(err, ierrors.ErrRoomNotFound) {
		t.Errorf("expected RoomNotFound for unknown member, got %v", err)
	}
}

func TestRegistry_UnknownRoomOrMember(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	if err := r.HandleClientMessage(ctx, "missing", "m", &protocol.UndoRequest{}); !errors.Is(err, ierrors.ErrRoomNotFound) {
		t.Errorf("expected RoomNotFound, got %v", err)
	}
	mustJoin(t, r, "room", "p1")
	if err := r.HandleClientMessage(ctx, "room", "stranger", &protocol.UndoRequest{}); !errors.Is(err, ierrors.ErrRoomNotFound) {
		t.Errorf("expected RoomNotFound for unknown member, got %v", err)
	}
	if err := r.HandleClientMessage(ctx, "room", "stranger", &protocol.Ping{}); !errors.Is(err, ierrors.ErrUnknownMessage) {
		t.Errorf("expected UnknownMessage, got %v", err)
	}
}

func TestRegistry_SnapshotRateLimited(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r := newTestRegistry(t, func(c *Config) { c.Clock = clock })
	a := mustJoin(t, r, "room", "p1")
	recv(t, a)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := r.HandleClientMessage(ctx, "room", a.ID, &protocol.SnapshotRequest{RequestID: uint64(i)}); err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
	}
	err := r.HandleClientMessage(ctx, "room", a.ID, &protocol.SnapshotRequest{RequestID: 4})
	if !errors.Is(err, ierrors.ErrRateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}

	msgs := recv(t, a)
	if len(msgs) != 4 {
		t.Fatalf("expected 3 snapshots and 1 error, got %d", len(msgs))
	}
	if e, ok := msgs[3].(*protocol.Error); !ok || e.Code != protocol.ErrRateLimited || e.RequestID != 4 {
		t.Errorf("unexpected message %#v", msgs[3])
	}

	mu.Lock()
	now = now.Add(time.Second)
	mu.Unlock()
	if err := r.HandleClientMessage(ctx, "room", a.ID, &protocol.SnapshotRequest{RequestID: 5}); err != nil {
		t.Errorf("expected a token after one second, got %v", err)
	}
}

func TestRegistry_FullOutboxDisconnectsLaggingMember(t *testing.T) {
	r := newTestRegistry(t, func(c *Config) { c.OutboxSize = 1 })
	a := mustJoin(t, r, "room", "p1") // outbox now holds the join snapshot
	b := mustJoin(t, r, "room", "p2")
	recv(t, b)

	ctx := context.Background()
	if err := r.HandleClientMessage(ctx, "room", b.ID, appendReq("x")); err != nil {
		t.Fatal(err)
	}
	if !a.Lagging() || a.Dropped() != 1 {
		t.Fatalf("slow member: lagging=%v dropped=%d, want true/1", a.Lagging(), a.Dropped())
	}
	if b.Lagging() || b.Dropped() != 0 {
		t.Errorf("fast member: lagging=%v dropped=%d", b.Lagging(), b.Dropped())
	}

	// The queued snapshot is still delivered, then the outbox is closed.
	msgs := recv(t, a)
	if len(msgs) != 1 {
		t.Fatalf("expected the queued snapshot only, got %d messages", len(msgs))
	}
	if _, ok := <-a.Outbox(); ok {
		t.Fatal("expected the lagging member's outbox to be closed")
	}

	if err := r.HandleClientMessage(ctx, "room", b.ID, appendReq("y")); err != nil {
		t.Fatal(err)
	}
	if a.Dropped() != 1 {
		t.Errorf("closed outbox must not count further drops, got %d", a.Dropped())
	}
	if got := testutil.ToFloat64(r.metrics.dropped); got != 1 {
		t.Errorf("dropped metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.metrics.lagging); got != 1 {
		t.Errorf("lagging metric = %v, want 1", got)
	}
	members, _ := r.MembersOf("room")
	if len(members) != 2 || members[0].ID != a.ID || !members[0].Lagging || members[1].Lagging {
		t.Errorf("MembersOf = %+v", members)
	}

	if err := r.Leave("room", a.ID); err != nil {
		t.Fatalf("Leave of lagging member: %v", err)
	}
	if err := r.Leave("room", b.ID); err != nil {
		t.Fatal(err)
	}
	if len(r.Rooms()) != 0 {
		t.Errorf("expected room destroyed, got %+v", r.Rooms())
	}
}

func TestRegistry_CloseWithLaggingMember(t *testing.T) {
	r := newTestRegistry(t, func(c *Config) { c.OutboxSize = 1 })
	a := mustJoin(t, r, "room", "p1")
	b := mustJoin(t, r, "room", "p2")
	recv(t, b)
	r.HandleClientMessage(context.Background(), "room", b.ID, appendReq("x"))
	if !a.Lagging() {
		t.Fatal("expected member a to lag")
	}

	r.Close()
	if _, err := r.Join("room", "p3"); err == nil {
		t.Error("expected join after close to fail")
	}
}

func maxStroke() action.Stroke {
	s := testStroke()
	s.Points = make([]action.Point, action.MaxPoints)
	for i := range s.Points {
		s.Points[i] = action.Point{X: float32(i), Y: float32(i)}
	}
	return s
}

func TestRegistry_SnapshotFitsInOneFrame(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")
	ctx := context.Background()

	const n = 60 // well past what one frame can carry
	for i := 0; i < n; i++ {
		req := &protocol.AppendRequest{RequestID: uint64(i + 1), Action: action.Action{ID: fmt.Sprintf("s%d", i), Kind: maxStroke()}}
		if err := r.HandleClientMessage(ctx, "room", a.ID, req); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		recv(t, a)
	}

	b := mustJoin(t, r, "room", "p2")
	msgs := recv(t, b)
	if len(msgs) != 1 {
		t.Fatalf("expected a join snapshot, got %d messages", len(msgs))
	}
	snap, ok := msgs[0].(*protocol.Snapshot)
	if !ok {
		t.Fatalf("expected *protocol.Snapshot, got %T", msgs[0])
	}
	if len(snap.Active) == 0 || len(snap.Active) >= n {
		t.Fatalf("snapshot carries %d actions, want between 1 and %d", len(snap.Active), n-1)
	}
	if snap.Base != int64(n-len(snap.Active)) {
		t.Errorf("base = %d with %d active, want %d", snap.Base, len(snap.Active), n-len(snap.Active))
	}
	if last := snap.Active[len(snap.Active)-1]; last.ID != fmt.Sprintf("s%d", n-1) {
		t.Errorf("newest action = %s", last.ID)
	}

	if err := r.HandleClientMessage(ctx, "room", b.ID, &protocol.SnapshotRequest{RequestID: 9}); err != nil {
		t.Fatalf("snapshot request: %v", err)
	}
	msgs = recv(t, b)
	if len(msgs) != 1 {
		t.Fatalf("expected one reply, got %d", len(msgs))
	}
	if s, ok := msgs[0].(*protocol.Snapshot); !ok || s.RequestID != 9 {
		t.Errorf("unexpected reply %#v", msgs[0])
	}
}

func TestRegistry_UnsendableSnapshotRepliesWithError(t *testing.T) {
	r := newTestRegistry(t, nil)
	// Lift the budget past what a frame can carry.
	r.config.SnapshotBudget = 2 * protocol.MaxPayloadSize
	a := mustJoin(t, r, "room", "p1")
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		req := &protocol.AppendRequest{RequestID: uint64(i + 1), Action: action.Action{Kind: maxStroke()}}
		if err := r.HandleClientMessage(ctx, "room", a.ID, req); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		recv(t, a)
	}

	err := r.HandleClientMessage(ctx, "room", a.ID, &protocol.SnapshotRequest{RequestID: 77})
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	msgs := recv(t, a)
	if len(msgs) != 1 {
		t.Fatalf("expected one error frame, got %d", len(msgs))
	}
	e, ok := msgs[0].(*protocol.Error)
	if !ok || e.RequestID != 77 || e.Request != protocol.RequestSnapshot || e.Code != protocol.ErrServerError {
		t.Errorf("unexpected reply %#v", msgs[0])
	}

	b := mustJoin(t, r, "room", "p2")
	msgs = recv(t, b)
	if len(msgs) != 1 {
		t.Fatalf("expected one frame on join, got %d", len(msgs))
	}
	if e, ok := msgs[0].(*protocol.Error); !ok || e.Request != protocol.RequestSnapshot || e.RequestID != 0 {
		t.Errorf("unexpected join reply %#v", msgs[0])
	}
}

func TestRegistry_JoinRejectsOversizedIDs(t *testing.T) {
	r := newTestRegistry(t, nil)
	long := string(make([]byte, protocol.MaxStringLength+1))
	if _, err := r.Join(long, "p1"); !errors.Is(err, ierrors.ErrRoomNotFound) {
		t.Errorf("long room id: got %v", err)
	}
	if _, err := r.Join("room", long); !errors.Is(err, ierrors.ErrInvalidAction) {
		t.Errorf("long producer id: got %v", err)
	}
	if len(r.Rooms()) != 0 {
		t.Errorf("no room should be created, got %+v", r.Rooms())
	}
}

type recordingMirror struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func (m *recordingMirror) Publish(roomID string, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames == nil {
		m.frames = make(map[string][][]byte)
	}
	m.frames[roomID] = append(m.frames[roomID], frame)
}

func TestRegistry_MirrorReceivesBroadcasts(t *testing.T) {
	mirror := &recordingMirror{}
	r := newTestRegistry(t, func(c *Config) { c.Mirror = mirror })
	a := mustJoin(t, r, "room", "p1")

	ctx := context.Background()
	r.HandleClientMessage(ctx, "room", a.ID, appendReq("x"))
	r.HandleClientMessage(ctx, "room", a.ID, &protocol.RedoRequest{RequestID: 2}) // error, requester only
	r.HandleClientMessage(ctx, "room", a.ID, &protocol.UndoRequest{RequestID: 3})

	frames := mirror.frames["room"]
	if len(frames) != 2 {
		t.Fatalf("expected 2 mirrored frames, got %d", len(frames))
	}
	for i, want := range []protocol.Op{protocol.OpAppend, protocol.OpUndo} {
		msg, err := protocol.Decode(frames[i])
		if err != nil {
			t.Fatal(err)
		}
		if res := msg.(*protocol.Result); res.Op != want || res.Revision != uint64(i+1) {
			t.Errorf("frame %d = %+v", i, res)
		}
	}
}

func TestRegistry_Metrics(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")
	ctx := context.Background()
	r.HandleClientMessage(ctx, "room", a.ID, appendReq("x"))
	r.HandleClientMessage(ctx, "room", a.ID, &protocol.RedoRequest{})

	tests := []struct {
		op, result string
		want       float64
	}{
		{"append", "ok", 1},
		{"redo", ierrors.CodeNothingToRedo, 1},
		{"undo", "ok", 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(r.metrics.operations.WithLabelValues(tt.op, tt.result)); got != tt.want {
			t.Errorf("operations{%s,%s} = %v, want %v", tt.op, tt.result, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(r.metrics.roomsActive); got != 1 {
		t.Errorf("rooms_active = %v", got)
	}
	if got := testutil.ToFloat64(r.metrics.members); got != 1 {
		t.Errorf("room_members = %v", got)
	}
}

func TestRegistry_ConcurrentRequestsOrdered(t *testing.T) {
	r := newTestRegistry(t, func(c *Config) { c.OutboxSize = 2048 })
	const writers, perWriter = 8, 50

	members := make([]*Member, writers)
	for i := range members {
		members[i] = mustJoin(t, r, "room", fmt.Sprintf("p%d", i))
	}

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *Member) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				var msg protocol.Message = appendReq(fmt.Sprintf("%d-%d", i, j))
				if j%5 == 4 {
					msg = &protocol.UndoRequest{RequestID: uint64(j)}
				}
				r.HandleClientMessage(context.Background(), "room", m.ID, msg)
			}
		}(i, m)
	}
	wg.Wait()

	for _, m := range members {
		var last uint64
		for _, msg := range recv(t, m) {
			res, ok := msg.(*protocol.Result)
			if !ok {
				continue
			}
			if res.Revision <= last {
				t.Fatalf("member %s saw revision %d after %d", m.ProducerID, res.Revision, last)
			}
			last = res.Revision
		}
	}
}

func TestRegistry_CloseNotifiesMembers(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := mustJoin(t, r, "room", "p1")
	recv(t, a)

	r.Close()
	msgs := recv(t, a)
	if len(msgs) != 1 {
		t.Fatalf("expected close notice, got %d messages", len(msgs))
	}
	if c, ok := msgs[0].(*protocol.Close); !ok || c.Reason != protocol.CloseServerShutdown {
		t.Errorf("unexpected message %#v", msgs[0])
	}
	if _, err := r.Join("room", "p2"); err == nil {
		t.Error("expected join to fail after close")
	}
}

// loopback delivers a sequencer's requests straight to the registry.
type loopback struct {
	registry *Registry
	roomID   string
	memberID string
}

func (l *loopback) Send(m protocol.Message) error {
	err := l.registry.HandleClientMessage(context.Background(), l.roomID, l.memberID, m)
	if errors.Is(err, ierrors.ErrRoomNotFound) {
		return err
	}
	return nil
}

type simClient struct {
	member *Member
	seq    *sequencer.Sequencer
	canvas *render.Canvas
}

// pump feeds every queued frame to the client's sequencer. Results are
// dropped with probability loss to simulate lost messages.
func (c *simClient) pump(t *testing.T, rng *rand.Rand, loss float64) {
	t.Helper()
	for {
		select {
		case frame, ok := <-c.member.Outbox():
			if !ok {
				return
			}
			msg, err := protocol.Decode(frame)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if _, isResult := msg.(*protocol.Result); isResult && rng.Float64() < loss {
				continue
			}
			if err := c.seq.Handle(msg); err != nil {
				t.Fatalf("Handle error: %v", err)
			}
		default:
			return
		}
	}
}

func visibleIDs(active []action.Action) string {
	from := action.LastClear(active) + 1
	ids := make([]string, 0, len(active)-from)
	for _, a := range active[from:] {
		ids = append(ids, a.ID)
	}
	return fmt.Sprint(ids)
}

func TestRegistry_ConvergesWithSequencers(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			r := newTestRegistry(t, func(c *Config) {
				c.MaxHistory = 25
				c.OutboxSize = 4096
				c.SnapshotRate = 1000
				c.SnapshotBurst = 1000
			})

			clients := make([]*simClient, 4)
			for i := range clients {
				m := mustJoin(t, r, "room", fmt.Sprintf("p%d", i))
				c := &simClient{member: m, canvas: render.NewCanvas()}
				c.seq = sequencer.New(m.ProducerID, &loopback{registry: r, roomID: "room", memberID: m.ID}, c.canvas,
					sequencer.Config{Logger: discardLogger()})
				clients[i] = c
			}

			for step := 0; step < 250; step++ {
				c := clients[rng.Intn(len(clients))]
				switch p := rng.Intn(10); {
				case p < 6:
					c.seq.Draw(testStroke())
				case p < 8:
					c.seq.Undo()
				case p < 9:
					c.seq.Redo()
				default:
					c.seq.Clear()
				}
				for _, c := range clients {
					c.pump(t, rng, 0.1)
				}
			}

			// Strokes whose echo was lost expire, then every client resyncs
			// in case the final result was lost with nothing after it.
			snap, err := r.Snapshot("room")
			if err != nil {
				t.Fatal(err)
			}
			later := time.Now().Add(time.Minute)
			for _, c := range clients {
				c.seq.Tick(later)
				if err := c.seq.Resync(); err != nil {
					t.Fatal(err)
				}
				c.pump(t, rng, 0)
			}

			want := visibleIDs(snap.Active)
			for i, c := range clients {
				if c.seq.Revision() != snap.Revision {
					t.Errorf("client %d revision = %d, want %d", i, c.seq.Revision(), snap.Revision)
				}
				if got := fmt.Sprint(c.canvas.IDs()); got != want {
					t.Errorf("client %d canvas = %s, want %s", i, got, want)
				}
				if c.seq.Syncing() || c.seq.Failed() != nil {
					t.Errorf("client %d not settled: syncing=%v failed=%v", i, c.seq.Syncing(), c.seq.Failed())
				}
			}
		})
	}
}
