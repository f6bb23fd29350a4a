package room

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vango-dev/inkwell/pkg/action"
	"github.com/vango-dev/inkwell/pkg/history"
	"github.com/vango-dev/inkwell/pkg/protocol"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// Room is one collaboration room: a history engine plus its members.
type Room struct {
	id        string
	createdAt time.Time

	// mu serializes engine mutation and fan-out.
	mu      sync.Mutex
	engine  *history.Engine
	members map[string]*Member
	nextSeq uint64
	closed  bool
}

// Info describes a room.
type Info struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	Revision  uint64    `json:"revision"`
	Epoch     string    `json:"epoch"`
	Cursor    int       `json:"cursor"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry manages all rooms. Rooms are created on first join and destroyed
// when their last member leaves.
type Registry struct {
	// mu guards rooms. It is held only for lookup, create and delete, and is
	// always acquired before a room lock.
	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool

	config  *Config
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRegistry creates a Registry. A nil config uses DefaultConfig.
func NewRegistry(config *Config) *Registry {
	config = config.withDefaults()
	return &Registry{
		rooms:   make(map[string]*Room),
		config:  config,
		logger:  config.Logger.With("component", "room_registry"),
		metrics: newMetrics(config.Registerer, config.Namespace),
		tracer:  otel.Tracer(config.TracerName),
		now:     config.Clock,
	}
}

// Join adds a member for producerID to roomID, creating the room and its
// history on first join. The member's outbox starts with a snapshot.
func (r *Registry) Join(roomID, producerID string) (*Member, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, ierrors.ErrRoomNotFound.WithDetail("empty room id")
	}
	if len(roomID) > protocol.MaxStringLength {
		return nil, ierrors.ErrRoomNotFound.WithDetail("room id longer than %d bytes", protocol.MaxStringLength)
	}
	if len(producerID) > protocol.MaxStringLength {
		return nil, ierrors.ErrInvalidAction.WithDetail("producer id longer than %d bytes", protocol.MaxStringLength)
	}
	if strings.TrimSpace(producerID) == "" {
		producerID = uuid.NewString()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ierrors.ErrRoomNotFound.WithDetail("registry closed")
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = r.onRoomCreated(roomID)
	}
	rm.mu.Lock()
	r.mu.Unlock()
	defer rm.mu.Unlock()

	rm.nextSeq++
	m := &Member{
		ID:         uuid.NewString(),
		ProducerID: producerID,
		RoomID:     roomID,
		JoinedAt:   r.now(),
		outbox:     make(chan []byte, r.config.OutboxSize),
		limiter:    rate.NewLimiter(rate.Limit(r.config.SnapshotRate), r.config.SnapshotBurst),
		seq:        rm.nextSeq,
	}
	rm.members[m.ID] = m
	r.metrics.members.Inc()

	if _, err := r.sendSnapshotLocked(rm, m, 0); err != nil {
		r.sendLocked(rm, m, protocol.NewError(0, protocol.RequestSnapshot, err))
	}

	r.logger.Info("member joined",
		"room", roomID,
		"member", m.ID,
		"producer", producerID,
		"members", len(rm.members))
	return m, nil
}

// onRoomCreated creates the room and its history. The caller holds r.mu.
func (r *Registry) onRoomCreated(roomID string) *Room {
	rm := &Room{
		id:        roomID,
		createdAt: r.now(),
		engine: history.New(roomID, r.config.MaxHistory,
			history.WithClock(r.now),
			history.WithSizeBudget(r.config.SnapshotBudget, protocol.ActionSize)),
		members:   make(map[string]*Member),
	}
	r.rooms[roomID] = rm
	r.metrics.roomsActive.Inc()
	r.logger.Info("room created", "room", roomID, "max_history", r.config.MaxHistory)
	return rm
}

// Leave removes a member and closes its outbox. The room and its history
// are destroyed when the last member leaves.
func (r *Registry) Leave(roomID, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return ierrors.ErrRoomNotFound.WithDetail("room %q", roomID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[memberID]
	if !ok {
		return ierrors.ErrRoomNotFound.WithDetail("member %q not in room %q", memberID, roomID)
	}
	delete(rm.members, memberID)
	m.closeOutbox()
	r.metrics.members.Dec()

	r.logger.Info("member left",
		"room", roomID,
		"member", memberID,
		"dropped", m.Dropped(),
		"lagging", m.Lagging(),
		"members", len(rm.members))

	if len(rm.members) == 0 {
		rm.closed = true
		delete(r.rooms, roomID)
		r.metrics.roomsActive.Dec()
		r.logger.Info("room destroyed", "room", roomID, "revision", rm.engine.Revision())
	}
	return nil
}

// HandleClientMessage applies one request from a member. Results are
// broadcast to every member of the room, the requester included. Errors
// are sent only to the requester and also returned.
func (r *Registry) HandleClientMessage(ctx context.Context, roomID, memberID string, msg protocol.Message) error {
	kind, requestID, _, ok := protocol.RequestOf(msg)
	if !ok {
		return ierrors.ErrUnknownMessage.WithDetail("%T is not a request", msg)
	}

	_, span := r.startSpan(ctx, kind, roomID, memberID)
	start := r.now()

	rm := r.lookup(roomID)
	if rm == nil {
		err := ierrors.ErrRoomNotFound.WithDetail("room %q", roomID)
		r.observe(kind, start, err)
		endSpan(span, "", 0, err)
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[memberID]
	if rm.closed || !ok {
		err := ierrors.ErrRoomNotFound.WithDetail("member %q not in room %q", memberID, roomID)
		r.observe(kind, start, err)
		endSpan(span, "", 0, err)
		return err
	}

	var (
		res history.Result
		err error
	)
	switch req := msg.(type) {
	case *protocol.AppendRequest:
		res, err = rm.engine.Append(action.Draft{
			ID:         req.Action.ID,
			ProducerID: m.ProducerID,
			Kind:       req.Action.Kind,
			CreatedAt:  req.Action.CreatedAt,
		})
	case *protocol.UndoRequest:
		res, err = rm.engine.Undo()
	case *protocol.RedoRequest:
		res, err = rm.engine.Redo()
	case *protocol.ClearRequest:
		res, err = rm.engine.Clear(m.ProducerID, req.ActionID)
	case *protocol.SnapshotRequest:
		if !m.limiter.AllowN(r.now(), 1) {
			err = ierrors.ErrRateLimited.WithDetail("snapshot limit %.2g/s", r.config.SnapshotRate)
			break
		}
		var rev uint64
		if rev, err = r.sendSnapshotLocked(rm, m, requestID); err != nil {
			break
		}
		r.observe(kind, start, nil)
		endSpan(span, m.ProducerID, rev, nil)
		return nil
	}

	if err != nil {
		r.sendLocked(rm, m, protocol.NewError(requestID, kind, err))
		r.observe(kind, start, err)
		endSpan(span, m.ProducerID, 0, err)
		return err
	}

	r.broadcastLocked(rm, ResultMessage(res, requestID, m.ProducerID))
	if res.Evicted > 0 {
		r.logger.Debug("history evicted", "room", roomID, "evicted", res.Evicted, "revision", res.Revision)
	}
	r.observe(kind, start, nil)
	endSpan(span, m.ProducerID, res.Revision, nil)
	return nil
}

// Broadcast sends msg to every member of roomID and to the mirror.
func (r *Registry) Broadcast(roomID string, msg protocol.Message) error {
	rm := r.lookup(roomID)
	if rm == nil {
		return ierrors.ErrRoomNotFound.WithDetail("room %q", roomID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return ierrors.ErrRoomNotFound.WithDetail("room %q", roomID)
	}
	return r.broadcastLocked(rm, msg)
}

// MembersOf returns the members of roomID in join order.
func (r *Registry) MembersOf(roomID string) ([]MemberInfo, error) {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil, ierrors.ErrRoomNotFound.WithDetail("room %q", roomID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	members := make([]*Member, 0, len(rm.members))
	for _, m := range rm.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	out := make([]MemberInfo, len(members))
	for i, m := range members {
		out[i] = m.info()
	}
	return out, nil
}

// Snapshot returns a consistent copy of roomID's active slice.
func (r *Registry) Snapshot(roomID string) (history.Snapshot, error) {
	rm := r.lookup(roomID)
	if rm == nil {
		return history.Snapshot{}, ierrors.ErrRoomNotFound.WithDetail("room %q", roomID)
	}
	return rm.engine.Snapshot(), nil
}

// Rooms returns every room sorted by id.
func (r *Registry) Rooms() []Info {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		members := len(rm.members)
		rm.mu.Unlock()

		out = append(out, Info{
			ID:        rm.id,
			Members:   members,
			Revision:  rm.engine.Revision(),
			Epoch:     rm.engine.Epoch(),
			Cursor:    rm.engine.Cursor(),
			Length:    rm.engine.Len(),
			CreatedAt: rm.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close sends a shutdown notice to every member, closes all outboxes and
// drops every room. Later joins fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	notice, err := protocol.Encode(&protocol.Close{Reason: protocol.CloseServerShutdown, Message: "server shutting down"})
	if err != nil {
		r.logger.Error("encode close notice", "error", err)
	}
	for id, rm := range r.rooms {
		rm.mu.Lock()
		for _, m := range rm.members {
			if notice != nil {
				m.send(notice)
			}
			m.closeOutbox()
			r.metrics.members.Dec()
		}
		rm.members = make(map[string]*Member)
		rm.closed = true
		rm.mu.Unlock()
		delete(r.rooms, id)
		r.metrics.roomsActive.Dec()
	}
	r.logger.Info("registry closed")
}

func (r *Registry) lookup(roomID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// broadcastLocked encodes msg once and fans it out. The caller holds rm.mu.
func (r *Registry) broadcastLocked(rm *Room, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encode broadcast", "room", rm.id, "error", err)
		return err
	}
	for _, m := range rm.members {
		r.deliverLocked(rm, m, frame)
	}
	if r.config.Mirror != nil {
		r.config.Mirror.Publish(rm.id, frame)
	}
	return nil
}

// sendLocked encodes msg and sends it to one member. The caller holds rm.mu.
func (r *Registry) sendLocked(rm *Room, m *Member, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encode message", "room", rm.id, "member", m.ID, "type", msg.FrameType(), "error", err)
		return err
	}
	r.deliverLocked(rm, m, frame)
	return nil
}

// deliverLocked queues frame for m. A member whose outbox is full has missed
// a frame it cannot recover from in place: its outbox is closed and it is
// marked lagging so the connection tells the client to rejoin. The member
// stays in the room until it leaves. The caller holds rm.mu.
func (r *Registry) deliverLocked(rm *Room, m *Member, frame []byte) {
	if m.closed || m.send(frame) {
		return
	}
	r.metrics.dropped.Inc()
	m.lagging.Store(true)
	m.closeOutbox()
	r.metrics.lagging.Inc()
	r.logger.Warn("member outbox full, disconnecting",
		"room", rm.id,
		"member", m.ID,
		"dropped", m.Dropped())
}

// sendSnapshotLocked sends the room snapshot to m and returns its revision.
// The caller holds rm.mu.
func (r *Registry) sendSnapshotLocked(rm *Room, m *Member, requestID uint64) (uint64, error) {
	snap := rm.engine.Snapshot()
	r.metrics.snapshotActions.Observe(float64(len(snap.Active)))
	if err := r.sendLocked(rm, m, SnapshotMessage(snap, requestID)); err != nil {
		return 0, ierrors.Newf(ierrors.CategoryRoom, "snapshot of %d actions not sent", len(snap.Active)).Wrap(err)
	}
	return snap.Revision, nil
}

func (r *Registry) observe(kind protocol.RequestKind, start time.Time, err error) {
	op := kind.String()
	r.metrics.operations.WithLabelValues(op, resultLabel(err)).Inc()
	r.metrics.duration.WithLabelValues(op).Observe(r.now().Sub(start).Seconds())
}
