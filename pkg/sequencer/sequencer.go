package sequencer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-dev/inkwell/pkg/action"
	"github.com/vango-dev/inkwell/pkg/protocol"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// Transport sends messages to the room server.
type Transport interface {
	Send(m protocol.Message) error
}

// Renderer draws ordered, validated actions.
type Renderer interface {
	// ApplyAction draws one action on top of the canvas.
	ApplyAction(a action.Action)

	// Clear wipes the canvas.
	Clear()

	// RenderFromHistory wipes the canvas and replays active in order.
	RenderFromHistory(active []action.Action)
}

type pendingRequest struct {
	requestID uint64
	deadline  time.Time
}

type speculativeAction struct {
	action    action.Action
	requestID uint64
	deadline  time.Time
	confirmed uint64 // revision of the canonical echo, 0 until received
}

// Sequencer orders canonical room traffic for one client and keeps its
// renderer consistent with the room's active slice.
type Sequencer struct {
	producerID string
	transport  Transport
	renderer   Renderer
	config     Config
	logger     *slog.Logger
	now        func() time.Time

	lastApplied int64
	revision    uint64
	epoch       string // history instance the revisions belong to
	active      []action.Action
	pending     map[uint64]*protocol.Result
	speculative []*speculativeAction
	conflicts   *conflictLog

	undo   *pendingRequest
	redo   *pendingRequest
	clears map[uint64]string // own clear requests by id

	snapshotID       uint64 // outstanding snapshot request, 0 if none
	snapshotDeadline time.Time
	snapshotRetryAt  time.Time

	needsRebuild bool
	failed       error

	nextRequestID uint64
	outcomes      chan Outcome
}

// New creates a Sequencer for producerID. Zero fields in config take their
// defaults.
func New(producerID string, t Transport, r Renderer, config Config) *Sequencer {
	config = config.withDefaults()
	return &Sequencer{
		producerID:  producerID,
		transport:   t,
		renderer:    r,
		config:      config,
		logger:      config.Logger.With("component", "sequencer", "producer", producerID),
		now:         config.Clock,
		lastApplied: -1,
		pending:     make(map[uint64]*protocol.Result),
		conflicts:   newConflictLog(config.ConflictLogSize),
		clears:      make(map[uint64]string),
		outcomes:    make(chan Outcome, config.OutcomeBuffer),
	}
}

// ProducerID returns the producer this Sequencer speaks for.
func (s *Sequencer) ProducerID() string { return s.producerID }

// Outcomes returns the channel on which own request outcomes are delivered.
// Outcomes are dropped when the channel is full.
func (s *Sequencer) Outcomes() <-chan Outcome { return s.outcomes }

// State returns the request state.
func (s *Sequencer) State() State {
	switch {
	case s.undo != nil:
		return StateAwaitingOwnUndo
	case s.redo != nil:
		return StateAwaitingOwnRedo
	default:
		return StateIdle
	}
}

// LastAppliedIndex returns the absolute index of the newest applied active
// action, or -1 before any.
func (s *Sequencer) LastAppliedIndex() int64 { return s.lastApplied }

// Revision returns the last applied room revision.
func (s *Sequencer) Revision() uint64 { return s.revision }

// Epoch returns the room history instance the mirror follows, or "" before
// one is known.
func (s *Sequencer) Epoch() string { return s.epoch }

// Active returns a copy of the local mirror of the active slice.
func (s *Sequencer) Active() []action.Action {
	out := make([]action.Action, len(s.active))
	copy(out, s.active)
	return out
}

// Speculative returns the own strokes rendered ahead of their echo.
func (s *Sequencer) Speculative() []action.Action {
	out := make([]action.Action, 0, len(s.speculative))
	for _, sp := range s.speculative {
		out = append(out, sp.action)
	}
	return out
}

// Syncing reports whether the Sequencer is waiting for missing messages or
// a snapshot.
func (s *Sequencer) Syncing() bool {
	return s.needsRebuild || s.snapshotID != 0 || !s.snapshotRetryAt.IsZero() || len(s.pending) > 0
}

// NeedsRebuild reports whether the canvas waits for a full rebuild.
func (s *Sequencer) NeedsRebuild() bool { return s.needsRebuild }

// Pending returns the number of queued out-of-order results.
func (s *Sequencer) Pending() int { return len(s.pending) }

// Conflicts returns the retained conflicts, oldest first.
func (s *Sequencer) Conflicts() []Conflict { return s.conflicts.list() }

// ConflictCount returns the number of conflicts ever detected.
func (s *Sequencer) ConflictCount() uint64 { return s.conflicts.total }

// Failed returns the recovery failure, or nil.
func (s *Sequencer) Failed() error { return s.failed }

// Draw renders kind speculatively and sends it as an append request.
func (s *Sequencer) Draw(kind action.Kind) (action.Action, error) {
	if s.failed != nil {
		return action.Action{}, s.failed
	}
	now := s.now()
	d := action.NewDraft(s.producerID, kind, now)
	if err := d.Validate(); err != nil {
		return action.Action{}, err
	}
	a := action.Action{
		ID:         d.ID,
		ProducerID: d.ProducerID,
		Index:      -1,
		Kind:       d.Kind,
		CreatedAt:  d.CreatedAt,
	}.Clone()

	id := s.nextID()
	if err := s.transport.Send(&protocol.AppendRequest{RequestID: id, ProducerID: s.producerID, Action: a}); err != nil {
		return action.Action{}, fmt.Errorf("send append: %w", err)
	}
	s.speculative = append(s.speculative, &speculativeAction{
		action:    a,
		requestID: id,
		deadline:  now.Add(s.config.AppendTimeout),
	})
	s.renderer.ApplyAction(a)
	return a, nil
}

// Undo sends an undo request. It fails with ErrStaleRequest while an own
// undo is outstanding.
func (s *Sequencer) Undo() (uint64, error) {
	return s.request(protocol.RequestUndo, &s.undo)
}

// Redo sends a redo request. It fails with ErrStaleRequest while an own
// redo is outstanding.
func (s *Sequencer) Redo() (uint64, error) {
	return s.request(protocol.RequestRedo, &s.redo)
}

func (s *Sequencer) request(kind protocol.RequestKind, slot **pendingRequest) (uint64, error) {
	if s.failed != nil {
		return 0, s.failed
	}
	if *slot != nil {
		s.conflict(Conflict{Kind: ConflictStale, Detail: kind.String() + " already outstanding"})
		return 0, ierrors.ErrStaleRequest.WithDetail("%s request %d outstanding", kind, (*slot).requestID)
	}

	id := s.nextID()
	var m protocol.Message
	if kind == protocol.RequestUndo {
		m = &protocol.UndoRequest{RequestID: id, ProducerID: s.producerID}
	} else {
		m = &protocol.RedoRequest{RequestID: id, ProducerID: s.producerID}
	}
	if err := s.transport.Send(m); err != nil {
		return 0, fmt.Errorf("send %s: %w", kind, err)
	}
	*slot = &pendingRequest{requestID: id, deadline: s.now().Add(s.config.RequestTimeout)}
	return id, nil
}

// Clear sends a clear request.
func (s *Sequencer) Clear() (uint64, error) {
	if s.failed != nil {
		return 0, s.failed
	}
	id := s.nextID()
	actionID := action.NewID()
	if err := s.transport.Send(&protocol.ClearRequest{RequestID: id, ProducerID: s.producerID, ActionID: actionID}); err != nil {
		return 0, fmt.Errorf("send clear: %w", err)
	}
	s.clears[id] = actionID
	return id, nil
}

// Resync requests a snapshot and rebuilds the canvas from it.
func (s *Sequencer) Resync() error {
	if s.failed != nil {
		return s.failed
	}
	s.needsRebuild = true
	return s.requestSnapshot()
}

// Handle processes one inbound server message. It returns the recovery
// failure once the Sequencer has failed.
func (s *Sequencer) Handle(m protocol.Message) error {
	if s.failed != nil {
		return s.failed
	}
	switch msg := m.(type) {
	case *protocol.Result:
		s.handleResult(msg)
	case *protocol.Snapshot:
		s.handleSnapshot(msg)
	case *protocol.Error:
		s.handleError(msg)
	case *protocol.Ping, *protocol.Pong, *protocol.Close:
		// Connection level, handled by the transport.
	default:
		return ierrors.ErrUnknownMessage.WithDetail("sequencer cannot handle %T", m)
	}
	return s.failed
}

// Tick expires own requests, speculative strokes and snapshot requests
// whose deadline is at or before now.
func (s *Sequencer) Tick(now time.Time) {
	if s.failed != nil {
		return
	}

	if s.undo != nil && !now.Before(s.undo.deadline) {
		s.expire(protocol.RequestUndo, s.undo.requestID)
		s.undo = nil
	}
	if s.redo != nil && !now.Before(s.redo.deadline) {
		s.expire(protocol.RequestRedo, s.redo.requestID)
		s.redo = nil
	}

	expired := false
	kept := s.speculative[:0]
	for _, sp := range s.speculative {
		if sp.confirmed == 0 && !now.Before(sp.deadline) {
			expired = true
			s.conflict(Conflict{Kind: ConflictTimeout, ActionID: sp.action.ID, Index: -1, Detail: "append echo not received"})
			s.emit(Outcome{
				Request:   protocol.RequestAppend,
				RequestID: sp.requestID,
				ActionID:  sp.action.ID,
				Err:       ierrors.ErrRequestTimeout.WithDetail("append %d", sp.requestID),
			})
			continue
		}
		kept = append(kept, sp)
	}
	s.speculative = trimSpeculative(kept, len(s.speculative))
	if expired {
		s.rebuild()
	}

	if s.snapshotID != 0 && !now.Before(s.snapshotDeadline) {
		s.fail(ierrors.ErrRecoveryFailed.WithDetail("snapshot %d not answered within %s", s.snapshotID, s.config.SnapshotTimeout))
		return
	}
	if !s.snapshotRetryAt.IsZero() && !now.Before(s.snapshotRetryAt) {
		s.snapshotRetryAt = time.Time{}
		_ = s.requestSnapshot()
	}
}

func (s *Sequencer) expire(kind protocol.RequestKind, requestID uint64) {
	s.conflict(Conflict{Kind: ConflictTimeout, Index: -1, Detail: fmt.Sprintf("%s %d", kind, requestID)})
	s.logger.Warn("request timed out", "request", kind, "request_id", requestID)
	s.emit(Outcome{
		Request:   kind,
		RequestID: requestID,
		Err:       ierrors.ErrRequestTimeout.WithDetail("%s %d", kind, requestID),
	})
}

func (s *Sequencer) handleResult(r *protocol.Result) {
	if r.Epoch != "" && r.Epoch != s.epoch {
		if s.epoch == "" {
			s.epoch = r.Epoch
		} else {
			s.enterEpoch(r.Epoch)
			s.markRebuild(s.conflictFor(ConflictEpoch, r, "room recreated, waiting for snapshot"))
		}
	}
	s.resolveOwn(r)

	switch Classify(s.revision, r.Revision, s.needsRebuild) {
	case ResolveDiscard:
		s.conflict(s.conflictFor(ConflictDuplicate, r, fmt.Sprintf("last applied revision %d", s.revision)))
	case ResolveApply:
		s.apply(r)
		s.drain()
	case ResolveQueue:
		s.enqueue(r)
	case ResolveRebuild:
		s.markRebuild(s.conflictFor(ConflictGap, r, fmt.Sprintf("%d revisions missing", r.Revision-s.revision-1)))
		s.enqueue(r)
	}
}

// resolveOwn reports the outcome of an own request as soon as its canonical
// result is seen, whether or not it can be applied yet.
func (s *Sequencer) resolveOwn(r *protocol.Result) {
	if r.ProducerID != s.producerID {
		return
	}
	ok := Outcome{RequestID: r.RequestID, ActionID: r.Action.ID, Revision: r.Revision}

	switch r.Op {
	case protocol.OpAppend:
		for _, sp := range s.speculative {
			if sp.requestID == r.RequestID && sp.confirmed == 0 {
				sp.confirmed = r.Revision
				ok.Request = protocol.RequestAppend
				s.emit(ok)
				return
			}
		}
	case protocol.OpUndo:
		if s.undo != nil && s.undo.requestID == r.RequestID {
			s.undo = nil
			ok.Request = protocol.RequestUndo
			s.emit(ok)
		}
	case protocol.OpRedo:
		if s.redo != nil && s.redo.requestID == r.RequestID {
			s.redo = nil
			ok.Request = protocol.RequestRedo
			s.emit(ok)
		}
	case protocol.OpClear:
		if _, found := s.clears[r.RequestID]; found {
			delete(s.clears, r.RequestID)
			ok.Request = protocol.RequestClear
			s.emit(ok)
		}
	}
}

// apply applies an in-order result to the mirror and the renderer.
func (s *Sequencer) apply(r *protocol.Result) {
	a := r.Action.Clone()

	switch r.Op {
	case protocol.OpAppend, protocol.OpClear, protocol.OpRedo:
		if a.Index != s.lastApplied+1 {
			s.diverged(r, fmt.Sprintf("expected index %d", s.lastApplied+1))
			return
		}
		s.active = append(s.active, a)
	case protocol.OpUndo:
		n := len(s.active)
		if n == 0 || a.Index != s.lastApplied || s.active[n-1].ID != a.ID {
			s.diverged(r, "undone action is not the local tail")
			return
		}
		s.active[n-1] = action.Action{}
		s.active = s.active[:n-1]
	default:
		s.diverged(r, "unknown op "+r.Op.String())
		return
	}

	evicted := 0
	if n := len(s.active); n > r.Cursor+1 {
		evicted = n - (r.Cursor + 1)
		s.active = append([]action.Action(nil), s.active[evicted:]...)
	}
	if len(s.active) != r.Cursor+1 {
		s.diverged(r, fmt.Sprintf("mirror holds %d actions, cursor %d", len(s.active), r.Cursor))
		return
	}

	if r.Op == protocol.OpUndo {
		s.lastApplied = a.Index - 1
	} else {
		s.lastApplied = a.Index
	}
	s.revision = r.Revision

	echoHead, reordered := false, false
	if r.Op == protocol.OpAppend && r.ProducerID == s.producerID {
		for i, sp := range s.speculative {
			if sp.action.ID != a.ID {
				continue
			}
			echoHead = i == 0
			reordered = i > 0
			s.speculative = append(s.speculative[:i], s.speculative[i+1:]...)
			break
		}
	}

	switch {
	case a.IsClear() && r.Op != protocol.OpUndo:
		if len(s.speculative) == 0 {
			s.renderer.Clear()
		} else {
			s.rebuild()
		}
		s.markRebuild(s.conflictFor(ConflictClear, r, "confirming with snapshot"))
	case evicted > 0:
		s.conflict(s.conflictFor(ConflictEviction, r, fmt.Sprintf("%d oldest entries trimmed", evicted)))
		s.rebuild()
	case r.Op == protocol.OpUndo, reordered:
		s.rebuild()
	case echoHead:
		// Already on the canvas in the right place.
	case len(s.speculative) > 0:
		s.rebuild()
	default:
		s.renderer.ApplyAction(a)
	}
}

func (s *Sequencer) enqueue(r *protocol.Result) {
	if !s.needsRebuild {
		s.conflict(s.conflictFor(ConflictGap, r, fmt.Sprintf("waiting for revision %d", s.revision+1)))
		s.logger.Debug("sequencing gap", "revision", r.Revision, "last_applied", s.revision)
	}
	s.pending[r.Revision] = r
	if len(s.pending) > s.config.MaxPending {
		s.logger.Warn("pending queue overflow, waiting for snapshot", "pending", len(s.pending))
		s.pending = make(map[uint64]*protocol.Result)
		s.needsRebuild = true
	}
	_ = s.requestSnapshot()
}

// drain applies queued results that are now in order.
func (s *Sequencer) drain() {
	for rev := range s.pending {
		if rev <= s.revision {
			delete(s.pending, rev)
		}
	}
	for !s.needsRebuild {
		next, ok := s.pending[s.revision+1]
		if !ok {
			break
		}
		delete(s.pending, next.Revision)
		s.apply(next)
	}
	if len(s.pending) > 0 {
		_ = s.requestSnapshot()
	}
}

func (s *Sequencer) handleSnapshot(snap *protocol.Snapshot) {
	if snap.RequestID != 0 && snap.RequestID == s.snapshotID {
		s.snapshotID = 0
		s.snapshotDeadline = time.Time{}
	}

	if snap.Epoch != s.epoch {
		if s.epoch == "" {
			s.epoch = snap.Epoch
		} else {
			s.enterEpoch(snap.Epoch)
			s.needsRebuild = true
			s.conflict(Conflict{Kind: ConflictEpoch, Revision: snap.Revision, Index: -1,
				Detail: fmt.Sprintf("snapshot of a new room history at revision %d", snap.Revision)})
		}
	}

	switch {
	case snap.Revision < s.revision:
		s.conflict(Conflict{Kind: ConflictStale, Revision: snap.Revision, Index: -1,
			Detail: fmt.Sprintf("snapshot behind revision %d", s.revision), At: s.now()})
		if s.needsRebuild {
			_ = s.requestSnapshot()
		}
		return
	case snap.Revision == s.revision && !s.needsRebuild && s.mirrorMatches(snap):
		s.logger.Debug("snapshot matches mirror", "revision", snap.Revision)
	default:
		s.adopt(snap)
	}
	s.drain()
}

func (s *Sequencer) mirrorMatches(snap *protocol.Snapshot) bool {
	if len(snap.Active) != len(s.active) || snap.Base+int64(snap.Cursor) != s.lastApplied {
		return false
	}
	for i := range snap.Active {
		if snap.Active[i].ID != s.active[i].ID || snap.Active[i].Index != s.active[i].Index {
			return false
		}
	}
	return true
}

// adopt replaces the mirror with snap and rebuilds the canvas.
func (s *Sequencer) adopt(snap *protocol.Snapshot) {
	s.active = make([]action.Action, len(snap.Active))
	known := make(map[string]bool, len(snap.Active))
	for i, a := range snap.Active {
		s.active[i] = a.Clone()
		known[a.ID] = true
	}
	s.revision = snap.Revision
	s.lastApplied = snap.Base + int64(snap.Cursor)
	s.needsRebuild = false

	kept := s.speculative[:0]
	for _, sp := range s.speculative {
		if sp.confirmed != 0 && sp.confirmed <= snap.Revision {
			continue
		}
		if known[sp.action.ID] {
			if sp.confirmed == 0 {
				s.emit(Outcome{Request: protocol.RequestAppend, RequestID: sp.requestID, ActionID: sp.action.ID, Revision: snap.Revision})
			}
			continue
		}
		kept = append(kept, sp)
	}
	s.speculative = trimSpeculative(kept, len(s.speculative))

	s.rebuild()
	s.logger.Debug("snapshot adopted",
		"revision", snap.Revision,
		"active", len(snap.Active),
		"speculative", len(s.speculative))
}

// enterEpoch follows a recreated room. Revisions restart with the new
// history, so the old revision and anything queued from the old history are
// forgotten. The caller marks the mirror for rebuild; the canvas keeps
// showing the old history until a snapshot of the new one is adopted.
func (s *Sequencer) enterEpoch(epoch string) {
	s.logger.Info("room history replaced", "epoch", epoch, "previous", s.epoch, "revision", s.revision)
	s.epoch = epoch
	s.revision = 0
	for rev, r := range s.pending {
		if r.Epoch != epoch {
			delete(s.pending, rev)
		}
	}
	// Confirmed strokes belonged to the old history.
	kept := s.speculative[:0]
	for _, sp := range s.speculative {
		if sp.confirmed == 0 {
			kept = append(kept, sp)
		}
	}
	s.speculative = trimSpeculative(kept, len(s.speculative))
}

func (s *Sequencer) handleError(e *protocol.Error) {
	err := e.Code.Err()
	s.logger.Debug("request failed", "request", e.Request, "request_id", e.RequestID, "error", e.Message)

	switch e.Request {
	case protocol.RequestSnapshot:
		if e.RequestID != s.snapshotID {
			return
		}
		s.snapshotID = 0
		s.snapshotDeadline = time.Time{}
		if e.Code == protocol.ErrRateLimited {
			s.snapshotRetryAt = s.now().Add(s.config.SnapshotRetry)
			return
		}
		s.fail(ierrors.ErrRecoveryFailed.Wrap(err))
	case protocol.RequestAppend:
		for i, sp := range s.speculative {
			if sp.requestID != e.RequestID {
				continue
			}
			s.speculative = append(s.speculative[:i], s.speculative[i+1:]...)
			s.conflict(Conflict{Kind: ConflictRejected, Index: -1, ActionID: sp.action.ID, Detail: e.Message, At: s.now()})
			s.rebuild()
			s.emit(Outcome{Request: e.Request, RequestID: e.RequestID, ActionID: sp.action.ID, Err: err})
			return
		}
	case protocol.RequestUndo:
		if s.undo != nil && s.undo.requestID == e.RequestID {
			s.undo = nil
			s.emit(Outcome{Request: e.Request, RequestID: e.RequestID, Err: err})
		}
	case protocol.RequestRedo:
		if s.redo != nil && s.redo.requestID == e.RequestID {
			s.redo = nil
			s.emit(Outcome{Request: e.Request, RequestID: e.RequestID, Err: err})
		}
	case protocol.RequestClear:
		if actionID, ok := s.clears[e.RequestID]; ok {
			delete(s.clears, e.RequestID)
			s.emit(Outcome{Request: e.Request, RequestID: e.RequestID, ActionID: actionID, Err: err})
		}
	}
}

func (s *Sequencer) requestSnapshot() error {
	if s.failed != nil {
		return s.failed
	}
	if s.snapshotID != 0 || !s.snapshotRetryAt.IsZero() {
		return nil
	}
	id := s.nextID()
	if err := s.transport.Send(&protocol.SnapshotRequest{RequestID: id, ProducerID: s.producerID}); err != nil {
		s.fail(ierrors.ErrRecoveryFailed.Wrap(fmt.Errorf("send snapshot request: %w", err)))
		return s.failed
	}
	s.snapshotID = id
	s.snapshotDeadline = s.now().Add(s.config.SnapshotTimeout)
	s.logger.Debug("snapshot requested", "request_id", id, "revision", s.revision)
	return nil
}

func (s *Sequencer) markRebuild(c Conflict) {
	s.needsRebuild = true
	s.conflict(c)
	_ = s.requestSnapshot()
}

func (s *Sequencer) diverged(r *protocol.Result, detail string) {
	s.logger.Warn("divergence detected", "revision", r.Revision, "op", r.Op, "index", r.Action.Index, "detail", detail)
	s.markRebuild(s.conflictFor(ConflictDivergence, r, detail))
}

func (s *Sequencer) fail(err error) {
	if s.failed != nil {
		return
	}
	s.failed = err
	s.logger.Error("recovery failed", "error", err)
	s.emit(Outcome{Request: protocol.RequestSnapshot, Err: err})
}

// rendered returns the canvas contents: active slice then speculative.
func (s *Sequencer) rendered() []action.Action {
	out := make([]action.Action, 0, len(s.active)+len(s.speculative))
	out = append(out, s.active...)
	for _, sp := range s.speculative {
		out = append(out, sp.action)
	}
	return out
}

func (s *Sequencer) rebuild() {
	s.renderer.RenderFromHistory(s.rendered())
}

func (s *Sequencer) emit(o Outcome) {
	select {
	case s.outcomes <- o:
	default:
		s.logger.Warn("outcome dropped", "request", o.Request, "request_id", o.RequestID)
	}
}

func (s *Sequencer) conflict(c Conflict) {
	if c.At.IsZero() {
		c.At = s.now()
	}
	s.conflicts.add(c)
}

func (s *Sequencer) conflictFor(kind ConflictKind, r *protocol.Result, detail string) Conflict {
	return Conflict{
		Kind:     kind,
		Revision: r.Revision,
		Index:    r.Action.Index,
		ActionID: r.Action.ID,
		Detail:   detail,
		At:       s.now(),
	}
}

func (s *Sequencer) nextID() uint64 {
	s.nextRequestID++
	return s.nextRequestID
}

// trimSpeculative clears the slots dropped by an in-place filter.
func trimSpeculative(kept []*speculativeAction, oldLen int) []*speculativeAction {
	tail := kept[len(kept):oldLen]
	for i := range tail {
		tail[i] = nil
	}
	return kept
}
