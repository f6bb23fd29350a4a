package history

import (
	"sync"
	"time"

	"github.com/vango-dev/inkwell/pkg/action"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// DefaultMaxEntries is the default history capacity.
const DefaultMaxEntries = 500

// Op identifies a mutating history operation.
type Op uint8

const (
	OpAppend Op = 0x01
	OpUndo   Op = 0x02
	OpRedo   Op = 0x03
	OpClear  Op = 0x04
)

// String returns the string representation of the op.
func (o Op) String() string {
	switch o {
	case OpAppend:
		return "append"
	case OpUndo:
		return "undo"
	case OpRedo:
		return "redo"
	case OpClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Result describes the outcome of a mutation.
type Result struct {
	Op Op

	// Action is the appended action, or the one that became invisible (undo)
	// or visible again (redo).
	Action action.Action

	// Cursor and Length are the history state after the operation.
	Cursor int
	Length int

	// Revision is the engine revision after the operation.
	Revision uint64

	// Epoch identifies the engine instance. Revisions restart with it.
	Epoch string

	// Evicted is the number of oldest entries dropped by this append.
	Evicted int
}

// Snapshot is a consistent copy of the active slice.
type Snapshot struct {
	RoomID   string
	Active   []action.Action
	Cursor   int
	Length   int
	Revision uint64
	Epoch    string

	// Base is the absolute index of the oldest stored entry. The newest
	// active entry has index Base+Cursor.
	Base int64
}

// Engine is the authoritative history of one room.
type Engine struct {
	mu sync.RWMutex

	roomID string
	epoch  string

	entries  []action.Action // ring storage
	sizes    []int           // per-slot size, parallel to entries
	head     int             // ring position of the oldest entry
	count    int             // number of stored entries
	capacity int
	cursor   int   // relative index of the newest active entry, -1 if none
	base     int64 // absolute index of the oldest entry
	revision uint64

	budget int // 0 means unbounded
	used   int // total size of stored entries
	sizeOf func(action.Action) int

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp actions without a CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEpoch sets the engine epoch. By default a random id is used.
func WithEpoch(epoch string) Option {
	return func(e *Engine) {
		if epoch != "" {
			e.epoch = epoch
		}
	}
}

// WithSizeBudget bounds the total size of stored entries, as measured by
// size. Appends evict the oldest entries until the new entry fits, and an
// entry larger than the whole budget is rejected with ErrInvalidAction.
func WithSizeBudget(budget int, size func(action.Action) int) Option {
	return func(e *Engine) {
		if budget > 0 && size != nil {
			e.budget = budget
			e.sizeOf = size
		}
	}
}

// New creates an empty history for roomID holding at most maxEntries.
func New(roomID string, maxEntries int, opts ...Option) *Engine {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	e := &Engine{
		roomID:   roomID,
		epoch:    action.NewID(),
		entries:  make([]action.Action, maxEntries),
		sizes:    make([]int, maxEntries),
		capacity: maxEntries,
		cursor:   -1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RoomID returns the owning room.
func (e *Engine) RoomID() string {
	return e.roomID
}

// Epoch returns the engine epoch.
func (e *Engine) Epoch() string {
	return e.epoch
}

// Capacity returns the maximum number of stored entries.
func (e *Engine) Capacity() int {
	return e.capacity
}

// Append validates d and appends it after the cursor, discarding any redo
// tail. Malformed drafts are rejected with ErrInvalidAction and not stored.
func (e *Engine) Append(d action.Draft) (Result, error) {
	if err := d.Validate(); err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appendLocked(OpAppend, d)
}

// Clear appends a Clear action. It is undoable like any other append.
func (e *Engine) Clear(producerID, id string) (Result, error) {
	d := action.Draft{ID: id, ProducerID: producerID, Kind: action.Clear{}}
	if err := d.Validate(); err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appendLocked(OpClear, d)
}

func (e *Engine) appendLocked(op Op, d action.Draft) (Result, error) {
	if d.ID == "" {
		d.ID = action.NewID()
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = e.now().UTC()
	}

	// Eviction pops from the front, so base+count, the new index, is
	// unchanged by it.
	a := action.Action{
		ID:         d.ID,
		RoomID:     e.roomID,
		ProducerID: d.ProducerID,
		Index:      e.base + int64(e.cursor+1),
		Kind:       d.Kind,
		CreatedAt:  createdAt,
	}.Clone()

	size := 0
	if e.budget > 0 {
		size = e.sizeOf(a)
		if size > e.budget {
			return Result{}, ierrors.ErrInvalidAction.WithDetail("action size %d exceeds history budget %d", size, e.budget)
		}
	}

	// Discard the redo tail. Storage is overwritten lazily.
	for i := e.cursor + 1; i < e.count; i++ {
		e.used -= e.sizes[e.slot(i)]
		e.sizes[e.slot(i)] = 0
	}
	e.count = e.cursor + 1

	evicted := 0
	for e.count > 0 && (e.count == e.capacity || (e.budget > 0 && e.used+size > e.budget)) {
		e.evictOldest()
		evicted++
	}

	slot := e.slot(e.count)
	e.entries[slot] = a
	e.sizes[slot] = size
	e.used += size
	e.count++
	e.cursor++
	e.revision++

	return Result{
		Op:       op,
		Action:   a,
		Cursor:   e.cursor,
		Length:   e.count,
		Revision: e.revision,
		Epoch:    e.epoch,
		Evicted:  evicted,
	}, nil
}

func (e *Engine) evictOldest() {
	e.used -= e.sizes[e.head]
	e.entries[e.head] = action.Action{}
	e.sizes[e.head] = 0
	e.head = (e.head + 1) % e.capacity
	e.count--
	e.cursor--
	e.base++
}

// Undo hides the newest active entry and returns it.
func (e *Engine) Undo() (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cursor < 0 {
		return Result{}, ierrors.ErrNothingToUndo
	}
	a := e.entries[e.slot(e.cursor)]
	e.cursor--
	e.revision++
	return Result{
		Op:       OpUndo,
		Action:   a,
		Cursor:   e.cursor,
		Length:   e.count,
		Revision: e.revision,
		Epoch:    e.epoch,
	}, nil
}

// Redo makes the oldest redo-available entry visible again and returns it.
func (e *Engine) Redo() (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cursor >= e.count-1 {
		return Result{}, ierrors.ErrNothingToRedo
	}
	e.cursor++
	e.revision++
	return Result{
		Op:       OpRedo,
		Action:   e.entries[e.slot(e.cursor)],
		Cursor:   e.cursor,
		Length:   e.count,
		Revision: e.revision,
		Epoch:    e.epoch,
	}, nil
}

// Snapshot returns a copy of the active slice with the cursor, length and
// revision observed at the same instant.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := make([]action.Action, e.cursor+1)
	for i := range active {
		active[i] = e.entries[e.slot(i)]
	}
	return Snapshot{
		RoomID:   e.roomID,
		Active:   active,
		Cursor:   e.cursor,
		Length:   e.count,
		Revision: e.revision,
		Epoch:    e.epoch,
		Base:     e.base,
	}
}

// Cursor returns the current cursor.
func (e *Engine) Cursor() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor
}

// Len returns the number of stored entries, including redo-available ones.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// Revision returns the current revision.
func (e *Engine) Revision() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revision
}

// Used returns the total size of stored entries under the size budget, or
// 0 when the engine has none.
func (e *Engine) Used() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.used
}

// Base returns the absolute index of the oldest stored entry.
func (e *Engine) Base() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.base
}

// slot maps a relative index to a ring position.
func (e *Engine) slot(i int) int {
	return (e.head + i) % e.capacity
}
