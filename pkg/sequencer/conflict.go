package sequencer

import (
	"fmt"
	"time"
)

// DefaultConflictLogSize is the default number of retained conflicts.
const DefaultConflictLogSize = 64

// Conflict is one detected conflict, kept for diagnostics.
type Conflict struct {
	Kind     ConflictKind
	Revision uint64 // revision of the offending message, if any
	Index    int64  // action index of the offending message, if any
	ActionID string
	Detail   string
	At       time.Time
}

// String returns a one-line description of the conflict.
func (c Conflict) String() string {
	s := fmt.Sprintf("%s rev=%d index=%d", c.Kind, c.Revision, c.Index)
	if c.ActionID != "" {
		s += " action=" + c.ActionID
	}
	if c.Detail != "" {
		s += ": " + c.Detail
	}
	return s
}

// conflictLog is a bounded ring of conflicts. The oldest entry is
// overwritten once the ring is full.
type conflictLog struct {
	entries []Conflict
	next    int
	full    bool
	total   uint64
}

func newConflictLog(size int) *conflictLog {
	if size <= 0 {
		size = DefaultConflictLogSize
	}
	return &conflictLog{entries: make([]Conflict, size)}
}

func (l *conflictLog) add(c Conflict) {
	l.entries[l.next] = c
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// list returns the retained conflicts, oldest first.
func (l *conflictLog) list() []Conflict {
	if !l.full {
		out := make([]Conflict, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]Conflict, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}
