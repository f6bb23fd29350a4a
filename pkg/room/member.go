package room

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Member is one connection in a room.
type Member struct {
	// ID identifies the connection. It is unique within the registry.
	ID string

	// ProducerID is the opaque producer id stamped on the member's actions.
	ProducerID string

	// RoomID is the room the member joined.
	RoomID string

	// JoinedAt is when the member joined.
	JoinedAt time.Time

	outbox  chan []byte
	closed  bool // outbox closed; guarded by the room lock
	limiter *rate.Limiter
	dropped atomic.Uint64
	lagging atomic.Bool
	seq     uint64 // join order within the room
}

// Outbox returns the channel of encoded frames destined for the member. It is
// closed when the member leaves, falls behind or the registry closes.
func (m *Member) Outbox() <-chan []byte {
	return m.outbox
}

// Dropped returns the number of frames dropped because the outbox was full.
func (m *Member) Dropped() uint64 {
	return m.dropped.Load()
}

// Lagging reports whether the outbox was closed because it overflowed. The
// member missed frames and must rejoin to get a fresh snapshot.
func (m *Member) Lagging() bool {
	return m.lagging.Load()
}

// send enqueues frame without blocking. The caller holds the room lock.
func (m *Member) send(frame []byte) bool {
	if m.closed {
		return false
	}
	select {
	case m.outbox <- frame:
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// closeOutbox closes the outbox once. The caller holds the room lock.
func (m *Member) closeOutbox() {
	if m.closed {
		return
	}
	m.closed = true
	close(m.outbox)
}

// MemberInfo describes a member.
type MemberInfo struct {
	ID         string    `json:"id"`
	ProducerID string    `json:"producer_id"`
	JoinedAt   time.Time `json:"joined_at"`
	Dropped    uint64    `json:"dropped"`
	Lagging    bool      `json:"lagging,omitempty"`
}

func (m *Member) info() MemberInfo {
	return MemberInfo{
		ID:         m.ID,
		ProducerID: m.ProducerID,
		JoinedAt:   m.JoinedAt,
		Dropped:    m.Dropped(),
		Lagging:    m.Lagging(),
	}
}
