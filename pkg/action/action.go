package action

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is one immutable canvas event.
type Action struct {
	// ID is opaque producer metadata. The history assigns one when empty.
	ID string

	// RoomID is the owning room, stamped by the history.
	RoomID string

	// ProducerID identifies the originating client connection.
	ProducerID string

	// Index is the absolute canonical position assigned at append time.
	// A new append after an undo reuses the discarded slot's index.
	Index int64

	// Kind is the action payload.
	Kind Kind

	// CreatedAt is the producer-local timestamp. Advisory only.
	CreatedAt time.Time
}

// Draft is producer input for an append, before the history stamps it.
type Draft struct {
	ID         string
	ProducerID string
	Kind       Kind
	CreatedAt  time.Time
}

// NewID returns a fresh opaque action identifier.
func NewID() string {
	return uuid.NewString()
}

// NewDraft builds a draft stamped with a fresh ID and the given time.
func NewDraft(producerID string, kind Kind, now time.Time) Draft {
	return Draft{
		ID:         NewID(),
		ProducerID: producerID,
		Kind:       kind,
		CreatedAt:  now.UTC(),
	}
}

// Validate checks that the draft is well formed.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.ProducerID) == "" {
		return ErrMissingProducer
	}
	if d.Kind == nil {
		return ErrMissingKind
	}
	return d.Kind.validate()
}

// IsClear reports whether the action is a Clear.
func (a Action) IsClear() bool {
	_, ok := a.Kind.(Clear)
	return ok
}

// Tag returns the wire tag of the action kind, or TagUnknown.
func (a Action) Tag() Tag {
	if a.Kind == nil {
		return TagUnknown
	}
	return a.Kind.Tag()
}

// Clone returns a copy that shares nothing mutable with a.
func (a Action) Clone() Action {
	if s, ok := a.Kind.(Stroke); ok {
		a.Kind = s.clone()
	}
	return a
}

// LastClear returns the position of the last Clear in actions, or -1.
// Replaying from that position yields the same canvas as replaying all.
func LastClear(actions []Action) int {
	for i := len(actions) - 1; i >= 0; i-- {
		if actions[i].IsClear() {
			return i
		}
	}
	return -1
}
