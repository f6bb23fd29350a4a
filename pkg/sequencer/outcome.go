package sequencer

import (
	"github.com/vango-dev/inkwell/pkg/protocol"
)

// Outcome reports how one of the Sequencer's own requests ended.
type Outcome struct {
	Request   protocol.RequestKind
	RequestID uint64

	// ActionID is the affected action, if known.
	ActionID string

	// Revision is the canonical revision the request produced. Zero on
	// failure.
	Revision uint64

	// Err is nil on success. Otherwise it is a structured error such as
	// ErrNothingToUndo, ErrRequestTimeout or ErrRecoveryFailed.
	Err error
}

// OK reports whether the request succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}
