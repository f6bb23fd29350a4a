package protocol

import (
	"fmt"

	"github.com/vango-dev/inkwell/pkg/action"
)

// Message is one decoded protocol message. The concrete types are closed:
// AppendRequest, UndoRequest, RedoRequest, ClearRequest, SnapshotRequest,
// Result, Snapshot, Error, Ping, Pong and Close.
type Message interface {
	FrameType() FrameType
}

// RequestKind identifies a client request.
type RequestKind uint8

const (
	RequestAppend   RequestKind = 0x01
	RequestUndo     RequestKind = 0x02
	RequestRedo     RequestKind = 0x03
	RequestClear    RequestKind = 0x04
	RequestSnapshot RequestKind = 0x05
)

// String returns the string representation of the request kind.
func (k RequestKind) String() string {
	switch k {
	case RequestAppend:
		return "append"
	case RequestUndo:
		return "undo"
	case RequestRedo:
		return "redo"
	case RequestClear:
		return "clear"
	case RequestSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Op identifies the canonical mutation a Result reports.
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

// AppendRequest asks the room to append a stroke.
type AppendRequest struct {
	RequestID  uint64
	ProducerID string
	Action     action.Action
}

// UndoRequest asks the room to undo the newest active action.
type UndoRequest struct {
	RequestID  uint64
	ProducerID string
}

// RedoRequest asks the room to redo the oldest redo-available action.
type RedoRequest struct {
	RequestID  uint64
	ProducerID string
}

// ClearRequest asks the room to append a Clear.
type ClearRequest struct {
	RequestID  uint64
	ProducerID string
	ActionID   string
}

// SnapshotRequest asks the room for its active slice.
type SnapshotRequest struct {
	RequestID  uint64
	ProducerID string
}

// Result is one canonical mutation, broadcast to every room member.
type Result struct {
	Op         Op
	RequestID  uint64
	ProducerID string // requester
	Action     action.Action
	Cursor     int
	Length     int
	Revision   uint64
	Epoch      string // history instance; revisions restart with it
}

// Snapshot is the active slice sent on join and on resync.
type Snapshot struct {
	RequestID uint64
	RoomID    string
	Active    []action.Action
	Cursor    int
	Length    int
	Revision  uint64
	Base      int64 // absolute index of the oldest stored entry
	Epoch     string
}

// Error is sent to the requester only.
type Error struct {
	RequestID uint64
	Request   RequestKind
	Code      ErrorCode
	Message   string
}

// Ping is a heartbeat probe.
type Ping struct {
	Timestamp uint64 // Unix milliseconds
}

// Pong answers a Ping.
type Pong struct {
	Timestamp uint64
}

// Close announces that the sender is closing the connection.
type Close struct {
	Reason  CloseReason
	Message string
}

func (*AppendRequest) FrameType() FrameType   { return FrameRequest }
func (*UndoRequest) FrameType() FrameType     { return FrameRequest }
func (*RedoRequest) FrameType() FrameType     { return FrameRequest }
func (*ClearRequest) FrameType() FrameType    { return FrameRequest }
func (*SnapshotRequest) FrameType() FrameType { return FrameRequest }
func (*Result) FrameType() FrameType          { return FrameResult }
func (*Snapshot) FrameType() FrameType        { return FrameSnapshot }
func (*Error) FrameType() FrameType           { return FrameError }
func (*Ping) FrameType() FrameType            { return FrameControl }
func (*Pong) FrameType() FrameType            { return FrameControl }
func (*Close) FrameType() FrameType           { return FrameControl }

// RequestOf returns the request kind and producer of a request message.
func RequestOf(m Message) (RequestKind, uint64, string, bool) {
	switch r := m.(type) {
	case *AppendRequest:
		return RequestAppend, r.RequestID, r.ProducerID, true
	case *UndoRequest:
		return RequestUndo, r.RequestID, r.ProducerID, true
	case *RedoRequest:
		return RequestRedo, r.RequestID, r.ProducerID, true
	case *ClearRequest:
		return RequestClear, r.RequestID, r.ProducerID, true
	case *SnapshotRequest:
		return RequestSnapshot, r.RequestID, r.ProducerID, true
	}
	return 0, 0, "", false
}

// ControlType is the first payload byte of a control frame.
type ControlType uint8

const (
	ControlPing  ControlType = 0x01
	ControlPong  ControlType = 0x02
	ControlClose ControlType = 0x20
)

var controlNames = map[ControlType]string{
	ControlPing:  "ping",
	ControlPong:  "pong",
	ControlClose: "close",
}

func (ct ControlType) String() string {
	if name, ok := controlNames[ct]; ok {
		return name
	}
	return fmt.Sprintf("control(0x%02x)", uint8(ct))
}

// CloseReason says why the sender of a Close is going away.
type CloseReason uint8

const (
	CloseNormal CloseReason = iota
	CloseGoingAway
	CloseServerShutdown
	CloseError
	CloseLagging // the member's outbox overflowed
)

var closeReasonNames = [...]string{
	CloseNormal:         "normal",
	CloseGoingAway:      "going away",
	CloseServerShutdown: "server shutdown",
	CloseError:          "error",
	CloseLagging:        "lagging",
}

func (cr CloseReason) String() string {
	if int(cr) < len(closeReasonNames) {
		return closeReasonNames[cr]
	}
	return fmt.Sprintf("reason(%d)", uint8(cr))
}
