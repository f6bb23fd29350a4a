package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// A frame is a 6 byte header followed by the payload:
//
//	byte 0     frame type
//	byte 1     flags
//	bytes 2-5  payload length, big endian
const (
	FrameHeaderSize = 6
	MaxPayloadSize  = 4 * 1024 * 1024
)

// SnapshotBudget bounds the total ActionSize of a snapshot's actions so that
// the encoded snapshot always fits in MaxPayloadSize. The remainder covers
// the request id, room id, epoch, count and position fields.
const SnapshotBudget = MaxPayloadSize - 2*(binary.MaxVarintLen64+MaxStringLength) - 6*binary.MaxVarintLen64

// FrameType selects the payload decoder.
type FrameType uint8

const (
	FrameRequest  FrameType = 0x01 // client to room
	FrameResult   FrameType = 0x02 // room to every member
	FrameSnapshot FrameType = 0x03 // room to one member
	FrameError    FrameType = 0x04 // room to the requester
	FrameControl  FrameType = 0x05 // ping, pong, close
)

var frameTypeNames = map[FrameType]string{
	FrameRequest:  "request",
	FrameResult:   "result",
	FrameSnapshot: "snapshot",
	FrameError:    "error",
	FrameControl:  "control",
}

func (ft FrameType) String() string {
	if name, ok := frameTypeNames[ft]; ok {
		return name
	}
	return fmt.Sprintf("frame(0x%02x)", uint8(ft))
}

// FrameFlags is the flag byte of the header.
type FrameFlags uint8

// FlagMirrored marks a frame republished by the relay.
const FlagMirrored FrameFlags = 0x01

// Has reports whether flag is set.
func (ff FrameFlags) Has(flag FrameFlags) bool {
	return ff&flag != 0
}

var (
	ErrFrameTooLarge    = errors.New("protocol: frame payload too large")
	ErrInvalidFrameType = errors.New("protocol: invalid frame type")
)

// Frame is one header plus payload.
type Frame struct {
	Type    FrameType
	Flags   FrameFlags
	Payload []byte
}

// NewFrame returns an unflagged frame.
func NewFrame(ft FrameType, payload []byte) *Frame {
	return &Frame{Type: ft, Payload: payload}
}

// Encode returns the header and payload as one slice.
func (f *Frame) Encode() []byte {
	buf := make([]byte, 0, FrameHeaderSize+len(f.Payload))
	buf = append(buf, byte(f.Type), byte(f.Flags))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	return append(buf, f.Payload...)
}

// DecodeFrame parses one frame. data must hold the whole payload; the
// returned frame owns a copy of it.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	f := &Frame{Type: FrameType(data[0]), Flags: FrameFlags(data[1])}
	if _, ok := frameTypeNames[f.Type]; !ok {
		return nil, ErrInvalidFrameType
	}

	n := binary.BigEndian.Uint32(data[2:FrameHeaderSize])
	if n > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	body := data[FrameHeaderSize:]
	if uint32(len(body)) < n {
		return nil, io.ErrUnexpectedEOF
	}
	f.Payload = append([]byte(nil), body[:n]...)
	return f, nil
}
