package protocol

import (
	"fmt"

	"github.com/vango-dev/inkwell/pkg/action"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// Encode encodes a message into a complete frame.
func Encode(m Message) ([]byte, error) {
	f, err := EncodeFrame(m)
	if err != nil {
		return nil, err
	}
	return f.Encode(), nil
}

// EncodeFrame encodes a message into a Frame.
func EncodeFrame(m Message) (*Frame, error) {
	e := NewEncoder()

	switch msg := m.(type) {
	case *AppendRequest:
		e.WriteByte(byte(RequestAppend))
		e.WriteUvarint(msg.RequestID)
		e.WriteString(msg.ProducerID)
		if err := encodeAction(e, msg.Action); err != nil {
			return nil, err
		}
	case *UndoRequest:
		e.WriteByte(byte(RequestUndo))
		e.WriteUvarint(msg.RequestID)
		e.WriteString(msg.ProducerID)
	case *RedoRequest:
		e.WriteByte(byte(RequestRedo))
		e.WriteUvarint(msg.RequestID)
		e.WriteString(msg.ProducerID)
	case *ClearRequest:
		e.WriteByte(byte(RequestClear))
		e.WriteUvarint(msg.RequestID)
		e.WriteString(msg.ProducerID)
		e.WriteString(msg.ActionID)
	case *SnapshotRequest:
		e.WriteByte(byte(RequestSnapshot))
		e.WriteUvarint(msg.RequestID)
		e.WriteString(msg.ProducerID)
	case *Result:
		e.WriteByte(byte(msg.Op))
		e.WriteUvarint(msg.RequestID)
		e.WriteString(msg.ProducerID)
		if err := encodeAction(e, msg.Action); err != nil {
			return nil, err
		}
		e.WritePosition(msg.Cursor, msg.Length, msg.Revision)
		e.WriteString(msg.Epoch)
	case *Snapshot:
		e.WriteUvarint(msg.RequestID)
		e.WriteString(msg.RoomID)
		e.WriteUvarint(uint64(len(msg.Active)))
		for i := range msg.Active {
			if err := encodeAction(e, msg.Active[i]); err != nil {
				return nil, err
			}
		}
		e.WritePosition(msg.Cursor, msg.Length, msg.Revision)
		e.WriteSvarint(msg.Base)
		e.WriteString(msg.Epoch)
	case *Error:
		e.WriteUvarint(msg.RequestID)
		e.WriteByte(byte(msg.Request))
		e.WriteUvarint(uint64(msg.Code))
		e.WriteString(msg.Message)
	case *Ping:
		e.WriteByte(byte(ControlPing))
		e.WriteUvarint(msg.Timestamp)
	case *Pong:
		e.WriteByte(byte(ControlPong))
		e.WriteUvarint(msg.Timestamp)
	case *Close:
		e.WriteByte(byte(ControlClose))
		e.WriteByte(byte(msg.Reason))
		e.WriteString(msg.Message)
	default:
		return nil, ierrors.ErrUnknownMessage.WithDetail("cannot encode %T", m)
	}

	if e.Len() > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	return NewFrame(m.FrameType(), e.Bytes()), nil
}

// Decode decodes a complete frame into a message.
func Decode(data []byte) (Message, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, ierrors.ErrMalformedFrame.Wrap(err)
	}
	return DecodeFrameMessage(f)
}

// DecodeFrameMessage decodes the payload of f into a message.
func DecodeFrameMessage(f *Frame) (Message, error) {
	d := NewDecoder(f.Payload)

	var (
		m   Message
		err error
	)
	switch f.Type {
	case FrameRequest:
		m, err = decodeRequest(d)
	case FrameResult:
		m, err = decodeResult(d)
	case FrameSnapshot:
		m, err = decodeSnapshot(d)
	case FrameError:
		m, err = decodeError(d)
	case FrameControl:
		m, err = decodeControl(d)
	default:
		return nil, ierrors.ErrUnknownMessage.WithDetail("frame type %s", f.Type)
	}
	if err != nil {
		if ierrors.CodeOf(err) != "" {
			return nil, err
		}
		return nil, ierrors.ErrMalformedFrame.Wrap(err)
	}
	if !d.EOF() {
		return nil, ierrors.ErrMalformedFrame.Wrap(ErrTrailingBytes)
	}
	return m, nil
}

func decodeRequest(d *Decoder) (Message, error) {
	kind, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	requestID, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	producerID, err := d.ReadString()
	if err != nil {
		return nil, err
	}

	switch RequestKind(kind) {
	case RequestAppend:
		a, err := decodeAction(d)
		if err != nil {
			return nil, err
		}
		return &AppendRequest{RequestID: requestID, ProducerID: producerID, Action: a}, nil
	case RequestUndo:
		return &UndoRequest{RequestID: requestID, ProducerID: producerID}, nil
	case RequestRedo:
		return &RedoRequest{RequestID: requestID, ProducerID: producerID}, nil
	case RequestClear:
		id, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		return &ClearRequest{RequestID: requestID, ProducerID: producerID, ActionID: id}, nil
	case RequestSnapshot:
		return &SnapshotRequest{RequestID: requestID, ProducerID: producerID}, nil
	}
	return nil, ierrors.ErrUnknownMessage.WithDetail("request kind 0x%02x", kind)
}

func decodeResult(d *Decoder) (Message, error) {
	op, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch Op(op) {
	case OpAppend, OpUndo, OpRedo, OpClear:
	default:
		return nil, ierrors.ErrUnknownMessage.WithDetail("result op 0x%02x", op)
	}
	r := &Result{Op: Op(op)}
	if r.RequestID, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if r.ProducerID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if r.Action, err = decodeAction(d); err != nil {
		return nil, err
	}
	if r.Cursor, r.Length, r.Revision, err = d.ReadPosition(); err != nil {
		return nil, err
	}
	if r.Epoch, err = d.ReadString(); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeSnapshot(d *Decoder) (Message, error) {
	s := &Snapshot{}
	var err error
	if s.RequestID, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if s.RoomID, err = d.ReadString(); err != nil {
		return nil, err
	}
	// An action takes at least a handful of bytes (three empty strings, an
	// index, a timestamp and a tag).
	count, err := d.ReadCount(6)
	if err != nil {
		return nil, err
	}
	s.Active = make([]action.Action, count)
	for i := range s.Active {
		if s.Active[i], err = decodeAction(d); err != nil {
			return nil, err
		}
	}
	if s.Cursor, s.Length, s.Revision, err = d.ReadPosition(); err != nil {
		return nil, err
	}
	if s.Base, err = d.ReadSvarint(); err != nil {
		return nil, err
	}
	if s.Epoch, err = d.ReadString(); err != nil {
		return nil, err
	}
	if s.Base < 0 {
		return nil, fmt.Errorf("protocol: negative snapshot base %d", s.Base)
	}
	if len(s.Active) != s.Cursor+1 {
		return nil, fmt.Errorf("protocol: snapshot has %d actions but cursor %d", len(s.Active), s.Cursor)
	}
	return s, nil
}

func decodeError(d *Decoder) (Message, error) {
	m := &Error{}
	var err error
	if m.RequestID, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	kind, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	m.Request = RequestKind(kind)
	code, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if code > 0xFFFF {
		return nil, fmt.Errorf("protocol: error code %d out of range", code)
	}
	m.Code = ErrorCode(code)
	if m.Message, err = d.ReadString(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeControl(d *Decoder) (Message, error) {
	ct, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch ControlType(ct) {
	case ControlPing:
		ts, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		return &Ping{Timestamp: ts}, nil
	case ControlPong:
		ts, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		return &Pong{Timestamp: ts}, nil
	case ControlClose:
		reason, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		msg, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		return &Close{Reason: CloseReason(reason), Message: msg}, nil
	}
	return nil, ierrors.ErrUnknownMessage.WithDetail("control type 0x%02x", ct)
}

func encodeAction(e *Encoder, a action.Action) error {
	e.WriteString(a.ID)
	e.WriteString(a.RoomID)
	e.WriteString(a.ProducerID)
	e.WriteSvarint(a.Index)
	e.WriteTime(a.CreatedAt)

	switch k := a.Kind.(type) {
	case action.Stroke:
		e.WriteByte(byte(action.TagStroke))
		e.WriteByte(byte(k.Tool))
		e.WriteString(k.Color)
		e.WriteFloat32(k.Width)
		e.WritePoints(k.Points)
	case action.Clear:
		e.WriteByte(byte(action.TagClear))
	default:
		return ierrors.ErrInvalidAction.WithDetail("cannot encode action kind %T", a.Kind)
	}
	return nil
}

// ActionSize returns the number of bytes encodeAction writes for a.
func ActionSize(a action.Action) int {
	n := stringSize(a.ID) + stringSize(a.RoomID) + stringSize(a.ProducerID)
	n += svarintSize(a.Index) + timeSize(a.CreatedAt) + 1
	if k, ok := a.Kind.(action.Stroke); ok {
		n += 1 + stringSize(k.Color) + 4
		n += uvarintSize(uint64(len(k.Points))) + len(k.Points)*pointSize
	}
	return n
}

func decodeAction(d *Decoder) (action.Action, error) {
	var (
		a   action.Action
		err error
	)
	if a.ID, err = d.ReadString(); err != nil {
		return a, err
	}
	if a.RoomID, err = d.ReadString(); err != nil {
		return a, err
	}
	if a.ProducerID, err = d.ReadString(); err != nil {
		return a, err
	}
	if a.Index, err = d.ReadSvarint(); err != nil {
		return a, err
	}
	if a.CreatedAt, err = d.ReadTime(); err != nil {
		return a, err
	}

	tag, err := d.ReadByte()
	if err != nil {
		return a, err
	}
	switch action.Tag(tag) {
	case action.TagStroke:
		var s action.Stroke
		tool, err := d.ReadByte()
		if err != nil {
			return a, err
		}
		s.Tool = action.Tool(tool)
		if s.Color, err = d.ReadString(); err != nil {
			return a, err
		}
		if s.Width, err = d.ReadFloat32(); err != nil {
			return a, err
		}
		if s.Points, err = d.ReadPoints(); err != nil {
			return a, err
		}
		a.Kind = s
	case action.TagClear:
		a.Kind = action.Clear{}
	default:
		return a, ierrors.ErrInvalidAction.WithDetail("unknown action tag 0x%02x", tag)
	}
	return a, nil
}
