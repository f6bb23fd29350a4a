package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/vango-dev/inkwell/pkg/action"
)

// Decoding limits. Length prefixes above them are rejected before anything
// is allocated.
const (
	MaxStringLength    = 64 * 1024
	MaxCollectionCount = 100_000
)

// pointSize is the encoded size of one stroke point.
const pointSize = 8

var (
	ErrVarintOverflow     = errors.New("protocol: varint overflow")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrCollectionTooLarge = errors.New("protocol: collection count exceeds limit")
	ErrTrailingBytes      = errors.New("protocol: trailing bytes after message")
)

// Encoder appends wire values to a growing buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 128)}
}

// Bytes returns the encoded payload.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the payload size so far.
func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *Encoder) WriteUvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

// WriteSvarint writes v zig-zag encoded.
func (e *Encoder) WriteSvarint(v int64) {
	e.buf = binary.AppendVarint(e.buf, v)
}

// WriteString writes a uvarint length followed by the bytes of s.
func (e *Encoder) WriteString(s string) {
	e.WriteUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) WriteFloat32(v float32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(v))
}

// WriteTime writes t as Unix milliseconds; the zero time is written as 0.
func (e *Encoder) WriteTime(t time.Time) {
	if t.IsZero() {
		e.WriteSvarint(0)
		return
	}
	e.WriteSvarint(t.UnixMilli())
}

// WritePoints writes a counted list of stroke points.
func (e *Encoder) WritePoints(pts []action.Point) {
	e.WriteUvarint(uint64(len(pts)))
	for _, p := range pts {
		e.WriteFloat32(p.X)
		e.WriteFloat32(p.Y)
	}
}

// WritePosition writes a history position: cursor, length and revision.
func (e *Encoder) WritePosition(cursor, length int, revision uint64) {
	e.WriteSvarint(int64(cursor))
	e.WriteUvarint(uint64(length))
	e.WriteUvarint(revision)
}

// Encoded sizes, matching what the Encoder writes.

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func svarintSize(v int64) int {
	ux := uint64(v) << 1
	if v < 0 {
		ux = ^ux
	}
	return uvarintSize(ux)
}

func stringSize(s string) int {
	return uvarintSize(uint64(len(s))) + len(s)
}

func timeSize(t time.Time) int {
	if t.IsZero() {
		return 1
	}
	return svarintSize(t.UnixMilli())
}

// Decoder reads wire values from a payload. Every read is bounds checked.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) remaining() int { return len(d.buf) - d.pos }

// EOF reports whether the payload has been consumed.
func (d *Decoder) EOF() bool { return d.pos >= len(d.buf) }

func (d *Decoder) ReadByte() (byte, error) {
	if d.EOF() {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	switch {
	case n == 0:
		return 0, io.ErrUnexpectedEOF
	case n < 0:
		return 0, ErrVarintOverflow
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) ReadSvarint() (int64, error) {
	v, n := binary.Varint(d.buf[d.pos:])
	switch {
	case n == 0:
		return 0, io.ErrUnexpectedEOF
	case n < 0:
		return 0, ErrVarintOverflow
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return "", err
	}
	if n > MaxStringLength {
		return "", ErrAllocationTooLarge
	}
	if n > uint64(d.remaining()) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

// ReadCount reads a collection count. Counts that cannot fit in the rest of
// the payload, at minItemSize bytes per item, are rejected.
func (d *Decoder) ReadCount(minItemSize int) (int, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if n > MaxCollectionCount {
		return 0, ErrCollectionTooLarge
	}
	if minItemSize > 0 && n*uint64(minItemSize) > uint64(d.remaining()) {
		return 0, io.ErrUnexpectedEOF
	}
	return int(n), nil
}

func (d *Decoder) ReadFloat32() (float32, error) {
	if d.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return math.Float32frombits(v), nil
}

func (d *Decoder) ReadTime() (time.Time, error) {
	ms, err := d.ReadSvarint()
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (d *Decoder) ReadPoints() ([]action.Point, error) {
	n, err := d.ReadCount(pointSize)
	if err != nil {
		return nil, err
	}
	pts := make([]action.Point, n)
	for i := range pts {
		if pts[i].X, err = d.ReadFloat32(); err != nil {
			return nil, err
		}
		if pts[i].Y, err = d.ReadFloat32(); err != nil {
			return nil, err
		}
	}
	return pts, nil
}

// ReadPosition reads a history position and checks that the cursor lies
// within the history.
func (d *Decoder) ReadPosition() (cursor, length int, revision uint64, err error) {
	c, err := d.ReadSvarint()
	if err != nil {
		return 0, 0, 0, err
	}
	l, err := d.ReadUvarint()
	if err != nil {
		return 0, 0, 0, err
	}
	if l > MaxCollectionCount || c < -1 || c >= int64(l) {
		return 0, 0, 0, fmt.Errorf("protocol: cursor %d outside history of length %d", c, l)
	}
	if revision, err = d.ReadUvarint(); err != nil {
		return 0, 0, 0, err
	}
	return int(c), int(l), revision, nil
}
