package action

import (
	"math"
	"strings"
)

// Limits on stroke payloads.
const (
	// MaxPoints bounds the number of points in one stroke segment.
	MaxPoints = 10000

	// MaxWidth bounds the stroke width in canvas units.
	MaxWidth = 512
)

// Tag identifies a Kind on the wire.
type Tag uint8

const (
	TagUnknown Tag = 0x00
	TagStroke  Tag = 0x01
	TagClear   Tag = 0x02
)

// String returns the string representation of the tag.
func (t Tag) String() string {
	switch t {
	case TagStroke:
		return "stroke"
	case TagClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Kind is the closed set of action payloads: Stroke or Clear.
type Kind interface {
	Tag() Tag
	validate() error
}

// Tool is the drawing tool used for a stroke.
type Tool uint8

const (
	ToolPen         Tool = 0x01
	ToolMarker      Tool = 0x02
	ToolHighlighter Tool = 0x03
	ToolEraser      Tool = 0x04
)

// String returns the string representation of the tool.
func (t Tool) String() string {
	switch t {
	case ToolPen:
		return "pen"
	case ToolMarker:
		return "marker"
	case ToolHighlighter:
		return "highlighter"
	case ToolEraser:
		return "eraser"
	default:
		return "unknown"
	}
}

// ParseTool maps a tool name to a Tool.
func ParseTool(name string) (Tool, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pen", "":
		return ToolPen, true
	case "marker":
		return ToolMarker, true
	case "highlighter":
		return ToolHighlighter, true
	case "eraser":
		return ToolEraser, true
	}
	return 0, false
}

// Point is a canvas coordinate.
type Point struct {
	X float32
	Y float32
}

// Stroke is one tool segment.
type Stroke struct {
	Tool   Tool
	Points []Point
	Color  string
	Width  float32
}

// Tag implements Kind.
func (Stroke) Tag() Tag { return TagStroke }

func (s Stroke) validate() error {
	switch s.Tool {
	case ToolPen, ToolMarker, ToolHighlighter, ToolEraser:
	default:
		return ErrUnknownTool
	}
	if len(s.Points) == 0 {
		return ErrNoPoints
	}
	if len(s.Points) > MaxPoints {
		return ErrTooManyPoints
	}
	for _, p := range s.Points {
		if !finite(p.X) || !finite(p.Y) {
			return ErrInvalidPoint
		}
	}
	if !finite(s.Width) || s.Width <= 0 || s.Width > MaxWidth {
		return ErrInvalidWidth
	}
	if !validColor(s.Color) {
		return ErrInvalidColor
	}
	return nil
}

func (s Stroke) clone() Stroke {
	pts := make([]Point, len(s.Points))
	copy(pts, s.Points)
	s.Points = pts
	return s
}

// Clear wipes the canvas. Undoing it restores the prior canvas by replay.
type Clear struct{}

// Tag implements Kind.
func (Clear) Tag() Tag { return TagClear }

func (Clear) validate() error { return nil }

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// validColor accepts #rgb and #rrggbb.
func validColor(c string) bool {
	if len(c) != 4 && len(c) != 7 {
		return false
	}
	if c[0] != '#' {
		return false
	}
	for i := 1; i < len(c); i++ {
		switch ch := c[i]; {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}
