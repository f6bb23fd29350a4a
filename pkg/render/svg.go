package render

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vango-dev/inkwell/pkg/action"
)

// SVGOptions configures WriteSVG.
type SVGOptions struct {
	// Width and Height set the viewport. Defaults to 1024x768.
	Width  int
	Height int

	// Background fills the viewport when set.
	Background string
}

// DefaultSVGOptions returns the default SVG options.
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{Width: 1024, Height: 768}
}

// toolOpacity is the stroke opacity per tool.
var toolOpacity = map[action.Tool]string{
	action.ToolPen:         "1",
	action.ToolMarker:      "0.85",
	action.ToolHighlighter: "0.35",
	action.ToolEraser:      "1",
}

// WriteSVG writes the visible strokes as an SVG document.
// Eraser strokes are drawn in the background color.
func (c *Canvas) WriteSVG(w io.Writer, opts SVGOptions) error {
	def := DefaultSVGOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	background := opts.Background
	if background == "" {
		background = "#ffffff"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		opts.Width, opts.Height, opts.Width, opts.Height)
	bw.WriteByte('\n')
	if opts.Background != "" {
		fmt.Fprintf(bw, `<rect width="100%%" height="100%%" fill="%s"/>`, escapeAttr(background))
		bw.WriteByte('\n')
	}

	for _, a := range c.Strokes() {
		s, ok := a.Kind.(action.Stroke)
		if !ok {
			continue
		}
		color := s.Color
		if s.Tool == action.ToolEraser {
			color = background
		}
		fmt.Fprintf(bw, `<polyline id="%s" points="%s" fill="none" stroke="%s" stroke-width="%s" stroke-opacity="%s" stroke-linecap="round" stroke-linejoin="round"/>`,
			escapeAttr(a.ID),
			points(s.Points),
			escapeAttr(color),
			formatFloat(s.Width),
			toolOpacity[s.Tool],
		)
		bw.WriteByte('\n')
	}

	bw.WriteString("</svg>\n")
	return bw.Flush()
}

func points(pts []action.Point) string {
	var b strings.Builder
	for i, p := range pts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(formatFloat(p.X))
		b.WriteByte(',')
		b.WriteString(formatFloat(p.Y))
	}
	return b.String()
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

// escapeAttr escapes text for an XML attribute value.
func escapeAttr(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))

	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '"':
			buf.WriteString("&quot;")
		case '\'':
			buf.WriteString("&#39;")
		case '\n':
			buf.WriteString("&#10;")
		case '\r':
			buf.WriteString("&#13;")
		case '\t':
			buf.WriteString("&#9;")
		default:
			buf.WriteRune(r)
		}
	}

	return buf.String()
}
