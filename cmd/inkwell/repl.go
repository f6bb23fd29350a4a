package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vango-dev/inkwell/pkg/action"
	"github.com/vango-dev/inkwell/pkg/client"
	"github.com/vango-dev/inkwell/pkg/render"
)

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// drawClient is the part of *client.Client the REPL drives.
type drawClient interface {
	Draw(ctx context.Context, kind action.Kind) (action.Action, error)
	Undo(ctx context.Context) (uint64, error)
	Redo(ctx context.Context) (uint64, error)
	Clear(ctx context.Context) (uint64, error)
	Resync(ctx context.Context) error
	Status(ctx context.Context) (client.Status, error)
}

// repl executes one command per input line.
type repl struct {
	client drawClient
	canvas *render.Canvas
	out    io.Writer
}

const replHelp = `commands:
  line x1,y1 x2,y2 ... [--color #hex] [--width n] [--tool pen|marker|highlighter|eraser]
  undo | redo | clear
  show [svg]
  status
  sync
  quit`

// run reads commands from in until EOF, quit or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (r *repl) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "line":
		stroke, err := parseStroke(args)
		if err != nil {
			return err
		}
		a, err := r.client.Draw(ctx, stroke)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "drew %s\n", a.ID)

	case "undo", "redo", "clear":
		var (
			id  uint64
			err error
		)
		switch cmd {
		case "undo":
			id, err = r.client.Undo(ctx)
		case "redo":
			id, err = r.client.Redo(ctx)
		default:
			id, err = r.client.Clear(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s requested (#%d)\n", cmd, id)

	case "show":
		if len(args) > 0 && args[0] == "svg" {
			return r.canvas.WriteSVG(r.out, render.DefaultSVGOptions())
		}
		ids := r.canvas.IDs()
		if len(ids) == 0 {
			fmt.Fprintln(r.out, "(empty canvas)")
			return nil
		}
		fmt.Fprintln(r.out, strings.Join(ids, " "))

	case "status":
		st, err := r.client.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "producer=%s state=%s revision=%d active=%d speculative=%d pending=%d syncing=%t conflicts=%d\n",
			st.ProducerID, st.State, st.Revision, st.Active, st.Speculative, st.Pending, st.Syncing, st.Conflicts)

	case "sync":
		return r.client.Resync(ctx)

	case "help", "?":
		fmt.Fprintln(r.out, replHelp)

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

// parseStroke parses "x1,y1 x2,y2 ... [--color c] [--width w] [--tool t]".
func parseStroke(args []string) (action.Stroke, error) {
	stroke := action.Stroke{Tool: action.ToolPen, Color: "#000000", Width: 2}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			p, err := parsePoint(arg)
			if err != nil {
				return action.Stroke{}, err
			}
			stroke.Points = append(stroke.Points, p)
			continue
		}

		name, value, ok := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !ok {
			if i+1 >= len(args) {
				return action.Stroke{}, fmt.Errorf("flag --%s needs a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "color":
			stroke.Color = value
		case "width":
			w, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return action.Stroke{}, fmt.Errorf("bad width %q", value)
			}
			stroke.Width = float32(w)
		case "tool":
			tool, ok := action.ParseTool(value)
			if !ok {
				return action.Stroke{}, fmt.Errorf("unknown tool %q", value)
			}
			stroke.Tool = tool
		default:
			return action.Stroke{}, fmt.Errorf("unknown flag --%s", name)
		}
	}

	if len(stroke.Points) == 0 {
		return action.Stroke{}, errors.New("line needs at least one point")
	}
	return stroke, nil
}

func parsePoint(s string) (action.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return action.Point{}, fmt.Errorf("bad point %q, want x,y", s)
	}
	x, err := strconv.ParseFloat(xs, 32)
	if err != nil {
		return action.Point{}, fmt.Errorf("bad point %q", s)
	}
	y, err := strconv.ParseFloat(ys, 32)
	if err != nil {
		return action.Point{}, fmt.Errorf("bad point %q", s)
	}
	return action.Point{X: float32(x), Y: float32(y)}, nil
}
