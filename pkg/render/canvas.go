package render

import (
	"sync"

	"github.com/vango-dev/inkwell/pkg/action"
)

// Stats counts the calls a Canvas has received.
type Stats struct {
	Applies  int
	Clears   int
	Rebuilds int
}

// Canvas is an in-memory canvas. It is safe for concurrent use.
type Canvas struct {
	mu      sync.RWMutex
	visible []action.Action
	stats   Stats
}

// NewCanvas creates an empty canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

// ApplyAction draws one action on top of the current canvas.
// A Clear action wipes the canvas.
func (c *Canvas) ApplyAction(a action.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Applies++
	if a.IsClear() {
		c.visible = c.visible[:0]
		return
	}
	c.visible = append(c.visible, a.Clone())
}

// Clear wipes the canvas.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Clears++
	c.visible = c.visible[:0]
}

// RenderFromHistory discards the canvas and replays active from its last
// Clear.
func (c *Canvas) RenderFromHistory(active []action.Action) {
	from := action.LastClear(active) + 1

	visible := make([]action.Action, 0, len(active)-from)
	for _, a := range active[from:] {
		visible = append(visible, a.Clone())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Rebuilds++
	c.visible = visible
}

// Strokes returns a copy of the visible strokes, oldest first.
func (c *Canvas) Strokes() []action.Action {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]action.Action, len(c.visible))
	for i, a := range c.visible {
		out[i] = a.Clone()
	}
	return out
}

// IDs returns the ids of the visible strokes, oldest first.
func (c *Canvas) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, len(c.visible))
	for i, a := range c.visible {
		ids[i] = a.ID
	}
	return ids
}

// Len returns the number of visible strokes.
func (c *Canvas) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.visible)
}

// Stats returns the call counters.
func (c *Canvas) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
