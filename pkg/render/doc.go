// Package render provides an in-memory canvas model.
//
// A Canvas receives validated, ordered actions from a sequencer and keeps the
// strokes that are currently visible. It does not rasterize; callers that
// need pixels read the visible strokes or export them as SVG.
//
// # Redraw boundaries
//
// A Clear action wipes everything drawn before it. RenderFromHistory replays
// only the actions after the last Clear in the slice it is given, so undoing
// a Clear restores the earlier strokes exactly:
//
//	c := render.NewCanvas()
//	c.RenderFromHistory(active)
//	for _, s := range c.Strokes() {
//	    fmt.Println(s.ID, s.Kind)
//	}
package render
