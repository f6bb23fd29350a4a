// Package action defines the immutable drawing records exchanged between
// canvas participants and the authoritative history.
//
// An Action is one canvas event: a Stroke (one tool segment with its points,
// color and width) or a Clear (a full-redraw boundary). The Kind field is a
// closed variant; switch on it with a type switch:
//
//	switch k := a.Kind.(type) {
//	case action.Stroke:
//	    draw(k.Points)
//	case action.Clear:
//	    wipe()
//	}
//
// Ordering never comes from CreatedAt or ID. The history engine assigns the
// canonical Index when it appends the action.
package action
