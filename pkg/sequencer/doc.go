// Package sequencer implements the client side of the canvas protocol.
//
// A Sequencer receives canonical results and snapshots from the room server,
// checks that they arrive in revision order and feeds a Renderer. It keeps a
// mirror of the room's active slice so undo can be replayed locally, and
// repairs gaps or divergence by requesting a snapshot and rebuilding.
//
// # Ordering
//
// Every result carries the room revision it produced. A result whose revision
// is exactly one past the last applied revision is applied at once. Later
// revisions are queued until the missing one or a snapshot arrives. Earlier
// revisions are duplicates and are discarded.
//
// # Speculative rendering
//
// Draw renders the new stroke before the server confirms it. The canvas
// always shows the confirmed active slice followed by the unconfirmed
// strokes. A confirmed echo of the oldest unconfirmed stroke needs no redraw;
// anything else that reorders the two lists rebuilds the canvas.
//
// # Threading
//
// A Sequencer is not safe for concurrent use. The client runs it on a single
// event loop that serializes inbound messages, local commands and Tick.
package sequencer
