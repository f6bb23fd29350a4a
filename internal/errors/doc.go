// Package errors provides the structured error taxonomy shared by the history
// engine, the room coordinator, the wire protocol and the client sequencer.
//
// Every error carries a stable code that maps to a registered template:
//
//   - history: malformed input and no-op undo/redo (H001-H099)
//   - sequencer: client-local ordering conflicts and timeouts (S001-S099)
//   - room: coordinator failures such as rate limiting (R001-R099)
//   - protocol: frame and message decoding (P001-P099)
//   - config: configuration validation (C001-C099)
//
// # Usage
//
//	if errors.Is(err, ierrors.ErrNothingToUndo) {
//	    // report to the requester only
//	}
//
//	err := ierrors.ErrInvalidAction.WithDetail("stroke has no points")
//
// Sentinel values are never mutated; the With* helpers return copies.
package errors
