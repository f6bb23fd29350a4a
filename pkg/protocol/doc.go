// Package protocol implements the binary wire protocol spoken between canvas
// clients and the room server.
//
// # Wire Format
//
// Every WebSocket binary message is one frame with a 6-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameRequest (0x01): client → server append/undo/redo/clear/snapshot
//   - FrameResult (0x02): server → every member, one canonical mutation
//   - FrameSnapshot (0x03): server → one member, the active slice
//   - FrameError (0x04): server → requester only
//   - FrameControl (0x05): ping, pong, close
//
// # Encoding
//
// Payloads use unsigned varints for counters, ZigZag varints for indexes and
// the cursor (which may be -1), length-prefixed strings, and big-endian
// IEEE 754 float32 for stroke geometry.
//
// # Ordering
//
// Results carry the room revision after the mutation together with the
// resulting cursor and history length. Clients order results by revision and
// request a snapshot when they detect a gap.
package protocol
