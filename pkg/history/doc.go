// Package history implements the authoritative per-room drawing history.
//
// An Engine owns the canonical ordered log of actions and an undo/redo
// cursor. Entries at or below the cursor are active (rendered); entries above
// it are available for redo until the next append discards them. Undo and
// redo are global: they always target the chronologically last active entry
// regardless of who produced it.
//
// The log is a fixed-capacity ring buffer. When full, an append evicts the
// oldest entry and the cursor shifts down with it, so the active slice stays
// exactly what clients render. Every successful mutation bumps Revision,
// which clients use to detect lost or reordered results.
//
// All methods are safe for concurrent use. Mutations are linearized by the
// engine's lock; Snapshot takes a read lock and copies the active slice.
package history
