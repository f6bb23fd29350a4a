package sequencer

// ConflictKind classifies a detected ordering problem.
type ConflictKind uint8

const (
	ConflictDuplicate  ConflictKind = iota + 1 // revision already applied
	ConflictGap                                // revision ahead of a missing predecessor
	ConflictClear                              // clear received, rebuild pending
	ConflictDivergence                         // index, id or length mismatch
	ConflictEviction                           // oldest mirror entries trimmed
	ConflictTimeout                            // own request expired
	ConflictRejected                           // own request rejected by the server
	ConflictStale                              // duplicate local request or stale snapshot
	ConflictEpoch                              // room history was recreated
)

// String returns the string representation of the conflict kind.
func (k ConflictKind) String() string {
	switch k {
	case ConflictDuplicate:
		return "duplicate"
	case ConflictGap:
		return "gap"
	case ConflictClear:
		return "clear"
	case ConflictDivergence:
		return "divergence"
	case ConflictEviction:
		return "eviction"
	case ConflictTimeout:
		return "timeout"
	case ConflictRejected:
		return "rejected"
	case ConflictStale:
		return "stale"
	case ConflictEpoch:
		return "epoch"
	default:
		return "unknown"
	}
}

// Resolution is what the Sequencer does with an inbound result.
type Resolution uint8

const (
	// ResolveApply applies the result to the mirror and the renderer.
	ResolveApply Resolution = iota + 1

	// ResolveQueue holds the result until its predecessor or a snapshot
	// arrives.
	ResolveQueue

	// ResolveRebuild queues the result and marks the canvas for a full
	// rebuild from the next snapshot.
	ResolveRebuild

	// ResolveDiscard drops the result.
	ResolveDiscard
)

// String returns the string representation of the resolution.
func (r Resolution) String() string {
	switch r {
	case ResolveApply:
		return "apply"
	case ResolveQueue:
		return "queue"
	case ResolveRebuild:
		return "rebuild"
	case ResolveDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Classify decides how to handle a result with revision rev when the last
// applied revision is last. While a rebuild is pending nothing is applied
// directly; newer results wait for the snapshot.
//
//	rev <= last              discard (duplicate)
//	rev == last+1            apply
//	rev == last+2            queue, one message missing
//	rev >  last+2            queue and rebuild
func Classify(last, rev uint64, rebuilding bool) Resolution {
	switch {
	case rev <= last:
		return ResolveDiscard
	case rebuilding:
		return ResolveQueue
	case rev == last+1:
		return ResolveApply
	case rev == last+2:
		return ResolveQueue
	default:
		return ResolveRebuild
	}
}
