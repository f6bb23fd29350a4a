package sequencer

// State is the request state of a Sequencer.
type State uint8

const (
	// StateIdle means no own undo or redo is outstanding.
	StateIdle State = iota

	// StateAwaitingOwnUndo means an own undo is outstanding. It is also
	// reported when an own undo and an own redo are both outstanding.
	StateAwaitingOwnUndo

	// StateAwaitingOwnRedo means only an own redo is outstanding.
	StateAwaitingOwnRedo
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingOwnUndo:
		return "AwaitingOwnUndo"
	case StateAwaitingOwnRedo:
		return "AwaitingOwnRedo"
	default:
		return "Unknown"
	}
}
