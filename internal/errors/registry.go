package errors

// Registered error codes.
const (
	CodeInvalidAction  = "H001"
	CodeNothingToUndo  = "H002"
	CodeNothingToRedo  = "H003"
	CodeSequencingGap  = "S001"
	CodeStaleRequest   = "S002"
	CodeRequestTimeout = "S003"
	CodeRecoveryFailed = "S004"
	CodeRoomNotFound   = "R001"
	CodeRateLimited    = "R002"
	CodeMalformedFrame = "P001"
	CodeUnknownMessage = "P002"
	CodeInvalidConfig  = "C001"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	CodeInvalidAction:  {Category: CategoryHistory, Message: "invalid action"},
	CodeNothingToUndo:  {Category: CategoryHistory, Message: "nothing to undo"},
	CodeNothingToRedo:  {Category: CategoryHistory, Message: "nothing to redo"},
	CodeSequencingGap:  {Category: CategorySequencer, Message: "sequencing gap"},
	CodeStaleRequest:   {Category: CategorySequencer, Message: "stale request"},
	CodeRequestTimeout: {Category: CategorySequencer, Message: "request timed out"},
	CodeRecoveryFailed: {Category: CategorySequencer, Message: "disconnected, please rejoin"},
	CodeRoomNotFound:   {Category: CategoryRoom, Message: "room not found"},
	CodeRateLimited:    {Category: CategoryRoom, Message: "rate limited"},
	CodeMalformedFrame: {Category: CategoryProtocol, Message: "malformed frame"},
	CodeUnknownMessage: {Category: CategoryProtocol, Message: "unknown message"},
	CodeInvalidConfig:  {Category: CategoryConfig, Message: "invalid configuration"},
}

// Sentinels for errors.Is comparisons. Use WithDetail or Wrap to attach
// context; both return copies.
var (
	ErrInvalidAction  = New(CodeInvalidAction)
	ErrNothingToUndo  = New(CodeNothingToUndo)
	ErrNothingToRedo  = New(CodeNothingToRedo)
	ErrSequencingGap  = New(CodeSequencingGap)
	ErrStaleRequest   = New(CodeStaleRequest)
	ErrRequestTimeout = New(CodeRequestTimeout)
	ErrRecoveryFailed = New(CodeRecoveryFailed)
	ErrRoomNotFound   = New(CodeRoomNotFound)
	ErrRateLimited    = New(CodeRateLimited)
	ErrMalformedFrame = New(CodeMalformedFrame)
	ErrUnknownMessage = New(CodeUnknownMessage)
	ErrInvalidConfig  = New(CodeInvalidConfig)
)

// Lookup returns the template registered for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
