package protocol

import (
	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// ErrorCode identifies the type of error on the wire.
type ErrorCode uint16

const (
	ErrUnknown        ErrorCode = 0x0000 // Unknown error
	ErrInvalidAction  ErrorCode = 0x0001 // Malformed producer input
	ErrNothingToUndo  ErrorCode = 0x0002 // Cursor already at -1
	ErrNothingToRedo  ErrorCode = 0x0003 // Cursor already at newest entry
	ErrRateLimited    ErrorCode = 0x0004 // Snapshot requested too often
	ErrMalformedFrame ErrorCode = 0x0005 // Frame or payload could not be decoded
	ErrUnknownMessage ErrorCode = 0x0006 // Unsupported message
	ErrRoomNotFound   ErrorCode = 0x0007 // Room no longer exists
	ErrServerError    ErrorCode = 0x0100 // Internal server error
)

var codeToInternal = map[ErrorCode]string{
	ErrInvalidAction:  ierrors.CodeInvalidAction,
	ErrNothingToUndo:  ierrors.CodeNothingToUndo,
	ErrNothingToRedo:  ierrors.CodeNothingToRedo,
	ErrRateLimited:    ierrors.CodeRateLimited,
	ErrMalformedFrame: ierrors.CodeMalformedFrame,
	ErrUnknownMessage: ierrors.CodeUnknownMessage,
	ErrRoomNotFound:   ierrors.CodeRoomNotFound,
}

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrInvalidAction:
		return "InvalidAction"
	case ErrNothingToUndo:
		return "NothingToUndo"
	case ErrNothingToRedo:
		return "NothingToRedo"
	case ErrRateLimited:
		return "RateLimited"
	case ErrMalformedFrame:
		return "MalformedFrame"
	case ErrUnknownMessage:
		return "UnknownMessage"
	case ErrRoomNotFound:
		return "RoomNotFound"
	case ErrServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// CodeFor maps an error to its wire code.
func CodeFor(err error) ErrorCode {
	code := ierrors.CodeOf(err)
	for wire, internal := range codeToInternal {
		if internal == code {
			return wire
		}
	}
	return ErrServerError
}

// Err returns the structured error the wire code stands for.
func (ec ErrorCode) Err() *ierrors.Error {
	if code, ok := codeToInternal[ec]; ok {
		return ierrors.New(code)
	}
	return ierrors.Newf(ierrors.CategoryProtocol, "server error")
}

// NewError builds the wire error for a failed request.
func NewError(requestID uint64, kind RequestKind, err error) *Error {
	return &Error{
		RequestID: requestID,
		Request:   kind,
		Code:      CodeFor(err),
		Message:   err.Error(),
	}
}
