package action

import (
	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// Validation failures. All of them match ierrors.ErrInvalidAction.
var (
	ErrMissingProducer = ierrors.ErrInvalidAction.WithDetail("producer id is required")
	ErrMissingKind     = ierrors.ErrInvalidAction.WithDetail("action kind is required")
	ErrUnknownTool     = ierrors.ErrInvalidAction.WithDetail("unknown stroke tool")
	ErrNoPoints        = ierrors.ErrInvalidAction.WithDetail("stroke has no points")
	ErrTooManyPoints   = ierrors.ErrInvalidAction.WithDetail("stroke exceeds %d points", MaxPoints)
	ErrInvalidPoint    = ierrors.ErrInvalidAction.WithDetail("stroke point is not finite")
	ErrInvalidWidth    = ierrors.ErrInvalidAction.WithDetail("stroke width must be in (0, %d]", MaxWidth)
	ErrInvalidColor    = ierrors.ErrInvalidAction.WithDetail("stroke color must be #rgb or #rrggbb")
)
