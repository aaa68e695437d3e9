package graphql

import (
	"context"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/joyautomation/mantle/errors"
)

// gqlError builds a client-facing error with a stable code in the
// extensions. Retryable errors carry an explicit hint so clients can
// back off and resubmit instead of surfacing the failure.
func gqlError(message, code, operation string, retryable bool) *gqlerror.Error {
	ext := map[string]any{
		"code":      code,
		"operation": operation,
	}
	if retryable {
		ext["retryable"] = true
	}
	return &gqlerror.Error{Message: message, Extensions: ext}
}

// wrapError converts a resolver error into a GraphQL error, mapping the
// error class onto a stable code so clients can distinguish bad input
// from backend trouble.
func wrapError(err error, operation string) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return gqlError("Operation timeout exceeded", "DEADLINE_EXCEEDED", operation, true)
	case errors.Is(err, context.Canceled):
		return gqlError("Operation cancelled", "CANCELLED", operation, false)
	case errors.IsInvalid(err):
		return gqlError(fmt.Sprintf("Invalid input: %s", err), "INVALID_INPUT", operation, false)
	case errors.IsTransient(err):
		return gqlError(fmt.Sprintf("Temporary error: %s", err), "TRANSIENT_ERROR", operation, true)
	case errors.IsFatal(err):
		// Fatal details stay server-side; the log carries the cause.
		return gqlError("Internal server error", "INTERNAL_ERROR", operation, false)
	default:
		return gqlError(fmt.Sprintf("Operation failed: %s", err), "OPERATION_ERROR", operation, false)
	}
}
