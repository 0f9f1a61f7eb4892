// internal/utils/error_handler.go
package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// HandleError logs err under message. A nil err is a no-op, so callers can
// hand over results unconditionally.
func HandleError(logger *zap.Logger, err error, message string) {
	if err == nil {
		return
	}
	logger.Error(message, zap.Error(err))
}

// WrapError annotates err with message while keeping the chain intact for
// errors.Is and errors.As.
func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}
