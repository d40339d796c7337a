package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/affiliate-ledger/internal/domain"
	"gorm.io/gorm"
)

// mapError translates driver errors into the ledger's taxonomy. Everything
// that is not a lookup miss, a uniqueness conflict or a cancellation is
// reported as a retryable store failure.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
