package sqlite

import (
	"fmt"

	"github.com/siteform/fieldsync/internal/repository"
)

// storageErr wraps a driver failure so callers can branch on
// repository.ErrStorage without losing the underlying cause.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", repository.ErrStorage, op, err)
}
