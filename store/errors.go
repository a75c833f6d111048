package store

import (
	"errors"

	"gorm.io/gorm"
)

// Error taxonomy. Storage-specific failures (unique-constraint violations,
// missing rows) are translated to these at the store boundary so callers
// never see gorm error types.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}
