package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrJobNotFound is returned when a row references a bulk job that no longer exists.
	ErrJobNotFound = errors.New("bulk job not found")

	// ErrDuplicateRow marks a row that was already recorded for its job.
	ErrDuplicateRow = errors.New("row already recorded")

	// ErrNoCodesAvailable is returned when a purchase has no unclaimed codes left.
	ErrNoCodesAvailable = errors.New("no codes available")
)
