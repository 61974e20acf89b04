package repository

import (
	"fmt"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

func errRowOutOfRange(row, total int) error {
	return fmt.Errorf("%w: row %d outside 1..%d", domain.ErrValidation, row, total)
}

func errNotTerminal(status domain.JobStatus) error {
	return fmt.Errorf("%w: %s is not a terminal status", domain.ErrValidation, status)
}
