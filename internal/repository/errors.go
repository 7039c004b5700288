package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a record does not exist in any tier.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by optimistic saves when the stored revision moved on.
	ErrConflict = errors.New("record was modified concurrently")
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
