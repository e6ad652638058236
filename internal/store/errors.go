package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no entity exists for the given id.
	ErrNotFound = errors.New("entity not found")

	// ErrStorage marks local I/O failures (corruption, disk full). This
	// class is fatal-and-reported, never retried by the sync engine.
	ErrStorage = errors.New("local storage failure")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}
