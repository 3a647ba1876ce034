package storage

import "errors"

var (
	// ErrNotFound means the requested entity, record or checkpoint was never written.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey means a change set carried a transaction record id that is
	// already stored. Records are keyed by log id, so the event was applied before.
	ErrDuplicateKey = errors.New("duplicate transaction record")

	// ErrInvalidInput means a change set failed validation before any write.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorruptRecord means a stored value could not be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)
