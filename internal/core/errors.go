package core

import "errors"

var (
	// ErrNotFound means a referenced row is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey means an insert collided with a natural key (task title, job or agent name).
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStoreUnavailable covers transient store connectivity and timeout failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrScheduleInvalid rejects malformed schedules and non-future one-shot timestamps.
	ErrScheduleInvalid = errors.New("invalid schedule")
	// ErrSourceUnavailable means the tailed log file is missing or unreadable.
	ErrSourceUnavailable = errors.New("log source unavailable")

	// ErrLoad is returned by Wake when no state could be loaded.
	ErrLoad            = errors.New("load failed")
	ErrConflict        = errors.New("conflict")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidArgument = errors.New("invalid argument")
)
