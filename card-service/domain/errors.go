package domain

import "github.com/pkg/errors"

var (
	// ErrDuplicateCommand signals a command id that was already processed.
	ErrDuplicateCommand = errors.New("command already processed")

	// ErrNotFound signals a missing authorization record.
	ErrNotFound = errors.New("authorization not found")
)
