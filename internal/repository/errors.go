package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates the record already exists or was concurrently modified.
	ErrConflict = errors.New("repository: conflict")
)
