// Package repository holds what the store backends share. Backends live in
// subpackages: postgres for production, memory for tests and local runs.
package repository

import "errors"

var (
	// ErrNotFound is returned by every backend when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert-once row already exists.
	ErrDuplicate = errors.New("record already exists")
)
