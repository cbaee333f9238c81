// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres) inside this directory.
package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidSchema is returned when a stored form definition cannot be decoded.
	ErrInvalidSchema = errors.New("invalid form schema")
)
