package domain

import "errors"

// Errors surfaced by the account service. Callers match them with errors.Is;
// the HTTP layer maps each one to a status code.
var (
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
)

// Errors returned by account repositories.
var (
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrVersionConflict = errors.New("version conflict")
)
