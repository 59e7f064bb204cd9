package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidArgument   = errors.New("invalid arguments")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Pipeline failures. Consumers classify job errors against these at the job boundary.
var (
	ErrInputNotFound      = errors.New("input not found")
	ErrMetadataExtraction = errors.New("metadata extraction failed")
	ErrProcessTimeout     = errors.New("process timeout")
	ErrProcessFailed      = errors.New("process failed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRegistryWrite      = errors.New("registry write failed")
	ErrVerification       = errors.New("output verification failed")
)
