package service

import "errors"

// Sentinel errors returned by the Service.
var (
	// ErrRunInProgress is returned when a detection run is already executing.
	ErrRunInProgress = errors.New("detection run already in progress")
	// ErrEntityNotFound is returned by single-entity operations for unknown ids.
	ErrEntityNotFound = errors.New("entity not found")
)
