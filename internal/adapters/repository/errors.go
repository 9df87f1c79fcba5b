package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidEntity   = errors.New("invalid entity")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrClosed          = errors.New("store closed")
)
