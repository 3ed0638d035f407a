package icp

import "errors"

var (
	// ErrNotInitialized is returned when an operation requires an acquired
	// programmer and Init has not succeeded (or Deinit already ran).
	ErrNotInitialized = errors.New("icp: session not initialized")

	// ErrNoTrigger is returned by the glitch operations when no trigger
	// line is configured.
	ErrNoTrigger = errors.New("icp: no trigger pin configured")

	// ErrReadLength is returned when a flash read is requested with a
	// non-positive length.
	ErrReadLength = errors.New("icp: read length must be positive")
)
