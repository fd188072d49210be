package scanner

import (
	"errors"

	"siv/hasher"
)

var (
	// ErrPathNotFound is returned when the root to scan does not exist.
	ErrPathNotFound = errors.New("path not found")

	// ErrNotADirectory is returned when the root to scan is not a directory.
	ErrNotADirectory = errors.New("not a directory")

	ErrUnsupportedAlgorithm = hasher.ErrUnsupportedAlgorithm
	ErrUnreadableSource     = hasher.ErrUnreadableSource
)
