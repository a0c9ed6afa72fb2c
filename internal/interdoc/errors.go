package interdoc

import "errors"

var (
	// ErrInterdocMissing is returned when no interdoc exists for a file.
	ErrInterdocMissing = errors.New("interdoc missing")

	// ErrInvalidInterdoc is returned when an interdoc cannot be decoded or
	// its cross references do not resolve.
	ErrInvalidInterdoc = errors.New("invalid interdoc")
)
