package vector

import "errors"

// Errors returned by Index. Callers match them with errors.Is; the returned
// error usually wraps one of these with the offending values.
var (
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrMismatchedCount   = errors.New("vector and payload counts differ")
	ErrEmptyInput        = errors.New("empty input")
	ErrInvalidK          = errors.New("k must be positive")
	ErrInvalidPath       = errors.New("invalid path")
	ErrNotFound          = errors.New("index files not found")
	ErrCorruptData       = errors.New("corrupt index data")
	ErrIOFailure         = errors.New("index i/o failure")
)
