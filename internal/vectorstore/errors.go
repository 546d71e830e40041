package vectorstore

import "errors"

var (
	// ErrDimensionMismatch is returned when a batch's vectors do not match
	// the collection's established dimension. The batch is rejected whole;
	// silently padding or truncating would corrupt every later distance
	// computation.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
