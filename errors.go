package kdtree

import "errors"

// Error taxonomy. All are detected before any build or traversal work
// begins; callers can match them with errors.Is. Returning fewer than k
// results (cloud smaller than k, or radius cap excludes points) is not
// an error.
var (
	// ErrInvalidInput reports a malformed cloud or file: inconsistent
	// per-point dimensionality, NaN coordinates, or a corrupt tree file.
	ErrInvalidInput = errors.New("kdtree: invalid input")

	// ErrDimensionMismatch reports a query point whose dimensionality
	// differs from the tree's.
	ErrDimensionMismatch = errors.New("kdtree: dimension mismatch")

	// ErrInvalidParameter reports an out-of-range parameter: k < 1,
	// negative radius, negative epsilon, or a config field out of range.
	ErrInvalidParameter = errors.New("kdtree: invalid parameter")
)
