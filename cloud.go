package kdtree

import (
	"fmt"
	"math"
)

// Cloud is read-only, indexed access to N points of dimension D.
// An index in [0, Len()) identifies each point; Build copies every
// coordinate out of the cloud, so the cloud is only touched during
// construction. The indices returned by queries refer to positions in
// the cloud the tree was built from.
type Cloud interface {
	// Len returns the number of points.
	Len() int

	// Dims returns the dimensionality shared by all points.
	Dims() int

	// Coordinate returns coordinate d of point i.
	Coordinate(i, d int) float64
}

// MatrixCloud is a Cloud backed by flat row-major data: point i occupies
// data[i*dims : (i+1)*dims]. This is the zero-conversion layout for
// callers that already hold contiguous coordinates.
type MatrixCloud struct {
	data []float64
	n    int
	dims int
}

// NewMatrixCloud wraps flat row-major data holding n points of
// dimensionality dims. The data slice is referenced, not copied; the
// caller must not mutate it while a tree built over this cloud is being
// constructed.
func NewMatrixCloud(data []float64, n, dims int) (*MatrixCloud, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: n must be >= 0, got %d", ErrInvalidInput, n)
	}
	if dims < 1 {
		return nil, fmt.Errorf("%w: dims must be >= 1, got %d", ErrInvalidInput, dims)
	}
	if len(data) != n*dims {
		return nil, fmt.Errorf("%w: data length %d does not match n*dims = %d (n=%d, dims=%d)",
			ErrInvalidInput, len(data), n*dims, n, dims)
	}
	return &MatrixCloud{data: data, n: n, dims: dims}, nil
}

func (c *MatrixCloud) Len() int  { return c.n }
func (c *MatrixCloud) Dims() int { return c.dims }

func (c *MatrixCloud) Coordinate(i, d int) float64 { return c.data[i*c.dims+d] }

// Row returns point i as a slice view into the underlying data.
func (c *MatrixCloud) Row(i int) []float64 { return c.data[i*c.dims : (i+1)*c.dims] }

// SliceCloud is a Cloud backed by a slice of per-point coordinate slices.
type SliceCloud struct {
	rows [][]float64
	dims int
}

// NewSliceCloud wraps per-point coordinate slices. Every row must have
// exactly dims coordinates; a row of any other length is reported here,
// before any tree construction starts.
func NewSliceCloud(rows [][]float64, dims int) (*SliceCloud, error) {
	if dims < 1 {
		return nil, fmt.Errorf("%w: dims must be >= 1, got %d", ErrInvalidInput, dims)
	}
	for i, row := range rows {
		if len(row) != dims {
			return nil, fmt.Errorf("%w: point %d has %d coordinates, want %d",
				ErrInvalidInput, i, len(row), dims)
		}
	}
	return &SliceCloud{rows: rows, dims: dims}, nil
}

func (c *SliceCloud) Len() int  { return len(c.rows) }
func (c *SliceCloud) Dims() int { return c.dims }

func (c *SliceCloud) Coordinate(i, d int) float64 { return c.rows[i][d] }

// cloudPoint copies point i of the cloud into dst and returns it.
// dst must have length cloud.Dims().
func cloudPoint(cloud Cloud, i int, dst []float64) []float64 {
	for d := range dst {
		dst[d] = cloud.Coordinate(i, d)
	}
	return dst
}

// checkPoint rejects NaN coordinates, which break the total ordering the
// tree relies on.
func checkPoint(p []float64) error {
	for d, v := range p {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: coordinate %d is NaN", ErrInvalidInput, d)
		}
	}
	return nil
}
