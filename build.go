package kdtree

import (
	"fmt"
	"math"
)

// Build constructs an immutable KD-tree over every point in the cloud.
// All coordinates are copied out of the cloud during the build; the cloud
// is not referenced afterwards.
//
// The build recursively partitions the point set: the split dimension is
// the one with the greatest coordinate spread (ties to the lowest
// dimension index), and the range is partitioned around the median
// coordinate in that dimension by expected-linear selection, never a full
// sort. Ranges of at most Config.LeafSize points become leaf buckets.
//
// An empty cloud yields a valid tree whose queries return empty results.
func Build(cloud Cloud, cfg Config) (*Tree, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	n := cloud.Len()
	dims := cloud.Dims()
	if n < 0 {
		return nil, fmt.Errorf("%w: cloud reports negative length %d", ErrInvalidInput, n)
	}
	if dims < 1 {
		return nil, fmt.Errorf("%w: cloud reports dimensionality %d, want >= 1", ErrInvalidInput, dims)
	}

	// Copy coordinates and reject NaN before any partitioning starts.
	data := make([]float64, n*dims)
	for i := 0; i < n; i++ {
		for d := 0; d < dims; d++ {
			v := cloud.Coordinate(i, d)
			if math.IsNaN(v) {
				return nil, fmt.Errorf("%w: point %d coordinate %d is NaN", ErrInvalidInput, i, d)
			}
			data[i*dims+d] = v
		}
	}

	perm := make([]int32, n)
	for i := range perm {
		perm[i] = int32(i)
	}

	t := &Tree{
		dims:     dims,
		n:        n,
		leafSize: cfg.LeafSize,
		workers:  cfg.Workers,
		metric:   cfg.Metric,
		perm:     perm,
		data:     data,
	}

	b := &builder{t: t}
	b.buildRange(0, int32(n))
	t.nodes = b.nodes

	return t, nil
}

type builder struct {
	t     *Tree
	nodes []node
}

func (b *builder) coord(pos, dim int32) float64 {
	t := b.t
	return t.data[int(t.perm[pos])*t.dims+int(dim)]
}

// buildRange builds the subtree over perm[start:end] and returns its node
// index. The range strictly shrinks on each side of every split, so
// recursion always terminates.
func (b *builder) buildRange(start, end int32) int32 {
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{})

	if end-start <= int32(b.t.leafSize) {
		b.nodes[id] = node{kind: nodeLeaf, bucketStart: start, bucketEnd: end}
		return id
	}

	dim, spread := b.widestDim(start, end)
	mid := start + (end-start)/2

	if spread > 0 {
		b.selectNth(start, end, mid, dim)
	}
	// Zero spread in every dimension means all points in the range are
	// identical; fall back to a positional halving so the recursion still
	// terminates. The split value is valid either way.
	splitVal := b.coord(mid, dim)

	left := b.buildRange(start, mid)
	right := b.buildRange(mid, end)
	b.nodes[id] = node{
		kind:     nodeInternal,
		splitDim: dim,
		splitVal: splitVal,
		left:     left,
		right:    right,
	}
	return id
}

// widestDim returns the dimension with the greatest coordinate spread
// (max-min) over perm[start:end], ties broken by the lowest dimension.
func (b *builder) widestDim(start, end int32) (int32, float64) {
	dims := b.t.dims
	bestDim := int32(0)
	bestSpread := math.Inf(-1)
	for d := 0; d < dims; d++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := start; i < end; i++ {
			v := b.coord(i, int32(d))
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if spread := hi - lo; spread > bestSpread {
			bestSpread = spread
			bestDim = int32(d)
		}
	}
	return bestDim, bestSpread
}

// selectNth partially orders perm[start:end] by the given dimension so
// that position nth holds the element of rank nth-start, everything
// before it compares <= and everything after compares >=. Expected linear
// time via Hoare partitioning with a median-of-three pivot; no full sort
// of the range ever happens.
func (b *builder) selectNth(start, end, nth, dim int32) {
	perm := b.t.perm
	for end-start > 1 {
		pivot := b.medianOfThree(start, start+(end-start)/2, end-1, dim)

		i, j := start, end-1
		for i <= j {
			for b.coord(i, dim) < pivot {
				i++
			}
			for b.coord(j, dim) > pivot {
				j--
			}
			if i <= j {
				perm[i], perm[j] = perm[j], perm[i]
				i++
				j--
			}
		}

		// perm[start:j+1] <= pivot, perm[i:end] >= pivot; anything between
		// j and i equals the pivot, so nth landing there is already placed.
		switch {
		case nth <= j:
			end = j + 1
		case nth >= i:
			start = i
		default:
			return
		}
	}
}

func (b *builder) medianOfThree(i, j, k, dim int32) float64 {
	a, m, z := b.coord(i, dim), b.coord(j, dim), b.coord(k, dim)
	if a > m {
		a, m = m, a
	}
	if m > z {
		m = z
	}
	if a > m {
		m = a
	}
	return m
}
