package kdtree

// Node variants. The internal/leaf duality is a closed set of two shapes,
// expressed as a tag on one flat struct rather than a type hierarchy, so
// nodes pack into a contiguous slice.
type nodeKind uint8

const (
	nodeInternal nodeKind = iota
	nodeLeaf
)

// node is one slot in the tree's node array. For internal nodes the
// splitting hyperplane is {x : x[splitDim] == splitVal}; every point in
// the left subtree satisfies x[splitDim] <= splitVal and every point in
// the right subtree satisfies x[splitDim] >= splitVal. For leaves,
// perm[bucketStart:bucketEnd] holds the original cloud indices of the
// bucket's points.
type node struct {
	kind     nodeKind
	splitDim int32
	splitVal float64
	left     int32
	right    int32

	bucketStart int32
	bucketEnd   int32
}

// Tree is an immutable KD-tree over a point cloud. Build is the only way
// to create one (or Load/OpenFile for persisted trees); after that it is
// read-only and safe for concurrent queries without synchronization.
//
// The tree owns a full copy of the cloud's coordinates, taken at build
// time, so queries never touch the original Cloud. Only the meaning of
// the returned indices still depends on the caller keeping their own
// point storage stable.
type Tree struct {
	dims     int
	n        int
	leafSize int
	workers  int
	metric   Metric

	// nodes is the tree in array form, rooted at index 0.
	nodes []node
	// perm maps tree-order positions to original cloud indices; leaf
	// buckets are contiguous ranges of perm.
	perm []int32
	// data is the flat row-major coordinate copy, indexed by original
	// cloud position: point i occupies data[i*dims : (i+1)*dims].
	data []float64

	// mapped is non-nil for trees opened with OpenFile; perm and data are
	// then views into the mapping and Close must be called.
	mapped *mappedFile
}

// Len returns the number of indexed points.
func (t *Tree) Len() int { return t.n }

// Dims returns the dimensionality of the indexed points.
func (t *Tree) Dims() int { return t.dims }

// LeafSize returns the maximum leaf bucket size the tree was built with.
func (t *Tree) LeafSize() int { return t.leafSize }

// NumNodes returns the total number of nodes (internal + leaf).
func (t *Tree) NumNodes() int { return len(t.nodes) }

// Metric returns the distance metric the tree was built with.
func (t *Tree) Metric() Metric { return t.metric }

// point returns the coordinates of original cloud index i as a view into
// the tree's coordinate copy.
func (t *Tree) point(i int32) []float64 {
	return t.data[int(i)*t.dims : (int(i)+1)*t.dims]
}

// Close releases the file mapping behind a tree opened with OpenFile.
// It is a no-op for trees built in memory. The tree must not be queried
// after Close.
func (t *Tree) Close() error {
	if t.mapped == nil {
		return nil
	}
	m := t.mapped
	t.mapped = nil
	t.perm = nil
	t.data = nil
	return m.close()
}
