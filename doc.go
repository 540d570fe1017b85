// Package kdtree implements a KD-tree spatial index for exact and
// approximate k-nearest-neighbor (KNN) queries over static point clouds
// of small, fixed dimensionality (typically 2-4 dimensions).
//
// The tree is built once over all points and is immutable afterwards;
// rebuilding is the only way to reflect changes to the underlying cloud.
// Queries use best-first branch-and-bound traversal with reduced-distance
// pruning, so the Euclidean hot path never takes a square root until
// results are returned.
//
// Basic usage:
//
//	cloud, err := kdtree.NewMatrixCloud(data, n, dims)
//	tree, err := kdtree.Build(cloud, kdtree.DefaultConfig())
//	neighbors, err := tree.Query(queryPoint, 10)
//	// neighbors[i].Index is a position in the original cloud
//	// neighbors[i].Dist is the true distance, ascending
//
// Approximate and bounded queries go through QueryWithParams:
//
//	p := kdtree.DefaultSearchParams()
//	p.Epsilon = 0.1        // returned k-th distance within 1.1x of true
//	p.Radius = 25.0        // ignore anything farther than 25
//	neighbors, err := tree.QueryWithParams(queryPoint, 10, p)
//
// # Concurrency
//
// A built tree is read-only and safe for concurrent queries from any
// number of goroutines without synchronization; each query owns its own
// candidate container and traversal state. QueryBatch and
// QueryBatchContext run an independent query per input row and can fan
// out across Config.Workers goroutines.
//
// # Candidate containers
//
// The bounded best-k container used during traversal comes in two
// interchangeable shapes: a binary max-heap and a bounded insertion-sorted
// array. The array wins for small k due to cache locality; the heap wins
// for large k. SearchParams.Container selects one, or leave it as
// ContainerAuto to pick by k.
package kdtree
