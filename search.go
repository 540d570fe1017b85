package kdtree

import (
	"fmt"
	"math"
)

// SearchParams tunes a single query. Start with [DefaultSearchParams];
// the zero value means radius 0 and self-matches excluded, which is
// almost never what you want.
type SearchParams struct {
	// Radius caps results at this true distance (inclusive). Points
	// farther away are never returned; fewer than k results is a valid
	// outcome, not an error. Default: +Inf.
	Radius float64

	// Epsilon is the approximation factor, >= 0. With Epsilon = e the
	// returned k-th distance is guaranteed within (1+e) of the true k-th
	// nearest distance; subtrees that cannot beat the current worst by
	// more than that factor are pruned. 0 means exact. Default: 0.
	Epsilon float64

	// AllowSelfMatch controls whether points at exactly distance 0 from
	// the query may be returned. Set false when querying with points that
	// are themselves in the cloud. Default: true.
	AllowSelfMatch bool

	// Container selects the bounded candidate container implementation.
	// Default: ContainerAuto.
	Container ContainerKind
}

// DefaultSearchParams returns parameters for an exact, uncapped query.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Radius:         math.Inf(1),
		Epsilon:        0,
		AllowSelfMatch: true,
		Container:      ContainerAuto,
	}
}

// SearchStats counts the work one query traversal performed. Useful for
// comparing container implementations and leaf sizes.
type SearchStats struct {
	// NodesVisited is the number of tree nodes popped and expanded.
	NodesVisited int
	// PointsScanned is the number of leaf points whose true distance was
	// computed.
	PointsScanned int
}

// Query returns the k nearest neighbors of q, ordered by ascending
// distance with ties broken by ascending index. If the cloud holds fewer
// than k points, all of them are returned.
func (t *Tree) Query(q []float64, k int) ([]Neighbor, error) {
	return t.QueryWithParams(q, k, DefaultSearchParams())
}

// QueryWithParams returns up to k neighbors of q within p.Radius,
// approximate within a (1+p.Epsilon) factor on the k-th distance.
// For p.Epsilon = 0 the result is exactly the k nearest points.
func (t *Tree) QueryWithParams(q []float64, k int, p SearchParams) ([]Neighbor, error) {
	if err := t.checkQuery(q, k, p); err != nil {
		return nil, err
	}
	cont := newContainer(k, p.Container)
	t.search(q, cont, p, nil)
	return cont.results(t.metric), nil
}

// QueryWithStats is QueryWithParams plus traversal statistics.
func (t *Tree) QueryWithStats(q []float64, k int, p SearchParams) ([]Neighbor, SearchStats, error) {
	var stats SearchStats
	if err := t.checkQuery(q, k, p); err != nil {
		return nil, stats, err
	}
	cont := newContainer(k, p.Container)
	t.search(q, cont, p, &stats)
	return cont.results(t.metric), stats, nil
}

// QueryRadius returns every point within radius of q (inclusive), ordered
// by ascending distance with ties broken by ascending index. An empty
// result is valid, not an error.
func (t *Tree) QueryRadius(q []float64, radius float64) ([]Neighbor, error) {
	if err := t.checkQueryPoint(q); err != nil {
		return nil, err
	}
	if radius < 0 || math.IsNaN(radius) {
		return nil, fmt.Errorf("%w: radius must be >= 0, got %v", ErrInvalidParameter, radius)
	}
	p := DefaultSearchParams()
	p.Radius = radius
	cont := &unboundedContainer{}
	t.search(q, cont, p, nil)
	return cont.results(t.metric), nil
}

func (t *Tree) checkQueryPoint(q []float64) error {
	if len(q) != t.dims {
		return fmt.Errorf("%w: query point has %d dimensions, tree has %d",
			ErrDimensionMismatch, len(q), t.dims)
	}
	return checkPoint(q)
}

func (t *Tree) checkQuery(q []float64, k int, p SearchParams) error {
	if err := t.checkQueryPoint(q); err != nil {
		return err
	}
	if k < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidParameter, k)
	}
	if p.Radius < 0 || math.IsNaN(p.Radius) {
		return fmt.Errorf("%w: Radius must be >= 0, got %v", ErrInvalidParameter, p.Radius)
	}
	if p.Epsilon < 0 || math.IsNaN(p.Epsilon) {
		return fmt.Errorf("%w: Epsilon must be >= 0, got %v", ErrInvalidParameter, p.Epsilon)
	}
	return nil
}

// search runs best-first branch-and-bound traversal, feeding candidates
// into cont. All bound arithmetic happens in reduced-distance space.
//
// Every queue entry carries a lower bound on the reduced distance from q
// to any point in that node's subtree. Entries are popped smallest-first,
// so once the smallest bound fails the prune test no remaining subtree
// can contain an admissible candidate and the traversal stops.
func (t *Tree) search(q []float64, cont candidateContainer, p SearchParams, stats *SearchStats) {
	if t.n == 0 {
		return
	}

	// (lb*(1+eps))^p == lb^p * (1+eps)^p, so the multiplicative slack
	// carries into reduced space as a single precomputed factor.
	errFactor := t.metric.DistToRdist(1 + p.Epsilon)
	radiusRd := t.metric.DistToRdist(p.Radius)

	var pq traversalQueue
	pq.push(0, 0)

	for {
		nodeID, bound, ok := pq.pop()
		if !ok {
			break
		}
		if bound > radiusRd || bound*errFactor > cont.worstRdist() {
			break
		}

		nd := &t.nodes[nodeID]
		if stats != nil {
			stats.NodesVisited++
		}

		if nd.kind == nodeLeaf {
			for i := nd.bucketStart; i < nd.bucketEnd; i++ {
				idx := t.perm[i]
				rd := t.metric.ReducedDistance(q, t.point(idx))
				if stats != nil {
					stats.PointsScanned++
				}
				if rd > radiusRd {
					continue
				}
				if !p.AllowSelfMatch && rd == 0 {
					continue
				}
				cont.offer(idx, rd)
			}
			continue
		}

		// The near child shares the parent's bound; the far child's bound
		// tightens to at least the distance to the splitting hyperplane,
		// which is a valid one-dimensional lower bound under any
		// axis-decomposable metric.
		off := q[nd.splitDim] - nd.splitVal
		near, far := nd.left, nd.right
		if off > 0 {
			near, far = nd.right, nd.left
		}
		planeRd := t.metric.DistToRdist(math.Abs(off))
		farBound := bound
		if planeRd > farBound {
			farBound = planeRd
		}
		pq.push(near, bound)
		pq.push(far, farBound)
	}
}

// --- traversal priority queue ---

// traversalItem is a pending subtree with a lower bound on its best
// achievable reduced distance.
type traversalItem struct {
	node  int32
	bound float64
}

// traversalQueue is a value-based binary min-heap keyed on bound.
// Hand-rolled sift operations keep traversal allocation-free apart from
// the backing slice.
type traversalQueue struct {
	items []traversalItem
}

func (pq *traversalQueue) push(node int32, bound float64) {
	pq.items = append(pq.items, traversalItem{node: node, bound: bound})
	i := len(pq.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if pq.items[parent].bound <= pq.items[i].bound {
			break
		}
		pq.items[parent], pq.items[i] = pq.items[i], pq.items[parent]
		i = parent
	}
}

func (pq *traversalQueue) pop() (node int32, bound float64, ok bool) {
	n := len(pq.items)
	if n == 0 {
		return 0, 0, false
	}
	root := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]
	pq.siftDown(0)
	return root.node, root.bound, true
}

func (pq *traversalQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		smallest := left
		if right := left + 1; right < n && pq.items[right].bound < pq.items[left].bound {
			smallest = right
		}
		if pq.items[i].bound <= pq.items[smallest].bound {
			return
		}
		pq.items[i], pq.items[smallest] = pq.items[smallest], pq.items[i]
		i = smallest
	}
}
