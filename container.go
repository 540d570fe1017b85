package kdtree

import (
	"container/heap"
	"math"
	"sort"
)

// Neighbor is one query result: a position in the original cloud and its
// true distance to the query point.
type Neighbor struct {
	Index int
	Dist  float64
}

// ContainerKind selects the bounded candidate container used during
// traversal. Both kinds satisfy the same contract and produce identical
// results; they differ only in constant factors.
type ContainerKind int

const (
	// ContainerAuto picks ContainerList for k <= 32 and ContainerHeap above.
	ContainerAuto ContainerKind = iota

	// ContainerList is a bounded insertion-sorted array. O(k) per
	// admission, but contiguous and branch-friendly; it beats the heap for
	// the small k values typical of point-cloud pipelines.
	ContainerList

	// ContainerHeap is a binary max-heap. O(log k) per admission; the
	// better choice for large k.
	ContainerHeap
)

const autoListMaxK = 32

// rdCandidate is a container entry in reduced-distance space.
type rdCandidate struct {
	index int32
	rdist float64
}

// worseThan orders candidates by (rdist, index) ascending; the worst
// candidate is the largest under this order. Breaking distance ties by
// index keeps the admitted set, and therefore every result sequence,
// deterministic.
func (c rdCandidate) worseThan(o rdCandidate) bool {
	if c.rdist != o.rdist {
		return c.rdist > o.rdist
	}
	return c.index > o.index
}

// candidateContainer tracks the best k candidates seen during one query
// traversal. Instances are created per query and never shared.
//
// worstRdist is the pruning threshold the search engine reads on every
// pop, so both implementations keep it O(1).
type candidateContainer interface {
	// offer admits the candidate if the container is not full or the
	// candidate beats the current worst, evicting the worst in that case.
	// Reports whether admission occurred.
	offer(index int32, rdist float64) bool

	// worstRdist returns the current k-th best reduced distance, or +Inf
	// while fewer than k candidates have been admitted.
	worstRdist() float64

	// results consumes the container and returns candidates ordered by
	// ascending distance, ties by ascending index, converted to true
	// distances under m.
	results(m Metric) []Neighbor
}

func newContainer(k int, kind ContainerKind) candidateContainer {
	switch kind {
	case ContainerHeap:
		return newHeapContainer(k)
	case ContainerList:
		return newListContainer(k)
	default:
		if k <= autoListMaxK {
			return newListContainer(k)
		}
		return newHeapContainer(k)
	}
}

// sortedResults converts candidates to true distances and orders them by
// (distance, index) ascending. Shared by all container implementations.
func sortedResults(items []rdCandidate, m Metric) []Neighbor {
	sort.Slice(items, func(i, j int) bool {
		return items[j].worseThan(items[i])
	})
	out := make([]Neighbor, len(items))
	for i, c := range items {
		out[i] = Neighbor{Index: int(c.index), Dist: m.RdistToDist(c.rdist)}
	}
	return out
}

// --- heap container ---

// heapContainer is a bounded max-heap of candidates, worst on top.
type heapContainer struct {
	k     int
	items candidateHeap
}

func newHeapContainer(k int) *heapContainer {
	return &heapContainer{k: k, items: make(candidateHeap, 0, k)}
}

func (h *heapContainer) offer(index int32, rdist float64) bool {
	c := rdCandidate{index: index, rdist: rdist}
	if len(h.items) < h.k {
		heap.Push(&h.items, c)
		return true
	}
	if !h.items[0].worseThan(c) {
		return false
	}
	h.items[0] = c
	heap.Fix(&h.items, 0)
	return true
}

func (h *heapContainer) worstRdist() float64 {
	if len(h.items) < h.k {
		return math.Inf(1)
	}
	return h.items[0].rdist
}

func (h *heapContainer) results(m Metric) []Neighbor {
	return sortedResults(h.items, m)
}

// candidateHeap is a max-heap of rdCandidate (worst candidate on top).
type candidateHeap []rdCandidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].worseThan(h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(rdCandidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// --- list container ---

// listContainer is a bounded array kept sorted ascending by
// (rdist, index). Admission shifts from the back, overwriting the evicted
// worst entry in the same pass.
type listContainer struct {
	k     int
	items []rdCandidate
}

func newListContainer(k int) *listContainer {
	return &listContainer{k: k, items: make([]rdCandidate, 0, k)}
}

func (l *listContainer) offer(index int32, rdist float64) bool {
	c := rdCandidate{index: index, rdist: rdist}
	n := len(l.items)
	if n == l.k {
		if !l.items[n-1].worseThan(c) {
			return false
		}
	} else {
		l.items = append(l.items, rdCandidate{})
		n++
	}
	i := n - 1
	for i > 0 && l.items[i-1].worseThan(c) {
		l.items[i] = l.items[i-1]
		i--
	}
	l.items[i] = c
	return true
}

func (l *listContainer) worstRdist() float64 {
	if len(l.items) < l.k {
		return math.Inf(1)
	}
	return l.items[len(l.items)-1].rdist
}

func (l *listContainer) results(m Metric) []Neighbor {
	// Already sorted by the admission invariant.
	out := make([]Neighbor, len(l.items))
	for i, c := range l.items {
		out[i] = Neighbor{Index: int(c.index), Dist: m.RdistToDist(c.rdist)}
	}
	return out
}

// --- unbounded container ---

// unboundedContainer admits everything; the radius cap alone limits it.
// It backs QueryRadius, where no k bound exists and the pruning threshold
// never tightens.
type unboundedContainer struct {
	items []rdCandidate
}

func (u *unboundedContainer) offer(index int32, rdist float64) bool {
	u.items = append(u.items, rdCandidate{index: index, rdist: rdist})
	return true
}

func (u *unboundedContainer) worstRdist() float64 { return math.Inf(1) }

func (u *unboundedContainer) results(m Metric) []Neighbor {
	return sortedResults(u.items, m)
}
