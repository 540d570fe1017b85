package kdtree

import (
	"fmt"
	"math"
)

// BruteForceQuery answers a KNN query by scanning every point in the
// cloud. It is the reference the tree is tested against, and the right
// tool for tiny clouds or metrics that TreeValidMetric rejects.
// Results are ordered by ascending distance, ties by ascending index,
// truncated to k and to radius (inclusive).
func BruteForceQuery(cloud Cloud, metric Metric, q []float64, k int, radius float64) ([]Neighbor, error) {
	if metric == nil {
		metric = EuclideanMetric{}
	}
	if len(q) != cloud.Dims() {
		return nil, fmt.Errorf("%w: query point has %d dimensions, cloud has %d",
			ErrDimensionMismatch, len(q), cloud.Dims())
	}
	if err := checkPoint(q); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidParameter, k)
	}
	if radius < 0 || math.IsNaN(radius) {
		return nil, fmt.Errorf("%w: radius must be >= 0, got %v", ErrInvalidParameter, radius)
	}

	n := cloud.Len()
	radiusRd := metric.DistToRdist(radius)
	cont := newListContainer(k)
	if k > n {
		cont = newListContainer(max(n, 1))
	}

	buf := make([]float64, cloud.Dims())
	for i := 0; i < n; i++ {
		rd := metric.ReducedDistance(q, cloudPoint(cloud, i, buf))
		if rd > radiusRd {
			continue
		}
		cont.offer(int32(i), rd)
	}
	return cont.results(metric), nil
}
