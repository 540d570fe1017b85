package kdtree

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Metric provides distance computation with a reduced form used for
// tree-pruning optimizations (e.g., squared Euclidean skips sqrt).
// Reduced distance must be a monotone transform of the true distance.
type Metric interface {
	// Distance returns the true distance between a and b.
	Distance(a, b []float64) float64

	// ReducedDistance returns the distance in reduced space, a cheaper
	// monotone equivalent (squared for Euclidean, the p-th power sum for
	// Minkowski, identity for Manhattan and Chebyshev).
	ReducedDistance(a, b []float64) float64

	// DistToRdist converts a true distance into reduced space.
	DistToRdist(d float64) float64

	// RdistToDist converts a reduced distance back to a true distance.
	RdistToDist(rd float64) float64
}

// EuclideanMetric computes the Euclidean (L2) distance.
// ReducedDistance returns squared Euclidean distance.
type EuclideanMetric struct{}

func (EuclideanMetric) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

func (EuclideanMetric) ReducedDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func (EuclideanMetric) DistToRdist(d float64) float64  { return d * d }
func (EuclideanMetric) RdistToDist(rd float64) float64 { return math.Sqrt(rd) }

// ManhattanMetric computes the Manhattan (L1 / city-block) distance.
// Reduced distance equals true distance.
type ManhattanMetric struct{}

func (ManhattanMetric) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 1)
}

func (m ManhattanMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }

func (ManhattanMetric) DistToRdist(d float64) float64  { return d }
func (ManhattanMetric) RdistToDist(rd float64) float64 { return rd }

// ChebyshevMetric computes the Chebyshev (L-infinity) distance.
// Reduced distance equals true distance.
type ChebyshevMetric struct{}

func (ChebyshevMetric) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, math.Inf(1))
}

func (m ChebyshevMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }

func (ChebyshevMetric) DistToRdist(d float64) float64  { return d }
func (ChebyshevMetric) RdistToDist(rd float64) float64 { return rd }

// MinkowskiMetric computes the Minkowski distance parameterized by P.
// P must be >= 1. Panics if P < 1.
// ReducedDistance returns sum(|a[i]-b[i]|^P) without the final root.
type MinkowskiMetric struct {
	P float64
}

func (m MinkowskiMetric) Distance(a, b []float64) float64 {
	m.checkP()
	return floats.Distance(a, b, m.P)
}

func (m MinkowskiMetric) ReducedDistance(a, b []float64) float64 {
	m.checkP()
	var sum float64
	for i := range a {
		sum += math.Pow(math.Abs(a[i]-b[i]), m.P)
	}
	return sum
}

func (m MinkowskiMetric) DistToRdist(d float64) float64  { return math.Pow(d, m.P) }
func (m MinkowskiMetric) RdistToDist(rd float64) float64 { return math.Pow(rd, 1.0/m.P) }

func (m MinkowskiMetric) checkP() {
	if m.P < 1 {
		panic("kdtree: MinkowskiMetric P must be >= 1")
	}
}

// TreeValidMetric reports whether the metric supports KD-tree pruning.
// The tree's per-node lower bounds are only valid for metrics that
// decompose along coordinate axes: Euclidean, Manhattan, Chebyshev,
// Minkowski. Other metrics can still be used with BruteForceQuery.
func TreeValidMetric(m Metric) bool {
	switch m.(type) {
	case EuclideanMetric, ManhattanMetric, ChebyshevMetric, MinkowskiMetric:
		return true
	default:
		return false
	}
}
