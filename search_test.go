package kdtree

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_FourPointScenario(t *testing.T) {
	// Cloud {(0,0), (1,0), (0,1), (5,5)}, query (0,0), k=2.
	// Index 0 is the query itself at distance 0; indices 1 and 2 tie at
	// distance 1 and the lower index wins the last slot.
	data := []float64{0, 0, 1, 0, 0, 1, 5, 5}
	tree := mustBuildFlat(t, data, 4, 2, DefaultConfig())

	res, err := tree.Query([]float64{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, Neighbor{Index: 0, Dist: 0.0}, res[0])
	assert.Equal(t, Neighbor{Index: 1, Dist: 1.0}, res[1])
}

func TestQuery_EmptyCloud(t *testing.T) {
	tree := mustBuildFlat(t, nil, 0, 2, DefaultConfig())
	res, err := tree.Query([]float64{1, 2}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestQuery_KLargerThanN(t *testing.T) {
	data := []float64{0, 0, 1, 1, 2, 2}
	tree := mustBuildFlat(t, data, 3, 2, DefaultConfig())
	res, err := tree.Query([]float64{0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []int{0, 1, 2}, neighborIndices(res))
}

func TestQuery_RadiusCapExcludesAll(t *testing.T) {
	data := []float64{0, 0, 1, 1, 2, 2}
	tree := mustBuildFlat(t, data, 3, 2, DefaultConfig())

	p := DefaultSearchParams()
	p.Radius = 0.5
	res, err := tree.QueryWithParams([]float64{10, 10}, 2, p)
	require.NoError(t, err)
	assert.Empty(t, res, "radius cap with no points inside must return empty, not error")
}

func TestQuery_RadiusZero(t *testing.T) {
	data := []float64{0, 0, 1, 1}
	tree := mustBuildFlat(t, data, 2, 2, DefaultConfig())

	p := DefaultSearchParams()
	p.Radius = 0

	res, err := tree.QueryWithParams([]float64{5, 5}, 1, p)
	require.NoError(t, err)
	assert.Empty(t, res)

	// A coincident point sits exactly on the inclusive boundary.
	res, err = tree.QueryWithParams([]float64{1, 1}, 1, p)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, Neighbor{Index: 1, Dist: 0}, res[0])
}

func TestQuery_ParameterValidation(t *testing.T) {
	tree := mustBuildFlat(t, []float64{0, 0}, 1, 2, DefaultConfig())

	_, err := tree.Query([]float64{0, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = tree.Query([]float64{0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = tree.Query([]float64{0, 0}, -3)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	p := DefaultSearchParams()
	p.Radius = -1
	_, err = tree.QueryWithParams([]float64{0, 0}, 1, p)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	p = DefaultSearchParams()
	p.Epsilon = -0.1
	_, err = tree.QueryWithParams([]float64{0, 0}, 1, p)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = tree.Query([]float64{math.NaN(), 0}, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuery_MatchesBruteForce_Random3D(t *testing.T) {
	const (
		n       = 1000
		dims    = 3
		k       = 10
		queries = 100
	)
	data := randomFlatData(7, n, dims)
	cloud := mustMatrixCloud(t, data, n, dims)
	tree := mustBuildFlat(t, data, n, dims, DefaultConfig())

	rng := rand.New(rand.NewSource(8))
	for qi := 0; qi < queries; qi++ {
		q := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
		got, err := tree.Query(q, k)
		require.NoError(t, err)
		want, err := BruteForceQuery(cloud, tree.Metric(), q, k, math.Inf(1))
		require.NoError(t, err)
		require.Equal(t, want, got, "query %d: tree result diverges from brute force", qi)
	}
}

func TestQuery_MatchesBruteForce_AllMetrics(t *testing.T) {
	const n, dims, k = 300, 2, 5
	data := randomFlatData(11, n, dims)
	cloud := mustMatrixCloud(t, data, n, dims)

	metrics := []Metric{
		EuclideanMetric{},
		ManhattanMetric{},
		ChebyshevMetric{},
		MinkowskiMetric{P: 3},
	}
	rng := rand.New(rand.NewSource(12))
	for _, m := range metrics {
		cfg := DefaultConfig()
		cfg.Metric = m
		cfg.LeafSize = 4
		tree, err := Build(cloud, cfg)
		require.NoError(t, err)

		for qi := 0; qi < 20; qi++ {
			q := []float64{rng.Float64() * 100, rng.Float64() * 100}
			got, err := tree.Query(q, k)
			require.NoError(t, err)
			want, err := BruteForceQuery(cloud, m, q, k, math.Inf(1))
			require.NoError(t, err)
			requireNeighborsClose(t, want, got)
		}
	}
}

func TestQuery_MatchesBruteForce_WithRadius(t *testing.T) {
	const n, dims, k = 400, 3, 8
	data := randomFlatData(21, n, dims)
	cloud := mustMatrixCloud(t, data, n, dims)
	tree := mustBuildFlat(t, data, n, dims, DefaultConfig())

	rng := rand.New(rand.NewSource(22))
	for qi := 0; qi < 30; qi++ {
		q := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
		radius := rng.Float64() * 30

		p := DefaultSearchParams()
		p.Radius = radius
		got, err := tree.QueryWithParams(q, k, p)
		require.NoError(t, err)
		want, err := BruteForceQuery(cloud, tree.Metric(), q, k, radius)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestQuery_ApproximationBound(t *testing.T) {
	const n, dims, k = 2000, 3, 10
	data := randomFlatData(31, n, dims)
	cloud := mustMatrixCloud(t, data, n, dims)
	tree := mustBuildFlat(t, data, n, dims, DefaultConfig())

	rng := rand.New(rand.NewSource(32))
	for _, eps := range []float64{0.1, 0.5, 2.0} {
		p := DefaultSearchParams()
		p.Epsilon = eps
		for qi := 0; qi < 25; qi++ {
			q := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
			got, err := tree.QueryWithParams(q, k, p)
			require.NoError(t, err)
			require.Len(t, got, k)

			exact, err := BruteForceQuery(cloud, tree.Metric(), q, k, math.Inf(1))
			require.NoError(t, err)

			trueKth := exact[k-1].Dist
			gotKth := got[k-1].Dist
			assert.LessOrEqual(t, gotKth, (1+eps)*trueKth*(1+1e-12),
				"eps=%v: returned k-th distance violates the (1+eps) bound", eps)
		}
	}
}

func TestQuery_BothContainersAgree(t *testing.T) {
	const n, dims = 800, 3
	data := randomFlatData(41, n, dims)
	tree := mustBuildFlat(t, data, n, dims, DefaultConfig())

	rng := rand.New(rand.NewSource(42))
	for _, k := range []int{1, 5, 40, 100} {
		for qi := 0; qi < 10; qi++ {
			q := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}

			ph := DefaultSearchParams()
			ph.Container = ContainerHeap
			hres, err := tree.QueryWithParams(q, k, ph)
			require.NoError(t, err)

			pl := DefaultSearchParams()
			pl.Container = ContainerList
			lres, err := tree.QueryWithParams(q, k, pl)
			require.NoError(t, err)

			require.Equal(t, hres, lres, "k=%d: containers disagree", k)
		}
	}
}

func TestQuery_AllowSelfMatch(t *testing.T) {
	data := []float64{0, 0, 3, 4, 6, 8}
	tree := mustBuildFlat(t, data, 3, 2, DefaultConfig())

	p := DefaultSearchParams()
	p.AllowSelfMatch = false
	res, err := tree.QueryWithParams([]float64{3, 4}, 2, p)
	require.NoError(t, err)
	require.Len(t, res, 2)
	// Indices 0 and 2 both sit at distance 5; ascending index breaks the tie.
	assert.Equal(t, []int{0, 2}, neighborIndices(res), "the coincident point must be skipped")

	res, err = tree.Query([]float64{3, 4}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].Index, "self match allowed by default")
}

func TestQueryRadius_MatchesBruteForce(t *testing.T) {
	const n, dims = 500, 2
	data := randomFlatData(51, n, dims)
	cloud := mustMatrixCloud(t, data, n, dims)
	tree := mustBuildFlat(t, data, n, dims, DefaultConfig())

	rng := rand.New(rand.NewSource(52))
	for qi := 0; qi < 20; qi++ {
		q := []float64{rng.Float64() * 100, rng.Float64() * 100}
		radius := rng.Float64() * 20

		got, err := tree.QueryRadius(q, radius)
		require.NoError(t, err)
		want, err := BruteForceQuery(cloud, tree.Metric(), q, n, radius)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestQueryRadius_NegativeRadius(t *testing.T) {
	tree := mustBuildFlat(t, []float64{0, 0}, 1, 2, DefaultConfig())
	_, err := tree.QueryRadius([]float64{0, 0}, -1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestQuery_IdempotentRebuild(t *testing.T) {
	const n, dims, k = 600, 3, 7
	data := randomFlatData(61, n, dims)
	cloud := mustMatrixCloud(t, data, n, dims)

	t1, err := Build(cloud, DefaultConfig())
	require.NoError(t, err)
	t2, err := Build(cloud, DefaultConfig())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(62))
	for qi := 0; qi < 25; qi++ {
		q := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
		r1, err := t1.Query(q, k)
		require.NoError(t, err)
		r2, err := t2.Query(q, k)
		require.NoError(t, err)
		require.Equal(t, r1, r2)
	}
}

func TestQueryWithStats_TraversalPrunes(t *testing.T) {
	// Two well-separated blobs: a query deep inside one blob should never
	// scan most of the other.
	const half, dims = 500, 2
	rng := rand.New(rand.NewSource(71))
	data := make([]float64, 0, 2*half*dims)
	for i := 0; i < half; i++ {
		data = append(data, rng.Float64(), rng.Float64())
	}
	for i := 0; i < half; i++ {
		data = append(data, 1000+rng.Float64(), 1000+rng.Float64())
	}
	tree := mustBuildFlat(t, data, 2*half, dims, DefaultConfig())

	res, stats, err := tree.QueryWithStats([]float64{0.5, 0.5}, 5, DefaultSearchParams())
	require.NoError(t, err)
	require.Len(t, res, 5)
	assert.GreaterOrEqual(t, stats.PointsScanned, 5)
	assert.Less(t, stats.PointsScanned, half, "traversal failed to prune the far blob")
	assert.Greater(t, stats.NodesVisited, 0)
}

func TestQuery_ConcurrentReaders(t *testing.T) {
	const n, dims, k = 500, 3, 5
	data := randomFlatData(81, n, dims)
	tree := mustBuildFlat(t, data, n, dims, DefaultConfig())

	want, err := tree.Query([]float64{50, 50, 50}, k)
	require.NoError(t, err)

	done := make(chan error, 16)
	for g := 0; g < 16; g++ {
		go func() {
			for i := 0; i < 50; i++ {
				got, err := tree.Query([]float64{50, 50, 50}, k)
				if err != nil {
					done <- err
					return
				}
				for j := range want {
					if got[j] != want[j] {
						done <- assert.AnError
						return
					}
				}
			}
			done <- nil
		}()
	}
	for g := 0; g < 16; g++ {
		require.NoError(t, <-done)
	}
}

func neighborIndices(res []Neighbor) []int {
	out := make([]int, len(res))
	for i, nb := range res {
		out[i] = nb.Index
	}
	return out
}

// requireNeighborsClose compares result sequences allowing tiny
// floating-point divergence between the tree's reduced-distance pipeline
// and the brute-force reference.
func requireNeighborsClose(t *testing.T, want, got []Neighbor) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		require.Equal(t, want[i].Index, got[i].Index, "result %d index", i)
		require.InDelta(t, want[i].Dist, got[i].Dist, 1e-9, "result %d distance", i)
	}
}
