package vectorindex

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/khoj/internal/facematch"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func allKinds() []Kind {
	return []Kind{KindExact, KindHNSW, KindIVF}
}

func TestSearchOrderingAndLength(t *testing.T) {
	vectors := randomVectors(50, 8, 1)

	for _, kind := range allKinds() {
		for _, metric := range []Metric{MetricL2, MetricCosine} {
			t.Run(string(kind)+"/"+string(metric), func(t *testing.T) {
				cfg := DefaultConfig(8)
				cfg.Kind = kind
				cfg.Metric = metric
				cfg.IVFLists = 4
				idx, err := Build(cfg, vectors)
				require.NoError(t, err)
				assert.Equal(t, 50, idx.Len())

				hits, err := idx.Search(vectors[7], 5)
				require.NoError(t, err)
				require.Len(t, hits, 5)
				assert.Equal(t, 7, hits[0].Ref)
				assert.InDelta(t, 0, hits[0].Distance, 1e-6)
				for i := 1; i < len(hits); i++ {
					assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
				}

				all, err := idx.Search(vectors[0], 500)
				require.NoError(t, err)
				assert.Len(t, all, 50)
			})
		}
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	for _, kind := range allKinds() {
		t.Run(string(kind), func(t *testing.T) {
			cfg := DefaultConfig(3)
			cfg.Kind = kind
			idx, err := New(cfg)
			require.NoError(t, err)

			hits, err := idx.Search([]float32{1, 2, 3}, 3)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	idx := NewExact(MetricL2, 3)
	require.NoError(t, idx.Insert(0, []float32{1, 2, 3}))

	_, err := idx.Search([]float32{1, 2}, 1)
	var dimErr *facematch.DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)

	_, err = idx.Search([]float32{1, 2, 3}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestInsertRequiresDenseRefs(t *testing.T) {
	for _, kind := range allKinds() {
		t.Run(string(kind), func(t *testing.T) {
			cfg := DefaultConfig(2)
			cfg.Kind = kind
			idx, err := New(cfg)
			require.NoError(t, err)

			require.NoError(t, idx.Insert(0, []float32{1, 0}))
			assert.ErrorIs(t, idx.Insert(2, []float32{0, 1}), ErrRefOutOfOrder)
			assert.ErrorIs(t, idx.Insert(1, []float32{0, 1, 2}), facematch.ErrDimensionMismatch)
			require.NoError(t, idx.Insert(1, []float32{0, 1}))

			hits, err := idx.Search([]float32{0, 1}, 1)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, 1, hits[0].Ref)
		})
	}
}

func TestExactTiesPreferEarlierRef(t *testing.T) {
	idx, err := Build(Config{Kind: KindExact, Metric: MetricL2, Dim: 2}, [][]float32{
		{1, 0},
		{0, 1},
		{1, 0},
		{0, 1},
	})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Ref)
	assert.Equal(t, 2, hits[1].Ref)
}

func TestIVFFullProbeMatchesExact(t *testing.T) {
	vectors := randomVectors(120, 6, 7)
	exact, err := Build(Config{Kind: KindExact, Metric: MetricL2, Dim: 6}, vectors)
	require.NoError(t, err)

	cfg := DefaultConfig(6)
	cfg.Kind = KindIVF
	cfg.Metric = MetricL2
	cfg.IVFLists = 5
	cfg.IVFProbes = 5
	ivf, err := Build(cfg, vectors)
	require.NoError(t, err)

	for _, q := range randomVectors(10, 6, 99) {
		want, err := exact.Search(q, 10)
		require.NoError(t, err)
		got, err := ivf.Search(q, 10)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIVFGrowsListsFromInserts(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.Kind = KindIVF
	cfg.IVFLists = 2
	idx, err := New(cfg)
	require.NoError(t, err)
	ivf := idx.(*IVF)

	require.NoError(t, ivf.Insert(0, []float32{1, 0}))
	require.NoError(t, ivf.Insert(1, []float32{0, 1}))
	require.NoError(t, ivf.Insert(2, []float32{1, 0.1}))
	assert.Equal(t, 2, ivf.Lists())

	hits, err := ivf.Search([]float32{1, 0.1}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 2, hits[0].Ref)
}

func TestHNSWCacheRoundTrip(t *testing.T) {
	vectors := randomVectors(40, 4, 3)
	cfg := DefaultConfig(4)
	cfg.Kind = KindHNSW
	idx, err := Build(cfg, vectors)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "gallery.hnsw")
	require.NoError(t, idx.(*HNSW).SaveCache(path))

	loaded, err := LoadHNSWCache(path, cfg, vectors)
	require.NoError(t, err)
	assert.Equal(t, 40, loaded.Len())

	hits, err := loaded.Search(vectors[12], 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 12, hits[0].Ref)

	_, err = LoadHNSWCache(path, cfg, vectors[:39])
	assert.ErrorIs(t, err, ErrStaleCache)

	other := cfg
	other.Metric = MetricL2
	_, err = LoadHNSWCache(path, other, vectors)
	assert.ErrorIs(t, err, ErrStaleCache)

	changed := randomVectors(40, 4, 4)
	_, err = LoadHNSWCache(path, cfg, changed)
	assert.ErrorIs(t, err, ErrStaleCache)
}

func TestBuildRejectsWrongDimension(t *testing.T) {
	_, err := Build(DefaultConfig(3), [][]float32{{1, 2, 3}, {1, 2}})
	assert.ErrorIs(t, err, facematch.ErrDimensionMismatch)

	_, err = Build(DefaultConfig(0), nil)
	assert.Error(t, err)
}
