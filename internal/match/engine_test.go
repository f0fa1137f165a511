package match

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/liveness"
	"github.com/kozaktomas/khoj/internal/vectorindex"
)

// threeRecordGallery holds unit vectors with cosine similarity 1.0, 0.9 and
// 0.1 to the query (1, 0, 0).
func threeRecordGallery(t *testing.T) *gallery.Store {
	t.Helper()
	s, err := gallery.New(3)
	require.NoError(t, err)
	vectors := [][]float32{
		{1, 0, 0},
		{0.9, float32(math.Sqrt(1 - 0.81)), 0},
		{0.1, 0, float32(math.Sqrt(1 - 0.01))},
	}
	for i, v := range vectors {
		_, err := s.Append(gallery.Record{
			IdentityID:  []string{"same/1", "close/1", "far/1"}[i],
			DisplayName: []string{"Same", "Close", "Far"}[i],
			Vector:      v,
		})
		require.NoError(t, err)
	}
	return s
}

func buildIndex(t *testing.T, s *gallery.Store, kind vectorindex.Kind, metric vectorindex.Metric) vectorindex.Index {
	t.Helper()
	cfg := vectorindex.DefaultConfig(s.Dim())
	cfg.Kind = kind
	cfg.Metric = metric
	idx, err := vectorindex.Build(cfg, s.Vectors())
	require.NoError(t, err)
	return idx
}

func query(vec []float32) []facematch.QueryFace {
	return []facematch.QueryFace{{
		DetectedFace: facematch.DetectedFace{Embedding: vec, BoundingBox: facematch.BoundingBox{1, 2, 3, 4}},
		Source:       facematch.SourceUpload,
	}}
}

func TestThreeRecordScenario(t *testing.T) {
	s := threeRecordGallery(t)
	engine := NewEngine(nil)

	tests := []struct {
		metric   vectorindex.Metric
		expected []float64
	}{
		{vectorindex.MetricCosine, []float64{1.0, 0.9}},
		{vectorindex.MetricL2, []float64{1.0, 1 - math.Sqrt(0.2)/2}},
	}

	for _, tt := range tests {
		for _, kind := range []vectorindex.Kind{vectorindex.KindExact, vectorindex.KindHNSW, vectorindex.KindIVF} {
			t.Run(string(tt.metric)+"/"+string(kind), func(t *testing.T) {
				idx := buildIndex(t, s, kind, tt.metric)
				out, err := engine.Match(idx, s, query([]float32{1, 0, 0}), Options{TopK: 2})
				require.NoError(t, err)
				require.Equal(t, StatusMatched, out.Status)
				require.Len(t, out.Matches, 2)

				assert.Equal(t, "same/1", out.Matches[0].IdentityID)
				assert.Equal(t, "close/1", out.Matches[1].IdentityID)
				for i, want := range tt.expected {
					assert.InDelta(t, want, out.Matches[i].Confidence, 1e-4)
				}
				assert.InDelta(t, 100.0, out.Matches[0].Score, 1e-4)
				assert.Equal(t, facematch.BoundingBox{1, 2, 3, 4}, out.Matches[0].BoundingBox)
				assert.Nil(t, out.Matches[0].Liveness)
			})
		}
	}
}

func TestTopKClamping(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)
	engine := NewEngine(nil)

	out, err := engine.Match(idx, s, query([]float32{1, 0, 0}), Options{TopK: 50})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 3)

	out, err = engine.Match(idx, s, query([]float32{1, 0, 0}), Options{TopK: 0})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 1)

	out, err = engine.Match(idx, s, query([]float32{1, 0, 0}), Options{TopK: -4})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 1)
}

func TestEmptyGallery(t *testing.T) {
	s, err := gallery.New(3)
	require.NoError(t, err)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)

	out, err := NewEngine(nil).Match(idx, s, query([]float32{1, 0, 0}), Options{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusEmptyGallery, out.Status)
	assert.ErrorIs(t, out.Err(), ErrEmptyGallery)
	assert.Empty(t, out.Matches)
}

func TestEmptyQueryReturnsEmptyMatch(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)

	out, err := NewEngine(nil).Match(idx, s, nil, Options{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, out.Status)
	assert.NoError(t, out.Err())
	assert.Empty(t, out.Matches)
}

func TestDimensionGuard(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)

	_, err := NewEngine(nil).Match(idx, s, query([]float32{1, 0}), Options{TopK: 1})
	var dimErr *facematch.DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)
}

func TestNonFiniteQueryRejected(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)

	tests := []struct {
		name string
		vec  []float32
	}{
		{"nan", []float32{float32(math.NaN()), 0, 0}},
		{"inf", []float32{0, float32(math.Inf(1)), 0}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewEngine(nil).Match(idx, s, query(tt.vec), Options{TopK: 2})
			require.ErrorIs(t, err, facematch.ErrInvalidFace)
			assert.Empty(t, out.Matches)
		})
	}
}

func TestIndexOutOfSync(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)
	_, err := s.Append(gallery.Record{IdentityID: "late/1", Vector: []float32{0, 1, 0}})
	require.NoError(t, err)

	_, err = NewEngine(nil).Match(idx, s, query([]float32{1, 0, 0}), Options{TopK: 1})
	assert.ErrorIs(t, err, ErrIndexOutOfSync)
}

func TestMultiFaceBestPerFace(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricL2)

	faces := []facematch.QueryFace{
		{DetectedFace: facematch.DetectedFace{Embedding: []float32{0.1, 0, float32(math.Sqrt(0.99))}}},
		{DetectedFace: facematch.DetectedFace{Embedding: []float32{1, 0, 0}}},
		{DetectedFace: facematch.DetectedFace{Embedding: []float32{0, 1, 0}}},
	}

	out, err := NewEngine(nil).Match(idx, s, faces, Options{TopK: 2})
	require.NoError(t, err)
	require.Len(t, out.Matches, 2)

	// Faces 0 and 1 are exact matches; the stable sort keeps face order.
	assert.Equal(t, 0, out.Matches[0].FaceIndex)
	assert.Equal(t, "far/1", out.Matches[0].IdentityID)
	assert.Equal(t, 1, out.Matches[1].FaceIndex)
	assert.Equal(t, "same/1", out.Matches[1].IdentityID)
}

func TestMinConfidence(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)

	out, err := NewEngine(nil).Match(idx, s, query([]float32{1, 0, 0}), Options{TopK: 3, MinConfidence: 0.5})
	require.NoError(t, err)
	require.Len(t, out.Matches, 2)
	assert.Equal(t, "close/1", out.Matches[1].IdentityID)
}

func TestLivenessAttachedToLiveCaptures(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricCosine)
	engine := NewEngine(liveness.NewGate(liveness.Config{}))

	faces := query([]float32{1, 0, 0})
	faces[0].Landmarks = make([]facematch.Point, 106)
	faces[0].Source = facematch.SourceLiveCapture

	out, err := engine.Match(idx, s, faces, Options{TopK: 2})
	require.NoError(t, err)
	require.Len(t, out.Matches, 2)
	require.NotNil(t, out.Matches[0].Liveness)
	assert.True(t, out.Matches[0].Liveness.IsBlink, "degenerate eyes have EAR 0")

	faces[0].Landmarks = faces[0].Landmarks[:10]
	out, err = engine.Match(idx, s, faces, Options{TopK: 1})
	require.NoError(t, err)
	assert.Nil(t, out.Matches[0].Liveness)
}

func TestDeterminism(t *testing.T) {
	s := threeRecordGallery(t)
	idx := buildIndex(t, s, vectorindex.KindExact, vectorindex.MetricL2)
	engine := NewEngine(nil)

	first, err := engine.Match(idx, s, query([]float32{0.5, 0.5, 0.1}), Options{TopK: 3})
	require.NoError(t, err)
	for range 5 {
		again, err := engine.Match(idx, s, query([]float32{0.5, 0.5, 0.1}), Options{TopK: 3})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestConfidenceClamps(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(vectorindex.MetricL2, 3))
	assert.Equal(t, 1.0, Confidence(vectorindex.MetricL2, 0))
	assert.Equal(t, 0.0, Confidence(vectorindex.MetricCosine, 1.5))
	assert.InDelta(t, 0.75, Confidence(vectorindex.MetricCosine, 0.25), 1e-9)
	assert.Equal(t, 87.65, Percent(0.876543))
}

func TestOutcomeErr(t *testing.T) {
	assert.ErrorIs(t, NoFaceDetected().Err(), facematch.ErrNoFaceDetected)
	assert.NoError(t, Matched(nil).Err())
	assert.NotNil(t, Matched(nil).Matches)
}
