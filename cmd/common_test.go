package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/khoj/internal/config"
	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/liveness"
	"github.com/kozaktomas/khoj/internal/vectorindex"
)

func TestIndexConfig(t *testing.T) {
	t.Setenv("INDEX_KIND", "hnsw")
	t.Setenv("INDEX_METRIC", "l2")
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("INDEX_HNSW_M", "32")

	ic, err := indexConfig(config.Load())
	require.NoError(t, err)
	assert.Equal(t, vectorindex.KindHNSW, ic.Kind)
	assert.Equal(t, vectorindex.MetricL2, ic.Metric)
	assert.Equal(t, 128, ic.Dim)
	assert.Equal(t, 32, ic.HNSWM)

	t.Setenv("INDEX_KIND", "annoy")
	_, err = indexConfig(config.Load())
	assert.ErrorContains(t, err, "INDEX_KIND")
}

func TestServiceOptions(t *testing.T) {
	t.Setenv("GALLERY_DIR", "/tmp/khoj-gallery")
	t.Setenv("LIVENESS_LAYOUT", "contour12")
	t.Setenv("MATCH_DEFAULT_TOP_K", "3")

	opts, err := serviceOptions(config.Load(), nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/khoj-gallery", opts.Dir)
	assert.Equal(t, liveness.Contour12.Name, opts.Liveness.Layout.Name)
	assert.Equal(t, 3, opts.DefaultTopK)
	assert.Nil(t, opts.Detector)
	assert.Nil(t, opts.Mirror)

	t.Setenv("LIVENESS_LAYOUT", "dlib68")
	_, err = serviceOptions(config.Load(), nil)
	assert.ErrorContains(t, err, "LIVENESS_LAYOUT")
}

func TestEnsureWritable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ensureWritable(dir, false))

	store, err := gallery.New(2)
	require.NoError(t, err)
	_, err = store.Append(gallery.Record{IdentityID: "anna/1", DisplayName: "Anna", Vector: []float32{1, 0}})
	require.NoError(t, err)
	_, err = store.Persist(dir)
	require.NoError(t, err)

	assert.ErrorContains(t, ensureWritable(dir, false), "--force")
	assert.NoError(t, ensureWritable(dir, true))
}

func TestConnectMirrorWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := config.Load()

	pool, repo, err := connectMirror(t.Context(), cfg)
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Nil(t, repo)
	assert.Error(t, requireDatabase(cfg))
}
