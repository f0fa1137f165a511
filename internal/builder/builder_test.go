package builder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
)

// fakeDetector returns the faces registered for an exact image payload.
type fakeDetector struct {
	mu    sync.Mutex
	faces map[string][]facematch.DetectedFace
	calls int
}

func (f *fakeDetector) Detect(_ context.Context, image []byte) ([]facematch.DetectedFace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	faces, ok := f.faces[string(image)]
	if !ok || len(faces) == 0 {
		return nil, facematch.ErrNoFaceDetected
	}
	return faces, nil
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(0, 0, color.Gray{Y: shade})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func setupTree(t *testing.T) (string, *fakeDetector) {
	t.Helper()
	root := t.TempDir()
	det := &fakeDetector{faces: map[string][]facematch.DetectedFace{}}

	elon := pngBytes(t, 10)
	writeFile(t, filepath.Join(root, "elon_musk", "1.png"), elon)
	det.faces[string(elon)] = []facematch.DetectedFace{
		{Embedding: []float32{0, 1}, DetScore: 0.5},
		{Embedding: []float32{1, 0}, DetScore: 0.9},
	}

	jiri := pngBytes(t, 20)
	writeFile(t, filepath.Join(root, "Jiří Novák", "a.png"), jiri)
	det.faces[string(jiri)] = []facematch.DetectedFace{{Embedding: []float32{0.5, 0.5}, DetScore: 0.8}}

	writeFile(t, filepath.Join(root, "Jiří Novák", "empty.png"), pngBytes(t, 30))
	writeFile(t, filepath.Join(root, "elon_musk", "broken.jpg"), []byte("not an image"))
	writeFile(t, filepath.Join(root, "elon_musk", "notes.txt"), []byte("ignored"))
	writeFile(t, filepath.Join(root, "loose.png"), elon)

	return root, det
}

func TestScan(t *testing.T) {
	root, det := setupTree(t)

	sources, err := New(det, Options{Root: root}).Scan()
	require.NoError(t, err)

	var ids []string
	for _, s := range sources {
		ids = append(ids, s.IdentityID())
	}
	assert.Equal(t, []string{"jiri-novak/a", "jiri-novak/empty", "elon-musk/1", "elon-musk/broken"}, ids)
}

func TestBuild(t *testing.T) {
	root, det := setupTree(t)
	store, err := gallery.New(2)
	require.NoError(t, err)

	var progress []int
	var mu sync.Mutex
	b := New(det, Options{
		Root:        root,
		Concurrency: 2,
		Identities: map[string]IdentityInfo{
			"elon_musk": {Name: "Elon Musk", Info: "CEO of Tesla"},
		},
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 4, total)
			progress = append(progress, done)
		},
	})

	report, err := b.Build(t.Context(), store)
	require.NoError(t, err)
	assert.Equal(t, Report{Images: 4, Enrolled: 2, NoFace: 1, Failed: 1}, report)
	assert.Len(t, progress, 4)
	assert.Equal(t, 3, det.calls, "undecodable images never reach the detector")

	require.Equal(t, 2, store.Size())
	first, _ := store.Record(0)
	assert.Equal(t, "jiri-novak/a", first.IdentityID)
	assert.Equal(t, "Jiří Novák", first.DisplayName)
	assert.Equal(t, gallery.DefaultInfo, first.AuxiliaryInfo)

	second, _ := store.Record(1)
	assert.Equal(t, "elon-musk/1", second.IdentityID)
	assert.Equal(t, "Elon Musk", second.DisplayName)
	assert.Equal(t, "CEO of Tesla", second.AuxiliaryInfo)
	assert.Equal(t, []float32{1, 0}, second.Vector, "highest scoring face is enrolled")

	again, err := b.Build(t.Context(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Duplicates)
	assert.Equal(t, 2, store.Size())
}

func TestBuildDimensionMismatchAborts(t *testing.T) {
	root, det := setupTree(t)
	store, err := gallery.New(3)
	require.NoError(t, err)

	_, err = New(det, Options{Root: root}).Build(t.Context(), store)
	assert.ErrorIs(t, err, facematch.ErrDimensionMismatch)
}

func TestBuildCancelled(t *testing.T) {
	root, det := setupTree(t)
	store, err := gallery.New(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = New(det, Options{Root: root, RatePerSecond: 1}).Build(ctx, store)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Size())
}

func TestLoadIdentities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yaml")
	writeFile(t, path, []byte("identities:\n  elon_musk:\n    name: Elon Musk\n    info: CEO of Tesla\n"))

	ids, err := LoadIdentities(path)
	require.NoError(t, err)
	assert.Equal(t, IdentityInfo{Name: "Elon Musk", Info: "CEO of Tesla"}, ids["elon_musk"])

	empty, err := LoadIdentities("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = LoadIdentities(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
