package gallery

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/khoj/internal/facematch"
)

func sampleStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(3)
	require.NoError(t, err)
	_, err = s.Append(Record{IdentityID: "elon-musk/1", DisplayName: "Elon Musk", AuxiliaryInfo: "CEO", Vector: []float32{0.1, 0.2, 0.3}})
	require.NoError(t, err)
	_, err = s.Append(Record{IdentityID: "jiri-novak/1", DisplayName: "Jiří Novák", Vector: []float32{-1, 0, 1}})
	require.NoError(t, err)
	return s
}

func TestPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := sampleStore(t)

	m, err := s.Persist(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Generation)
	assert.Equal(t, 2, m.Count)

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s.Dim(), loaded.Dim())
	assert.Equal(t, s.Records(), loaded.Records())

	idx, ok := loaded.Lookup("jiri-novak/1")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestPersistReplacesGeneration(t *testing.T) {
	dir := t.TempDir()
	s := sampleStore(t)

	first, err := s.Persist(dir)
	require.NoError(t, err)
	_, err = s.Append(Record{IdentityID: "new/1", Vector: []float32{1, 1, 1}})
	require.NoError(t, err)
	second, err := s.Persist(dir)
	require.NoError(t, err)

	assert.Equal(t, first.Generation+1, second.Generation)
	_, err = os.Stat(filepath.Join(dir, first.Vectors))
	assert.True(t, os.IsNotExist(err), "old generation should be removed")

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Size())
}

func TestLoadDetectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, dir string, m Manifest)
	}{
		{
			name: "truncated vectors",
			damage: func(t *testing.T, dir string, m Manifest) {
				path := filepath.Join(dir, m.Vectors)
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data[:len(data)-12], 0o600))
			},
		},
		{
			name: "extra metadata entry",
			damage: func(t *testing.T, dir string, m Manifest) {
				path := filepath.Join(dir, m.Metadata)
				var entries []MetadataEntry
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(data, &entries))
				entries = append(entries, MetadataEntry{IdentityID: "ghost", EmbeddingIndex: 2})
				data, err = json.Marshal(entries)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data, 0o600))
			},
		},
		{
			name: "flipped vector bits",
			damage: func(t *testing.T, dir string, m Manifest) {
				path := filepath.Join(dir, m.Vectors)
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				binary.LittleEndian.PutUint32(data, math.Float32bits(42))
				require.NoError(t, os.WriteFile(path, data, 0o600))
			},
		},
		{
			name: "missing metadata",
			damage: func(t *testing.T, dir string, m Manifest) {
				require.NoError(t, os.Remove(filepath.Join(dir, m.Metadata)))
			},
		},
		{
			name: "garbage manifest",
			damage: func(t *testing.T, dir string, _ Manifest) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte("{"), 0o600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			m, err := sampleStore(t).Persist(dir)
			require.NoError(t, err)
			tt.damage(t, dir, m)

			_, err = Load(dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStorageCorrupt)
		})
	}
}

func TestLoadReportsCounts(t *testing.T) {
	dir := t.TempDir()
	m, err := sampleStore(t).Persist(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, m.Vectors)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:12], 0o600))

	_, err = Load(dir)
	var corruptErr *StorageCorruptError
	require.True(t, errors.As(err, &corruptErr))
	assert.Equal(t, 1, corruptErr.Vectors)
	assert.Equal(t, 2, corruptErr.Metadata)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Size())

	_, err = Load(dir)
	assert.ErrorIs(t, err, ErrStoreNotFound)

	_, err = sampleStore(t).Persist(dir)
	require.NoError(t, err)

	s, err = Open(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Size())

	_, err = Open(dir, 512)
	assert.ErrorIs(t, err, facematch.ErrDimensionMismatch)
}
