package gallery

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/kozaktomas/khoj/internal/facematch"
)

// ManifestName is the file that names the current generation of a gallery
// directory. Replacing it is the commit point of Persist.
const ManifestName = "CURRENT"

const manifestVersion = 1

// Manifest describes one persisted generation.
type Manifest struct {
	Version      int       `json:"version"`
	Generation   int64     `json:"generation"`
	Dim          int       `json:"dim"`
	Count        int       `json:"count"`
	Normalized   bool      `json:"normalized"`
	Vectors      string    `json:"vectors"`
	Metadata     string    `json:"metadata"`
	VectorsCRC32 uint32    `json:"vectors_crc32"`
	SavedAt      time.Time `json:"saved_at"`
}

// MetadataEntry is one record in the metadata file.
type MetadataEntry struct {
	IdentityID     string `json:"identity_id"`
	Name           string `json:"name"`
	Info           string `json:"info"`
	EmbeddingIndex int    `json:"embedding_index"`
}

// ReadManifest reads the CURRENT manifest of dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, fs.ErrNotExist) {
		return m, fmt.Errorf("%w: %s", ErrStoreNotFound, dir)
	}
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, corrupt(path, "invalid manifest: %v", err)
	}
	if m.Version != manifestVersion {
		return m, corrupt(path, "unsupported manifest version %d", m.Version)
	}
	return m, nil
}

// Persist writes the store to dir as a new generation. Data files are
// written first and the manifest last, so a crash leaves the previous
// generation intact.
func (s *Store) Persist(dir string) (Manifest, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Manifest{}, fmt.Errorf("failed to create gallery directory: %w", err)
	}

	prev, err := ReadManifest(dir)
	hasPrev := err == nil
	if err != nil && !errors.Is(err, ErrStoreNotFound) && !errors.Is(err, ErrStorageCorrupt) {
		return Manifest{}, err
	}

	m := Manifest{
		Version:    manifestVersion,
		Generation: prev.Generation + 1,
		Dim:        s.dim,
		Count:      len(s.records),
		Normalized: s.normalize,
		SavedAt:    time.Now().UTC(),
	}
	m.Vectors = fmt.Sprintf("vectors-%06d.f32", m.Generation)
	m.Metadata = fmt.Sprintf("metadata-%06d.json", m.Generation)

	vectors := encodeVectors(s.records, s.dim)
	m.VectorsCRC32 = crc32.ChecksumIEEE(vectors)

	entries := make([]MetadataEntry, len(s.records))
	for i, rec := range s.records {
		entries[i] = MetadataEntry{
			IdentityID:     rec.IdentityID,
			Name:           rec.DisplayName,
			Info:           rec.AuxiliaryInfo,
			EmbeddingIndex: i,
		}
	}
	metadata, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := renameio.WriteFile(filepath.Join(dir, m.Vectors), vectors, 0o600); err != nil {
		return Manifest{}, fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, m.Metadata), metadata, 0o600); err != nil {
		return Manifest{}, fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, ManifestName), manifest, 0o600); err != nil {
		return Manifest{}, fmt.Errorf("failed to write manifest: %w", err)
	}

	if hasPrev {
		// Best-effort cleanup of the superseded generation.
		_ = os.Remove(filepath.Join(dir, filepath.Base(prev.Vectors)))
		_ = os.Remove(filepath.Join(dir, filepath.Base(prev.Metadata)))
	}
	return m, nil
}

// Load reads the current generation from dir and verifies it. Any
// inconsistency between the manifest, the vector file and the metadata is
// reported as a StorageCorruptError.
func Load(dir string, opts ...Option) (*Store, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if m.Dim <= 0 {
		return nil, corrupt(filepath.Join(dir, ManifestName), "invalid dimension %d", m.Dim)
	}

	vecPath := filepath.Join(dir, filepath.Base(m.Vectors))
	vectors, err := os.ReadFile(vecPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, corrupt(vecPath, "unreadable vectors: %v", err)
	}
	metaPath := filepath.Join(dir, filepath.Base(m.Metadata))
	metadata, err := os.ReadFile(metaPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, corrupt(metaPath, "unreadable metadata: %v", err)
	}

	var entries []MetadataEntry
	if err := json.Unmarshal(metadata, &entries); err != nil {
		return nil, corrupt(metaPath, "invalid metadata: %v", err)
	}

	rowBytes := m.Dim * 4
	if len(vectors)%rowBytes != 0 {
		return nil, corrupt(vecPath, "size %d is not a multiple of %d", len(vectors), rowBytes)
	}
	if n := len(vectors) / rowBytes; n != len(entries) || n != m.Count {
		return nil, &StorageCorruptError{
			Path:     dir,
			Reason:   fmt.Sprintf("record count mismatch (manifest=%d)", m.Count),
			Vectors:  n,
			Metadata: len(entries),
		}
	}
	if sum := crc32.ChecksumIEEE(vectors); sum != m.VectorsCRC32 {
		return nil, corrupt(vecPath, "checksum mismatch: %08x != %08x", sum, m.VectorsCRC32)
	}

	s, err := New(m.Dim, opts...)
	if err != nil {
		return nil, err
	}
	s.normalize = s.normalize || m.Normalized
	rows := decodeVectors(vectors, m.Dim)
	for i, e := range entries {
		if e.EmbeddingIndex != i {
			return nil, corrupt(metaPath, "entry %d has embedding_index %d", i, e.EmbeddingIndex)
		}
		if _, dup := s.byID[e.IdentityID]; dup || e.IdentityID == "" {
			return nil, corrupt(metaPath, "entry %d has invalid or duplicate identity %q", i, e.IdentityID)
		}
		s.byID[e.IdentityID] = i
		s.records = append(s.records, Record{
			IdentityID:    e.IdentityID,
			DisplayName:   e.Name,
			AuxiliaryInfo: e.Info,
			Vector:        rows[i],
		})
	}
	return s, nil
}

// Open loads the gallery in dir, or returns an empty store of dimension dim
// when dir holds none. A persisted gallery of another dimension is a
// DimensionMismatchError.
func Open(dir string, dim int, opts ...Option) (*Store, error) {
	s, err := Load(dir, opts...)
	if errors.Is(err, ErrStoreNotFound) {
		return New(dim, opts...)
	}
	if err != nil {
		return nil, err
	}
	if dim > 0 && s.dim != dim {
		return nil, &facematch.DimensionMismatchError{Expected: dim, Actual: s.dim}
	}
	return s, nil
}

func encodeVectors(records []Record, dim int) []byte {
	buf := make([]byte, len(records)*dim*4)
	off := 0
	for _, rec := range records {
		for _, v := range rec.Vector {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

func decodeVectors(buf []byte, dim int) [][]float32 {
	n := len(buf) / (dim * 4)
	flat := make([]float32, n*dim)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return rows
}
