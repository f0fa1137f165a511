// Package gallery holds the enrolled identities: an append-only list of
// records whose positions are the refs used by every vector index.
//
// A Store is not synchronized. The owner (identify.Service) serializes
// writers against readers.
package gallery

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/vectorindex"
)

// DefaultInfo is used when an identity has no auxiliary info.
const DefaultInfo = "Person info not provided"

var (
	// ErrDuplicateIdentity is returned when an identity id is already enrolled.
	ErrDuplicateIdentity = errors.New("identity already enrolled")
	// ErrInvalidRecord is returned for records that can never be stored.
	ErrInvalidRecord = errors.New("invalid gallery record")
)

// Record is one enrolled identity.
type Record struct {
	IdentityID    string
	DisplayName   string
	AuxiliaryInfo string
	Vector        []float32
}

// Store is the in-memory gallery.
type Store struct {
	dim       int
	normalize bool
	records   []Record
	byID      map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithNormalize stores unit-length copies of appended vectors.
func WithNormalize(enabled bool) Option {
	return func(s *Store) { s.normalize = enabled }
}

// New creates an empty store for embeddings of length dim.
func New(dim int, opts ...Option) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidRecord, dim)
	}
	s := &Store{dim: dim, byID: make(map[string]int)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FromRecords builds a store from records in index order.
func FromRecords(dim int, records []Record, opts ...Option) (*Store, error) {
	s, err := New(dim, opts...)
	if err != nil {
		return nil, err
	}
	for i, rec := range records {
		if _, err := s.Append(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return s, nil
}

func (s *Store) Dim() int        { return s.dim }
func (s *Store) Size() int       { return len(s.records) }
func (s *Store) Normalized() bool { return s.normalize }

// Append validates rec and adds it at index Size(). The vector is copied.
func (s *Store) Append(rec Record) (int, error) {
	if err := facematch.CheckDim(rec.Vector, s.dim); err != nil {
		return 0, err
	}
	rec.IdentityID = strings.TrimSpace(rec.IdentityID)
	if rec.IdentityID == "" {
		return 0, fmt.Errorf("%w: empty identity id", ErrInvalidRecord)
	}
	if _, ok := s.byID[rec.IdentityID]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateIdentity, rec.IdentityID)
	}
	if err := (facematch.DetectedFace{Embedding: rec.Vector}).Validate(s.dim); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if s.normalize {
		v, ok := vectorindex.Normalize(rec.Vector)
		if !ok {
			return 0, fmt.Errorf("%w: zero-norm embedding for %s", ErrInvalidRecord, rec.IdentityID)
		}
		rec.Vector = v
	} else {
		rec.Vector = slices.Clone(rec.Vector)
	}
	if rec.DisplayName == "" {
		rec.DisplayName = rec.IdentityID
	}
	if rec.AuxiliaryInfo == "" {
		rec.AuxiliaryInfo = DefaultInfo
	}

	idx := len(s.records)
	s.records = append(s.records, rec)
	s.byID[rec.IdentityID] = idx
	return idx, nil
}

// Rollback drops every record at index >= size. It only exists to undo an
// append that was never made visible to readers.
func (s *Store) Rollback(size int) {
	if size < 0 || size >= len(s.records) {
		return
	}
	for _, rec := range s.records[size:] {
		delete(s.byID, rec.IdentityID)
	}
	clear(s.records[size:])
	s.records = s.records[:size]
}

// Record returns the record at index i.
func (s *Store) Record(i int) (Record, bool) {
	if i < 0 || i >= len(s.records) {
		return Record{}, false
	}
	return s.records[i], true
}

// Vector returns the stored vector at index i. Callers must not modify it.
func (s *Store) Vector(i int) []float32 {
	if i < 0 || i >= len(s.records) {
		return nil
	}
	return s.records[i].Vector
}

// Lookup returns the index of an identity id.
func (s *Store) Lookup(identityID string) (int, bool) {
	i, ok := s.byID[identityID]
	return i, ok
}

// Vectors returns the vectors in index order. The slices are shared with the store.
func (s *Store) Vectors() [][]float32 {
	out := make([][]float32, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Vector
	}
	return out
}

// Records returns a copy of the record list. Vectors are shared.
func (s *Store) Records() []Record {
	return slices.Clone(s.records)
}

// Snapshot returns a read-only copy that stays valid while s keeps growing.
func (s *Store) Snapshot() *Store {
	return &Store{
		dim:       s.dim,
		normalize: s.normalize,
		records:   slices.Clip(s.records),
		byID:      nil,
	}
}
