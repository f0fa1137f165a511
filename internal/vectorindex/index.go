// Package vectorindex provides nearest-neighbour search over gallery
// embeddings. Every index maps ref i to the i-th record of the store it was
// built from, so refs must be inserted densely and in order.
package vectorindex

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kozaktomas/khoj/internal/facematch"
)

// Kind selects the index implementation.
type Kind string

const (
	KindExact Kind = "exact"
	KindHNSW  Kind = "hnsw"
	KindIVF   Kind = "ivf"
)

// ParseKind parses an index kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindExact, "":
		return KindExact, nil
	case KindHNSW:
		return KindHNSW, nil
	case KindIVF:
		return KindIVF, nil
	default:
		return "", fmt.Errorf("unknown index kind %q", s)
	}
}

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be greater than 0")
	// ErrRefOutOfOrder is returned when Insert is called with a ref other than Len().
	ErrRefOutOfOrder = errors.New("index refs must be inserted in order")
)

// Hit is one search result: the store position and its distance to the query.
type Hit struct {
	Ref      int
	Distance float64
}

// Index is a nearest-neighbour index over fixed-dimension embeddings.
// Implementations are safe for concurrent use.
type Index interface {
	Kind() Kind
	Metric() Metric
	Dim() int
	Len() int
	// Insert adds vec under ref. ref must equal Len().
	Insert(ref int, vec []float32) error
	// Search returns min(k, Len()) hits ordered by ascending distance, ties
	// broken by ascending ref.
	Search(query []float32, k int) ([]Hit, error)
}

// Config describes the index to build.
type Config struct {
	Kind   Kind
	Metric Metric
	Dim    int

	HNSWM        int
	HNSWEfSearch int
	HNSWSeed     int64

	IVFLists      int
	IVFProbes     int
	IVFIterations int
}

// DefaultConfig returns an exact cosine index config for dim.
func DefaultConfig(dim int) Config {
	return Config{
		Kind:          KindExact,
		Metric:        MetricCosine,
		Dim:           dim,
		HNSWM:         HNSWMaxNeighbors,
		HNSWEfSearch:  HNSWEfSearch,
		HNSWSeed:      1,
		IVFLists:      IVFDefaultLists,
		IVFProbes:     IVFDefaultProbes,
		IVFIterations: IVFDefaultIterations,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Dim)
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.Metric == "" {
		c.Metric = d.Metric
	}
	if c.HNSWM <= 0 {
		c.HNSWM = d.HNSWM
	}
	if c.HNSWEfSearch <= 0 {
		c.HNSWEfSearch = d.HNSWEfSearch
	}
	if c.IVFLists <= 0 {
		c.IVFLists = d.IVFLists
	}
	if c.IVFProbes <= 0 {
		c.IVFProbes = d.IVFProbes
	}
	if c.IVFIterations <= 0 {
		c.IVFIterations = d.IVFIterations
	}
	return c
}

// New returns an empty index for cfg.
func New(cfg Config) (Index, error) {
	return Build(cfg, nil)
}

// Build creates an index of cfg.Kind holding vectors under refs 0..len-1.
// The vectors are retained, not copied, and must not be modified afterwards.
func Build(cfg Config, vectors [][]float32) (Index, error) {
	cfg = cfg.withDefaults()
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", cfg.Dim)
	}
	for i, v := range vectors {
		if err := facematch.CheckDim(v, cfg.Dim); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	switch cfg.Kind {
	case KindExact:
		idx := NewExact(cfg.Metric, cfg.Dim)
		idx.vectors = append(idx.vectors, vectors...)
		return idx, nil
	case KindHNSW:
		return buildHNSW(cfg, vectors), nil
	case KindIVF:
		return buildIVF(cfg, vectors), nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", cfg.Kind)
	}
}

func checkInsert(ref, n, dim int, vec []float32) error {
	if ref != n {
		return fmt.Errorf("%w: got ref %d, expected %d", ErrRefOutOfOrder, ref, n)
	}
	return facematch.CheckDim(vec, dim)
}

func checkQuery(query []float32, k, dim int) error {
	if k <= 0 {
		return ErrInvalidK
	}
	return facematch.CheckDim(query, dim)
}

func compareHits(a, b Hit) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.Ref, b.Ref)
}

func sortHits(hits []Hit) {
	slices.SortFunc(hits, compareHits)
}
