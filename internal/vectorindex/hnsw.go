package vectorindex

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
)

// HNSW wraps a coder/hnsw graph. Graph results are re-ranked with exact
// distances so the ordering contract matches Exact.
type HNSW struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[int]
	vectors  [][]float32
	metric   Metric
	dim      int
	m        int
	efSearch int
	seed     int64
}

func newHNSW(cfg Config) *HNSW {
	h := &HNSW{
		metric:   cfg.Metric,
		dim:      cfg.Dim,
		m:        cfg.HNSWM,
		efSearch: cfg.HNSWEfSearch,
		seed:     cfg.HNSWSeed,
	}
	h.graph = h.newGraph()
	return h
}

func buildHNSW(cfg Config, vectors [][]float32) *HNSW {
	h := newHNSW(cfg)
	for i, v := range vectors {
		h.graph.Add(hnsw.MakeNode(i, v))
	}
	h.vectors = append(h.vectors, vectors...)
	return h
}

func (h *HNSW) newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = h.m
	g.Ml = 1.0 / float64(h.m)
	g.EfSearch = h.efSearch
	g.Rng = rand.New(rand.NewSource(h.seed)) //nolint:gosec // level generation only
	if h.metric == MetricL2 {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	return g
}

func (h *HNSW) Kind() Kind     { return KindHNSW }
func (h *HNSW) Metric() Metric { return h.metric }
func (h *HNSW) Dim() int       { return h.dim }

func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

func (h *HNSW) Insert(ref int, vec []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := checkInsert(ref, len(h.vectors), h.dim, vec); err != nil {
		return err
	}
	h.graph.Add(hnsw.MakeNode(ref, vec))
	h.vectors = append(h.vectors, vec)
	return nil
}

// Search over-fetches candidates from the graph and re-ranks them exactly.
// When the graph yields fewer candidates than requested the whole index is
// scanned instead.
func (h *HNSW) Search(query []float32, k int) ([]Hit, error) {
	if err := checkQuery(query, k, h.dim); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.vectors)
	if n == 0 {
		return nil, nil
	}
	want := min(k, n)
	fetch := min(max(want*HNSWSearchMultiplier, h.efSearch), n)

	neighbors := h.graph.Search(query, fetch)
	if len(neighbors) < want {
		return bruteSearch(h.metric, query, want, n, func(ref int) []float32 {
			return h.vectors[ref]
		}), nil
	}

	hits := make([]Hit, 0, len(neighbors))
	for _, node := range neighbors {
		if node.Key < 0 || node.Key >= n {
			continue
		}
		hits = append(hits, Hit{Ref: node.Key, Distance: h.metric.Distance(query, h.vectors[node.Key])})
	}
	sortHits(hits)
	if len(hits) > want {
		hits = hits[:want]
	}
	return hits, nil
}

// CacheMetadata is written next to a cached graph and checked before reuse.
type CacheMetadata struct {
	Count     int       `json:"count"`
	Dim       int       `json:"dim"`
	Metric    Metric    `json:"metric"`
	M         int       `json:"m"`
	Checksum  uint32    `json:"checksum"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const hnswCacheVersion = 2

// vectorsChecksum is the CRC32 of the vectors as little-endian float32.
func vectorsChecksum(vectors [][]float32) uint32 {
	crc := crc32.NewIEEE()
	var buf [4]byte
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			crc.Write(buf[:])
		}
	}
	return crc.Sum32()
}

// ErrStaleCache is returned when a cached graph does not describe the
// vectors it is loaded against.
var ErrStaleCache = errors.New("hnsw cache is stale")

// SaveCache exports the graph to path and its metadata to path+".meta".
func (h *HNSW) SaveCache(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pf, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("failed to create HNSW cache file: %w", err)
	}
	defer pf.Cleanup() //nolint:errcheck // no-op after a successful replace

	if err := h.graph.Export(pf); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replacing HNSW cache file: %w", err)
	}

	meta := CacheMetadata{
		Count:     len(h.vectors),
		Dim:       h.dim,
		Metric:    h.metric,
		M:         h.m,
		Checksum:  vectorsChecksum(h.vectors),
		BuildTime: time.Now(),
		Version:   hnswCacheVersion,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := renameio.WriteFile(path+".meta", data, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadCacheMetadata reads the .meta sidecar of a cached graph.
func LoadCacheMetadata(path string) (CacheMetadata, error) {
	var meta CacheMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// LoadHNSWCache restores a graph saved by SaveCache. The cache is rejected
// with ErrStaleCache unless it was built from exactly these vectors with the
// same metric.
func LoadHNSWCache(path string, cfg Config, vectors [][]float32) (*HNSW, error) {
	cfg = cfg.withDefaults()
	meta, err := LoadCacheMetadata(path)
	if err != nil {
		return nil, err
	}
	if meta.Version != hnswCacheVersion || meta.Count != len(vectors) || meta.Dim != cfg.Dim || meta.Metric != cfg.Metric {
		return nil, fmt.Errorf("%w: cached %d x %d (%s), have %d x %d (%s)",
			ErrStaleCache, meta.Count, meta.Dim, meta.Metric, len(vectors), cfg.Dim, cfg.Metric)
	}

	if sum := vectorsChecksum(vectors); meta.Checksum != sum {
		return nil, fmt.Errorf("%w: checksum %08x, have %08x", ErrStaleCache, meta.Checksum, sum)
	}

	saved, err := hnsw.LoadSavedGraph[int](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if saved.Len() != len(vectors) {
		return nil, fmt.Errorf("%w: graph holds %d nodes, have %d vectors", ErrStaleCache, saved.Len(), len(vectors))
	}

	h := newHNSW(cfg)
	saved.Graph.Rng = h.graph.Rng
	h.graph = saved.Graph
	h.vectors = append(h.vectors, vectors...)
	return h, nil
}
