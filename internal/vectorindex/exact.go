package vectorindex

import (
	"container/heap"
	"sync"
)

// Exact is a brute-force index. It is the reference every approximate index
// is measured against.
type Exact struct {
	mu      sync.RWMutex
	metric  Metric
	dim     int
	vectors [][]float32
}

// NewExact creates an empty exact index.
func NewExact(metric Metric, dim int) *Exact {
	return &Exact{metric: metric, dim: dim}
}

func (e *Exact) Kind() Kind     { return KindExact }
func (e *Exact) Metric() Metric { return e.metric }
func (e *Exact) Dim() int       { return e.dim }

func (e *Exact) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vectors)
}

func (e *Exact) Insert(ref int, vec []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkInsert(ref, len(e.vectors), e.dim, vec); err != nil {
		return err
	}
	e.vectors = append(e.vectors, vec)
	return nil
}

func (e *Exact) Search(query []float32, k int) ([]Hit, error) {
	if err := checkQuery(query, k, e.dim); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return bruteSearch(e.metric, query, k, len(e.vectors), func(ref int) []float32 {
		return e.vectors[ref]
	}), nil
}

// bruteSearch scans refs [0, n) and keeps the k best in a bounded max-heap.
func bruteSearch(metric Metric, query []float32, k, n int, vector func(ref int) []float32) []Hit {
	if n == 0 {
		return nil
	}
	k = min(k, n)

	h := make(hitHeap, 0, k+1)
	for ref := range n {
		hit := Hit{Ref: ref, Distance: metric.Distance(query, vector(ref))}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if compareHits(hit, h[0]) < 0 {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	hits := []Hit(h)
	sortHits(hits)
	return hits
}

// hitHeap keeps the worst hit at the root.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return compareHits(h[i], h[j]) > 0 }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
