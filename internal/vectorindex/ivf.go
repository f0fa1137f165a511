package vectorindex

import (
	"slices"
	"sync"
)

// IVF partitions the gallery into lists around k-means centroids and scans
// only the lists nearest to the query. Centroids are trained at build time;
// later inserts join the nearest existing list until the index is rebuilt.
type IVF struct {
	mu         sync.RWMutex
	metric     Metric
	dim        int
	lists      int
	probes     int
	iterations int
	centroids  [][]float32
	members    [][]int
	vectors    [][]float32
}

func buildIVF(cfg Config, vectors [][]float32) *IVF {
	ivf := &IVF{
		metric:     cfg.Metric,
		dim:        cfg.Dim,
		lists:      cfg.IVFLists,
		probes:     cfg.IVFProbes,
		iterations: cfg.IVFIterations,
	}
	ivf.vectors = append(ivf.vectors, vectors...)
	ivf.centroids = trainKMeans(cfg.Metric, vectors, min(cfg.IVFLists, len(vectors)), cfg.IVFIterations)
	ivf.members = make([][]int, len(ivf.centroids))
	for ref, v := range vectors {
		c := nearestCentroid(cfg.Metric, ivf.centroids, v)
		ivf.members[c] = append(ivf.members[c], ref)
	}
	return ivf
}

func (f *IVF) Kind() Kind     { return KindIVF }
func (f *IVF) Metric() Metric { return f.metric }
func (f *IVF) Dim() int       { return f.dim }

func (f *IVF) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Lists returns the number of trained partitions.
func (f *IVF) Lists() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.centroids)
}

func (f *IVF) Insert(ref int, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := checkInsert(ref, len(f.vectors), f.dim, vec); err != nil {
		return err
	}
	f.vectors = append(f.vectors, vec)

	// An index built from a small gallery grows its partitions from inserts.
	if len(f.centroids) < f.lists {
		f.centroids = append(f.centroids, slices.Clone(vec))
		f.members = append(f.members, []int{ref})
		return nil
	}
	c := nearestCentroid(f.metric, f.centroids, vec)
	f.members[c] = append(f.members[c], ref)
	return nil
}

// Search probes the nearest lists. If they hold fewer than k vectors, more
// lists are probed until k candidates are found or every list was visited.
func (f *IVF) Search(query []float32, k int) ([]Hit, error) {
	if err := checkQuery(query, k, f.dim); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.vectors)
	if n == 0 {
		return nil, nil
	}
	want := min(k, n)

	order := make([]Hit, len(f.centroids))
	for i, c := range f.centroids {
		order[i] = Hit{Ref: i, Distance: f.metric.Distance(query, c)}
	}
	sortHits(order)

	var candidates []int
	for i, list := range order {
		if i >= f.probes && len(candidates) >= want {
			break
		}
		candidates = append(candidates, f.members[list.Ref]...)
	}
	slices.Sort(candidates)

	hits := bruteSearch(f.metric, query, want, len(candidates), func(i int) []float32 {
		return f.vectors[candidates[i]]
	})
	for i := range hits {
		hits[i].Ref = candidates[hits[i].Ref]
	}
	return hits, nil
}

// trainKMeans runs Lloyd's algorithm seeded with evenly spaced vectors so
// that builds are deterministic. Empty clusters keep their previous centroid.
func trainKMeans(metric Metric, vectors [][]float32, k, iterations int) [][]float32 {
	n := len(vectors)
	if k <= 0 || n == 0 {
		return nil
	}

	centroids := make([][]float32, k)
	for i := range k {
		centroids[i] = slices.Clone(vectors[i*n/k])
	}
	if k == n {
		return centroids
	}

	dim := len(vectors[0])
	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	sums := make([][]float64, k)
	counts := make([]int, k)
	for range iterations {
		changed := false
		for i, v := range vectors {
			c := nearestCentroid(metric, centroids, v)
			if c != assign[i] {
				changed = true
			}
			assign[i] = c
		}

		for c := range k {
			sums[c] = make([]float64, dim)
			counts[c] = 0
		}
		for i, v := range vectors {
			c := assign[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += float64(x)
			}
		}
		for c := range k {
			if counts[c] == 0 {
				continue
			}
			for j := range dim {
				centroids[c][j] = float32(sums[c][j] / float64(counts[c]))
			}
		}
		if !changed {
			break
		}
	}
	return centroids
}

func nearestCentroid(metric Metric, centroids [][]float32, v []float32) int {
	best, bestDist := 0, 0.0
	for i, c := range centroids {
		d := metric.Distance(v, c)
		if i == 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
