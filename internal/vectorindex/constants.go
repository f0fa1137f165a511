package vectorindex

// HNSW configuration
const (
	// HNSWMaxNeighbors is the max number of neighbors per node in the HNSW graph
	HNSWMaxNeighbors = 16
	// HNSWEfSearch is the search-time candidate list size
	HNSWEfSearch = 100
	// HNSWSearchMultiplier over-fetches graph candidates before exact re-ranking
	HNSWSearchMultiplier = 3
)

// IVF configuration
const (
	IVFDefaultLists      = 64
	IVFDefaultProbes     = 8
	IVFDefaultIterations = 10
)
