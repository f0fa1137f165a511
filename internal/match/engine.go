// Package match ranks gallery identities against detected query faces.
package match

import (
	"fmt"
	"slices"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/liveness"
	"github.com/kozaktomas/khoj/internal/vectorindex"
)

// Gallery is the read view of the store the engine needs.
type Gallery interface {
	Size() int
	Dim() int
	Record(i int) (gallery.Record, bool)
}

// Options controls a single search.
type Options struct {
	// TopK is clamped to [1, gallery size].
	TopK int
	// MinConfidence drops results below the floor. Zero keeps everything.
	MinConfidence float64
}

// Engine turns index hits into ranked results.
type Engine struct {
	gate *liveness.Gate
}

// NewEngine creates an engine. A nil gate disables liveness.
func NewEngine(gate *liveness.Gate) *Engine {
	return &Engine{gate: gate}
}

// Match searches idx for every query face. A single face yields its top_k
// candidates; several faces yield the best candidate of each face ordered by
// confidence (face order on ties) and truncated to top_k.
func (e *Engine) Match(idx vectorindex.Index, g Gallery, faces []facematch.QueryFace, opts Options) (Outcome, error) {
	size := g.Size()
	if size == 0 {
		return EmptyGallery(), nil
	}
	if len(faces) == 0 {
		return Matched(nil), nil
	}
	if idx.Len() != size {
		return Outcome{}, fmt.Errorf("%w: index holds %d vectors, gallery %d records", ErrIndexOutOfSync, idx.Len(), size)
	}
	for i, f := range faces {
		if err := f.Validate(g.Dim()); err != nil {
			return Outcome{}, fmt.Errorf("query face %d: %w", i, err)
		}
	}

	k := min(max(opts.TopK, 1), size)

	var results []Result
	if len(faces) == 1 {
		hits, err := idx.Search(faces[0].Embedding, k)
		if err != nil {
			return Outcome{}, fmt.Errorf("searching index: %w", err)
		}
		results = make([]Result, 0, len(hits))
		live := e.gate.Evaluate(faces[0])
		for _, h := range hits {
			r, err := e.result(idx.Metric(), g, h, 0, faces[0], live)
			if err != nil {
				return Outcome{}, err
			}
			results = append(results, r)
		}
	} else {
		results = make([]Result, 0, len(faces))
		for i, f := range faces {
			hits, err := idx.Search(f.Embedding, 1)
			if err != nil {
				return Outcome{}, fmt.Errorf("searching index for face %d: %w", i, err)
			}
			if len(hits) == 0 {
				continue
			}
			r, err := e.result(idx.Metric(), g, hits[0], i, f, e.gate.Evaluate(f))
			if err != nil {
				return Outcome{}, err
			}
			results = append(results, r)
		}
		slices.SortStableFunc(results, func(a, b Result) int {
			switch {
			case a.Confidence > b.Confidence:
				return -1
			case a.Confidence < b.Confidence:
				return 1
			default:
				return 0
			}
		})
		if len(results) > k {
			results = results[:k]
		}
	}

	if opts.MinConfidence > 0 {
		results = slices.DeleteFunc(results, func(r Result) bool {
			return r.Confidence < opts.MinConfidence
		})
	}
	return Matched(results), nil
}

func (e *Engine) result(metric vectorindex.Metric, g Gallery, h vectorindex.Hit, faceIndex int, face facematch.QueryFace, live *liveness.Result) (Result, error) {
	rec, ok := g.Record(h.Ref)
	if !ok {
		return Result{}, fmt.Errorf("%w: ref %d has no record", ErrIndexOutOfSync, h.Ref)
	}
	conf := Confidence(metric, h.Distance)
	return Result{
		IdentityID:     rec.IdentityID,
		DisplayName:    rec.DisplayName,
		AuxiliaryInfo:  rec.AuxiliaryInfo,
		EmbeddingIndex: h.Ref,
		FaceIndex:      faceIndex,
		Confidence:     conf,
		Score:          Percent(conf),
		Distance:       h.Distance,
		BoundingBox:    face.BoundingBox,
		Liveness:       live,
	}, nil
}
