package match

import (
	"errors"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/liveness"
)

// ErrEmptyGallery is returned when a search runs against a gallery with no records.
var ErrEmptyGallery = errors.New("gallery is empty")

// ErrIndexOutOfSync means the index and the store disagree about what refs
// exist. The index must be rebuilt.
var ErrIndexOutOfSync = errors.New("vector index out of sync with gallery")

// Status is the kind of an Outcome.
type Status string

const (
	StatusMatched        Status = "matched"
	StatusNoFaceDetected Status = "no_face_detected"
	StatusEmptyGallery   Status = "empty_gallery"
)

// Result is one ranked candidate identity.
type Result struct {
	IdentityID     string                `json:"identity_id,omitempty"`
	DisplayName    string                `json:"name,omitempty"`
	AuxiliaryInfo  string                `json:"info,omitempty"`
	EmbeddingIndex int                   `json:"embedding_index"`
	FaceIndex      int                   `json:"face_index"`
	Confidence     float64               `json:"confidence"`
	Score          float64               `json:"score"`
	Distance       float64               `json:"distance"`
	BoundingBox    facematch.BoundingBox `json:"box"`
	Liveness       *liveness.Result      `json:"liveness,omitempty"`
}

// Outcome is what a search produced. Only StatusMatched carries results.
type Outcome struct {
	Status  Status   `json:"status"`
	Matches []Result `json:"matches"`
}

func Matched(results []Result) Outcome {
	if results == nil {
		results = []Result{}
	}
	return Outcome{Status: StatusMatched, Matches: results}
}

func NoFaceDetected() Outcome {
	return Outcome{Status: StatusNoFaceDetected, Matches: []Result{}}
}

func EmptyGallery() Outcome {
	return Outcome{Status: StatusEmptyGallery, Matches: []Result{}}
}

// Err maps non-matched outcomes to their sentinel errors.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusNoFaceDetected:
		return facematch.ErrNoFaceDetected
	case StatusEmptyGallery:
		return ErrEmptyGallery
	default:
		return nil
	}
}
