// Package facematch holds the face contract shared by the detection client,
// the gallery builder and the matching core: detected faces, query faces,
// bounding boxes and the errors every layer agrees on.
package facematch

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// SourceKind tells where a query image came from.
type SourceKind string

const (
	// SourceUpload is a still image uploaded by a client.
	SourceUpload SourceKind = "upload"
	// SourceLiveCapture is a frame grabbed from a camera. Only live captures
	// are evaluated for liveness.
	SourceLiveCapture SourceKind = "live_capture"
)

// ParseSourceKind maps user input to a SourceKind. An empty string is an upload.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "upload", "file":
		return SourceUpload, nil
	case "live_capture", "live", "webcam", "camera":
		return SourceLiveCapture, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// Point is a 2D landmark in image pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectedFace is one face as reported by the detection service.
type DetectedFace struct {
	BoundingBox BoundingBox `json:"box"`
	Embedding   []float32   `json:"-"`
	Landmarks   []Point     `json:"landmarks,omitempty"`
	DetScore    float64     `json:"det_score"`
}

// Validate checks that the face carries a usable embedding.
// A dim of zero skips the length check.
func (f DetectedFace) Validate(dim int) error {
	if len(f.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrInvalidFace)
	}
	if dim > 0 && len(f.Embedding) != dim {
		return &DimensionMismatchError{Expected: dim, Actual: len(f.Embedding)}
	}
	for i, v := range f.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite embedding value at %d", ErrInvalidFace, i)
		}
	}
	return nil
}

// QueryFace is a detected face plus the kind of source it was detected in.
type QueryFace struct {
	DetectedFace
	Source SourceKind `json:"source"`
}

// NewQueryFaces tags every detected face with the same source kind.
func NewQueryFaces(faces []DetectedFace, source SourceKind) []QueryFace {
	out := make([]QueryFace, len(faces))
	for i, f := range faces {
		out[i] = QueryFace{DetectedFace: f, Source: source}
	}
	return out
}

// Primary returns the face with the highest detection score; ties go to the
// larger box. ok is false when faces is empty.
func Primary(faces []DetectedFace) (DetectedFace, bool) {
	if len(faces) == 0 {
		return DetectedFace{}, false
	}
	best := 0
	for i := 1; i < len(faces); i++ {
		switch {
		case faces[i].DetScore > faces[best].DetScore:
			best = i
		case faces[i].DetScore == faces[best].DetScore && faces[i].BoundingBox.Area() > faces[best].BoundingBox.Area():
			best = i
		}
	}
	return faces[best], true
}

// Detector turns an encoded image into detected faces. Implementations
// return ErrNoFaceDetected when the image contains no face.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]DetectedFace, error)
}
