package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		bbox1    BoundingBox
		bbox2    BoundingBox
		expected float64
	}{
		{
			name:     "identical boxes",
			bbox1:    BoundingBox{0, 0, 10, 10},
			bbox2:    BoundingBox{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			bbox1:    BoundingBox{0, 0, 10, 10},
			bbox2:    BoundingBox{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			bbox1:    BoundingBox{0, 0, 10, 10},
			bbox2:    BoundingBox{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			bbox1:    BoundingBox{0, 0, 20, 20},
			bbox2:    BoundingBox{5, 5, 15, 15},
			expected: 100.0 / 400.0,
		},
		{
			name:     "degenerate box",
			bbox1:    BoundingBox{10, 10, 0, 0},
			bbox2:    BoundingBox{0, 0, 10, 10},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.bbox1, tt.bbox2)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.bbox1, tt.bbox2, result, tt.expected)
			}
		})
	}
}

func TestDedupeOverlapping(t *testing.T) {
	faces := []DetectedFace{
		{BoundingBox: BoundingBox{0, 0, 10, 10}, DetScore: 0.7},
		{BoundingBox: BoundingBox{1, 1, 11, 11}, DetScore: 0.9},
		{BoundingBox: BoundingBox{50, 50, 60, 60}, DetScore: 0.8},
	}

	got := DedupeOverlapping(faces, 0.5)
	if len(got) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(got))
	}
	if got[0].DetScore != 0.9 {
		t.Errorf("expected higher scored duplicate to win, got %v", got[0].DetScore)
	}
	if got[1].BoundingBox != faces[2].BoundingBox {
		t.Errorf("unexpected second face %v", got[1].BoundingBox)
	}
}
