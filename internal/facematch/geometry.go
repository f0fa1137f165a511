package facematch

// BoundingBox is a face box as [x1, y1, x2, y2] in image pixels.
type BoundingBox [4]float64

// Width of the box, zero for inverted boxes.
func (b BoundingBox) Width() float64 {
	return max(0, b[2]-b[0])
}

// Height of the box, zero for inverted boxes.
func (b BoundingBox) Height() float64 {
	return max(0, b[3]-b[1])
}

// Area of the box in square pixels.
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Valid reports whether the box has a positive area.
func (b BoundingBox) Valid() bool {
	return b[2] > b[0] && b[3] > b[1]
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
func ComputeIoU(b1, b2 BoundingBox) float64 {
	// Calculate intersection.
	x1 := max(b1[0], b2[0])
	y1 := max(b1[1], b2[1])
	x2 := min(b1[2], b2[2])
	y2 := min(b1[3], b2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b1.Area() + b2.Area() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// DedupeOverlapping drops faces whose box overlaps an earlier, higher scored
// face by more than threshold IoU. Order of the survivors is preserved.
func DedupeOverlapping(faces []DetectedFace, threshold float64) []DetectedFace {
	out := make([]DetectedFace, 0, len(faces))
	for _, f := range faces {
		dup := -1
		for j, kept := range out {
			if ComputeIoU(f.BoundingBox, kept.BoundingBox) > threshold {
				dup = j
				break
			}
		}
		switch {
		case dup < 0:
			out = append(out, f)
		case f.DetScore > out[dup].DetScore:
			out[dup] = f
		}
	}
	return out
}
