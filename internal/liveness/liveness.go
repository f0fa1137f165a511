// Package liveness implements the eye-aspect-ratio blink check run on live
// captures.
package liveness

import (
	"fmt"
	"math"

	"github.com/kozaktomas/khoj/internal/facematch"
)

const (
	DefaultThreshold = 0.21
	// DefaultMinLandmarks is the floor for every layout. A layout that reads
	// higher indexes raises the effective minimum to MaxIndex()+1.
	DefaultMinLandmarks = 96
)

// EyeLayout locates one eye in a landmark array: the two horizontal corners
// and the upper/lower eyelid pairs whose distances are averaged.
type EyeLayout struct {
	Corners [2]int
	Lids    [][2]int
}

// MaxIndex is the largest landmark index the layout reads.
func (e EyeLayout) MaxIndex() int {
	m := max(e.Corners[0], e.Corners[1])
	for _, p := range e.Lids {
		m = max(m, p[0], p[1])
	}
	return m
}

func (e EyeLayout) offset(base int) EyeLayout {
	out := EyeLayout{Corners: [2]int{e.Corners[0] + base, e.Corners[1] + base}}
	for _, p := range e.Lids {
		out.Lids = append(out.Lids, [2]int{p[0] + base, p[1] + base})
	}
	return out
}

// Layout names the landmark scheme produced by a detector.
type Layout struct {
	Name  string
	Left  EyeLayout
	Right EyeLayout
}

// InsightFace106 is the 2d106det landmark scheme.
var InsightFace106 = Layout{
	Name: "insightface106",
	Left: EyeLayout{
		Corners: [2]int{35, 39},
		Lids:    [][2]int{{41, 36}, {40, 33}, {42, 37}},
	},
	Right: EyeLayout{
		Corners: [2]int{89, 93},
		Lids:    [][2]int{{95, 90}, {94, 87}, {96, 91}},
	},
}

// contourEye is a closed 12 point eye contour starting at one corner.
var contourEye = EyeLayout{
	Corners: [2]int{0, 6},
	Lids:    [][2]int{{1, 11}, {2, 10}, {3, 9}, {4, 8}, {5, 7}},
}

// Contour12 reads the left eye from landmarks 72..83 and the right eye from 84..95.
var Contour12 = Layout{
	Name:  "contour12",
	Left:  contourEye.offset(72),
	Right: contourEye.offset(84),
}

// LayoutByName returns a known layout.
func LayoutByName(name string) (Layout, error) {
	switch name {
	case "", InsightFace106.Name:
		return InsightFace106, nil
	case Contour12.Name:
		return Contour12, nil
	default:
		return Layout{}, fmt.Errorf("unknown landmark layout %q", name)
	}
}

// MaxIndex is the largest landmark index the layout reads.
func (l Layout) MaxIndex() int {
	return max(l.Left.MaxIndex(), l.Right.MaxIndex())
}

// EyeAspectRatio is the mean vertical eyelid distance divided by the corner
// distance. A zero corner distance yields 0.
func EyeAspectRatio(landmarks []facematch.Point, eye EyeLayout) float64 {
	horizontal := dist(landmarks[eye.Corners[0]], landmarks[eye.Corners[1]])
	if horizontal == 0 || len(eye.Lids) == 0 {
		return 0
	}
	var vertical float64
	for _, p := range eye.Lids {
		vertical += dist(landmarks[p[0]], landmarks[p[1]])
	}
	return vertical / float64(len(eye.Lids)) / horizontal
}

func dist(a, b facematch.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Result is attached to matches of live captures.
type Result struct {
	IsBlink  bool    `json:"is_blink"`
	EARScore float64 `json:"ear_score"`
}

// Config tunes the gate.
type Config struct {
	Threshold    float64
	MinLandmarks int
	Layout       Layout
}

// Gate decides whether and how to evaluate liveness for a query face.
type Gate struct {
	cfg Config
}

// NewGate fills unset fields with defaults. MinLandmarks is raised to what
// the layout reads, so the configured minimum is the one applied.
func NewGate(cfg Config) *Gate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Layout.Name == "" {
		cfg.Layout = InsightFace106
	}
	cfg.MinLandmarks = max(cfg.MinLandmarks, DefaultMinLandmarks, cfg.Layout.MaxIndex()+1)
	return &Gate{cfg: cfg}
}

// MinLandmarks is the landmark count a live capture needs to be evaluated.
func (g *Gate) MinLandmarks() int { return g.cfg.MinLandmarks }

// Evaluate returns nil unless the face is a live capture with enough
// landmarks for the configured layout.
func (g *Gate) Evaluate(face facematch.QueryFace) *Result {
	if g == nil || face.Source != facematch.SourceLiveCapture {
		return nil
	}
	if len(face.Landmarks) < g.cfg.MinLandmarks {
		return nil
	}

	left := EyeAspectRatio(face.Landmarks, g.cfg.Layout.Left)
	right := EyeAspectRatio(face.Landmarks, g.cfg.Layout.Right)
	ear := (left + right) / 2
	return &Result{
		IsBlink:  ear < g.cfg.Threshold,
		EARScore: ear,
	}
}
