// Package builder enrolls a directory tree of reference photos,
// <root>/<person>/<image>, into a gallery store.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for the decode check
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/logger"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Source is one reference image.
type Source struct {
	Person string
	Path   string
}

// IdentityID is <slug of person>/<image stem>.
func (s Source) IdentityID() string {
	stem := strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
	return facematch.Slug(s.Person) + "/" + stem
}

// Options configures a build.
type Options struct {
	Root        string
	Concurrency int
	// RatePerSecond limits detection requests. Zero means unlimited.
	RatePerSecond float64
	Identities    map[string]IdentityInfo
	Logger        *slog.Logger
	// Progress is called after each image with the number done and the total.
	Progress func(done, total int)
}

// Report counts what happened to every scanned image.
type Report struct {
	Images     int `json:"images"`
	Enrolled   int `json:"enrolled"`
	NoFace     int `json:"no_face"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// Builder turns reference photos into gallery records.
type Builder struct {
	detector facematch.Detector
	opts     Options
	log      *slog.Logger
}

// New creates a builder.
func New(detector facematch.Detector, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Builder{detector: detector, opts: opts, log: logger.OrNop(opts.Logger)}
}

// Scan lists the reference images under the root, sorted by person then file.
func (b *Builder) Scan() ([]Source, error) {
	people, err := os.ReadDir(b.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery root: %w", err)
	}

	var sources []Source
	for _, p := range people {
		if !p.IsDir() || strings.HasPrefix(p.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(b.opts.Root, p.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			sources = append(sources, Source{Person: p.Name(), Path: filepath.Join(b.opts.Root, p.Name(), f.Name())})
		}
	}
	slices.SortFunc(sources, func(a, b Source) int {
		if c := strings.Compare(a.Person, b.Person); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return sources, nil
}

type imageResult struct {
	face facematch.DetectedFace
	err  error
}

// Build detects the primary face of every reference image and appends the
// results to store in scan order. Images without faces or with unreadable
// data are logged and counted, not fatal. A dimension mismatch aborts the
// build because every later record would fail the same way.
func (b *Builder) Build(ctx context.Context, store *gallery.Store) (Report, error) {
	sources, err := b.Scan()
	if err != nil {
		return Report{}, err
	}
	report := Report{Images: len(sources)}

	var limiter *rate.Limiter
	if b.opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.opts.RatePerSecond), 1)
	}

	results := make([]imageResult, len(sources))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			face, err := b.detect(gctx, src)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = imageResult{face: face, err: err}
			if b.opts.Progress != nil {
				b.opts.Progress(int(done.Add(1)), len(sources))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("gallery build interrupted: %w", err)
	}

	for i, src := range sources {
		res := results[i]
		switch {
		case errors.Is(res.err, facematch.ErrNoFaceDetected):
			report.NoFace++
			b.log.Warn("no face detected", "path", src.Path)
			continue
		case res.err != nil:
			report.Failed++
			b.log.Error("failed to process image", "path", src.Path, "error", res.err)
			continue
		}

		info := b.opts.Identities[src.Person]
		name := info.Name
		if name == "" {
			name = facematch.DisplayName(src.Person)
		}
		_, err := store.Append(gallery.Record{
			IdentityID:    src.IdentityID(),
			DisplayName:   name,
			AuxiliaryInfo: info.Info,
			Vector:        res.face.Embedding,
		})
		switch {
		case errors.Is(err, gallery.ErrDuplicateIdentity):
			report.Duplicates++
			b.log.Debug("identity already enrolled", "identity_id", src.IdentityID())
		case errors.Is(err, facematch.ErrDimensionMismatch):
			return report, fmt.Errorf("enrolling %s: %w", src.Path, err)
		case err != nil:
			report.Failed++
			b.log.Error("failed to enroll image", "path", src.Path, "error", err)
		default:
			report.Enrolled++
			b.log.Debug("enrolled", "identity_id", src.IdentityID(), "det_score", res.face.DetScore)
		}
	}
	return report, nil
}

func (b *Builder) detect(ctx context.Context, src Source) (facematch.DetectedFace, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return facematch.DetectedFace{}, fmt.Errorf("reading image: %w", err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return facematch.DetectedFace{}, fmt.Errorf("decoding image: %w", err)
	}

	faces, err := b.detector.Detect(ctx, data)
	if err != nil {
		return facematch.DetectedFace{}, err
	}
	face, ok := facematch.Primary(faces)
	if !ok {
		return facematch.DetectedFace{}, facematch.ErrNoFaceDetected
	}
	return face, nil
}
