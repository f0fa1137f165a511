// Package identify owns the live gallery: the store, the vector index built
// from it and the match engine. Searches share a read lock; enrolls,
// rebuilds and reloads swap state under the write lock, so a search sees
// either the state before or after a change, never a mix of both.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/liveness"
	"github.com/kozaktomas/khoj/internal/logger"
	"github.com/kozaktomas/khoj/internal/match"
	"github.com/kozaktomas/khoj/internal/vectorindex"
)

var (
	// ErrNoDetector is returned by image operations when no detector is configured.
	ErrNoDetector = errors.New("no face detector configured")
	// ErrNotPersisted accompanies a valid embedding index: the identity is
	// enrolled and searchable but the new generation could not be written.
	ErrNotPersisted = errors.New("identity enrolled but not persisted")
	// ErrUnsavedChanges is returned by Reload while enrolls are not yet on disk.
	ErrUnsavedChanges = errors.New("gallery has unsaved enrollments")
)

// Mirror receives every enrolled record, e.g. to keep a database copy.
type Mirror interface {
	AppendRecord(ctx context.Context, index int, rec gallery.Record) error
}

// Options configures a Service.
type Options struct {
	// Dir is the gallery directory. Empty keeps the gallery in memory only.
	Dir       string
	Dim       int
	Normalize bool
	// PersistOnEnroll writes a new generation after each enroll.
	PersistOnEnroll bool

	Index vectorindex.Config
	// IndexCachePath stores the HNSW graph between restarts.
	IndexCachePath string

	Liveness      liveness.Config
	DefaultTopK   int
	MinConfidence float64

	Detector facematch.Detector
	Mirror   Mirror
	Logger   *slog.Logger
}

// Service is the gallery context shared by the CLI and the HTTP server.
type Service struct {
	opts   Options
	log    *slog.Logger
	engine *match.Engine

	mu          sync.RWMutex
	store       *gallery.Store
	index       vectorindex.Index
	dirty       bool
	lastPersist time.Time
	generation  int64

	// rebuildMu serializes index rebuilds and reloads. persistMu is held by
	// Persist, Reload and the whole of Enroll, so an enroll and the
	// generation that records it cannot interleave with a reload.
	// Lock order: rebuildMu, persistMu, mu.
	rebuildMu sync.Mutex
	persistMu sync.Mutex
}

// Open loads the gallery from opts.Dir (an empty one when none exists yet)
// and builds its index. Corrupt storage is returned as an error; the
// service refuses to serve from it.
func Open(ctx context.Context, opts Options) (*Service, error) {
	var (
		store *gallery.Store
		err   error
	)
	if opts.Dir == "" {
		store, err = gallery.New(opts.Dim, gallery.WithNormalize(opts.Normalize))
	} else {
		store, err = gallery.Open(opts.Dir, opts.Dim, gallery.WithNormalize(opts.Normalize))
	}
	if err != nil {
		return nil, fmt.Errorf("opening gallery: %w", err)
	}
	return NewFromStore(ctx, store, opts)
}

// NewFromStore wraps an existing store. The store must not be used by the
// caller afterwards.
func NewFromStore(ctx context.Context, store *gallery.Store, opts Options) (*Service, error) {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	opts.Dim = store.Dim()
	opts.Index.Dim = store.Dim()

	s := &Service{
		opts:   opts,
		log:    logger.OrNop(opts.Logger),
		engine: match.NewEngine(liveness.NewGate(opts.Liveness)),
		store:  store,
	}
	if store.Normalized() != opts.Normalize {
		s.log.Warn("gallery normalization differs from configuration",
			"stored", store.Normalized(), "configured", opts.Normalize)
	}
	if opts.Dir != "" {
		if m, err := gallery.ReadManifest(opts.Dir); err == nil {
			s.generation = m.Generation
			s.lastPersist = m.SavedAt
		}
	}

	idx, err := s.loadOrBuildIndex(ctx, store)
	if err != nil {
		return nil, err
	}
	s.index = idx
	s.log.Info("gallery ready", "records", store.Size(), "dim", store.Dim(),
		"index", idx.Kind(), "metric", idx.Metric())
	return s, nil
}

func (s *Service) loadOrBuildIndex(ctx context.Context, store *gallery.Store) (vectorindex.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := store.Vectors()
	if s.opts.Index.Kind == vectorindex.KindHNSW && s.opts.IndexCachePath != "" {
		idx, err := vectorindex.LoadHNSWCache(s.opts.IndexCachePath, s.opts.Index, vectors)
		if err == nil {
			s.log.Info("loaded cached index", "path", s.opts.IndexCachePath, "records", idx.Len())
			return idx, nil
		}
		s.log.Info("index cache not usable, rebuilding", "path", s.opts.IndexCachePath, "reason", err)
	}

	start := time.Now()
	idx, err := vectorindex.Build(s.opts.Index, vectors)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	s.log.Debug("index built", "kind", idx.Kind(), "records", idx.Len(), "duration", time.Since(start))
	return idx, nil
}

// SearchOptions tunes one search. Zero values use the service defaults.
type SearchOptions struct {
	TopK          int
	MinConfidence float64
}

func (s *Service) matchOptions(opts SearchOptions) match.Options {
	out := match.Options{TopK: opts.TopK, MinConfidence: opts.MinConfidence}
	if out.TopK == 0 {
		out.TopK = s.opts.DefaultTopK
	}
	if out.MinConfidence == 0 {
		out.MinConfidence = s.opts.MinConfidence
	}
	return out
}

// Search ranks gallery identities for already detected faces.
func (s *Service) Search(ctx context.Context, faces []facematch.QueryFace, opts SearchOptions) (match.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return match.Outcome{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := s.engine.Match(s.index, s.store, faces, s.matchOptions(opts))
	if err != nil {
		s.logIntegrity(err, "search failed")
		return match.Outcome{}, err
	}
	return out, nil
}

// Identify detects faces in image and searches for them. An image without
// faces is a NoFaceDetected outcome, not an error.
func (s *Service) Identify(ctx context.Context, image []byte, source facematch.SourceKind, opts SearchOptions) (match.Outcome, error) {
	if s.opts.Detector == nil {
		return match.Outcome{}, ErrNoDetector
	}
	faces, err := s.opts.Detector.Detect(ctx, image)
	if errors.Is(err, facematch.ErrNoFaceDetected) || (err == nil && len(faces) == 0) {
		return match.NoFaceDetected(), nil
	}
	if err != nil {
		return match.Outcome{}, fmt.Errorf("detecting faces: %w", err)
	}
	return s.Search(ctx, facematch.NewQueryFaces(faces, source), opts)
}

// EnrollRequest describes a new identity.
type EnrollRequest struct {
	// IdentityID defaults to <slug of DisplayName>/<random id>.
	IdentityID    string
	DisplayName   string
	AuxiliaryInfo string
	Embedding     []float32
}

// Enroll appends a record and indexes it in one step. The new identity is
// searchable as soon as Enroll returns. When writing the new generation
// fails the index is still returned, with an error wrapping ErrNotPersisted.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if req.IdentityID == "" {
		req.IdentityID = facematch.Slug(req.DisplayName) + "/" + uuid.NewString()[:8]
	}
	rec := gallery.Record{
		IdentityID:    req.IdentityID,
		DisplayName:   req.DisplayName,
		AuxiliaryInfo: req.AuxiliaryInfo,
		Vector:        req.Embedding,
	}

	s.mu.Lock()
	size := s.store.Size()
	idx, err := s.store.Append(rec)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if err := s.index.Insert(idx, s.store.Vector(idx)); err != nil {
		s.store.Rollback(size)
		s.mu.Unlock()
		return 0, fmt.Errorf("indexing %s: %w", rec.IdentityID, err)
	}
	stored, _ := s.store.Record(idx)
	s.dirty = true
	s.mu.Unlock()

	s.log.Info("identity enrolled", "identity_id", stored.IdentityID, "embedding_index", idx)

	if s.opts.Mirror != nil {
		if err := s.opts.Mirror.AppendRecord(ctx, idx, stored); err != nil {
			s.log.Error("failed to mirror enrolled identity", "identity_id", stored.IdentityID, "error", err)
		}
	}
	if s.opts.PersistOnEnroll && s.opts.Dir != "" {
		if err := s.persist(); err != nil {
			return idx, fmt.Errorf("%w: %s: %w", ErrNotPersisted, stored.IdentityID, err)
		}
	}
	return idx, nil
}

// EnrollImage detects the primary face of image and enrolls it.
func (s *Service) EnrollImage(ctx context.Context, image []byte, req EnrollRequest) (int, error) {
	if s.opts.Detector == nil {
		return 0, ErrNoDetector
	}
	faces, err := s.opts.Detector.Detect(ctx, image)
	if err != nil {
		return 0, fmt.Errorf("detecting faces: %w", err)
	}
	face, ok := facematch.Primary(faces)
	if !ok {
		return 0, facematch.ErrNoFaceDetected
	}
	req.Embedding = face.Embedding
	return s.Enroll(ctx, req)
}

// RebuildIndex rebuilds the index from the store without blocking searches.
// Records enrolled while the build runs are replayed before the swap.
func (s *Service) RebuildIndex(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	s.mu.RLock()
	snapshot := s.store.Snapshot()
	s.mu.RUnlock()

	start := time.Now()
	idx, err := vectorindex.Build(s.opts.Index, snapshot.Vectors())
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for i := snapshot.Size(); i < s.store.Size(); i++ {
		if err := idx.Insert(i, s.store.Vector(i)); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("replaying record %d: %w", i, err)
		}
	}
	s.index = idx
	s.mu.Unlock()

	s.log.Info("index rebuilt", "kind", idx.Kind(), "records", idx.Len(), "duration", time.Since(start))
	s.saveIndexCache(idx)
	return nil
}

// Persist writes the current store as a new generation. Concurrent calls
// are serialized with each other and with enrolls; searches continue meanwhile.
func (s *Service) Persist(ctx context.Context) error {
	if s.opts.Dir == "" {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.persist()
}

// persist requires persistMu.
func (s *Service) persist() error {
	s.mu.RLock()
	snapshot := s.store.Snapshot()
	s.mu.RUnlock()

	m, err := snapshot.Persist(s.opts.Dir)
	if err != nil {
		return fmt.Errorf("persisting gallery: %w", err)
	}

	s.mu.Lock()
	if s.store.Size() == snapshot.Size() {
		s.dirty = false
	}
	s.generation = m.Generation
	s.lastPersist = m.SavedAt
	s.mu.Unlock()

	s.log.Info("gallery persisted", "dir", s.opts.Dir, "generation", m.Generation, "records", m.Count)
	return nil
}

// Reload replaces the live gallery with what is on disk. It refuses with
// ErrUnsavedChanges while enrolled records are not persisted, so embedding
// indexes already handed out are never assigned to another identity.
func (s *Service) Reload(ctx context.Context) error {
	if s.opts.Dir == "" {
		return errors.New("gallery has no directory to reload from")
	}
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	dirty := s.dirty
	s.mu.RUnlock()
	if dirty {
		return fmt.Errorf("%w: persist the gallery before reloading", ErrUnsavedChanges)
	}

	store, err := gallery.Open(s.opts.Dir, s.opts.Dim, gallery.WithNormalize(s.opts.Normalize))
	if err != nil {
		s.logIntegrity(err, "reload failed")
		return fmt.Errorf("reloading gallery: %w", err)
	}
	idx, err := vectorindex.Build(s.opts.Index, store.Vectors())
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	m, _ := gallery.ReadManifest(s.opts.Dir)

	s.mu.Lock()
	s.store = store
	s.index = idx
	s.dirty = false
	s.generation = m.Generation
	s.lastPersist = m.SavedAt
	s.mu.Unlock()

	s.log.Info("gallery reloaded", "records", store.Size(), "generation", m.Generation)
	return nil
}

// Records returns a copy of the gallery records in index order.
func (s *Service) Records() []gallery.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Records()
}

// Record returns the record at embedding index i.
func (s *Service) Record(i int) (gallery.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Record(i)
}

// Stats describes the live gallery.
type Stats struct {
	Records     int                `json:"records"`
	Dim         int                `json:"dim"`
	IndexKind   vectorindex.Kind   `json:"index_kind"`
	Metric      vectorindex.Metric `json:"metric"`
	IndexLen    int                `json:"index_len"`
	Normalized  bool               `json:"normalized"`
	Dirty       bool               `json:"dirty"`
	Generation  int64              `json:"generation"`
	LastPersist time.Time          `json:"last_persist,omitzero"`
}

func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Records:     s.store.Size(),
		Dim:         s.store.Dim(),
		IndexKind:   s.index.Kind(),
		Metric:      s.index.Metric(),
		IndexLen:    s.index.Len(),
		Normalized:  s.store.Normalized(),
		Dirty:       s.dirty,
		Generation:  s.generation,
		LastPersist: s.lastPersist,
	}
}

// Close persists unsaved records and writes the index cache.
func (s *Service) Close(ctx context.Context) error {
	s.mu.RLock()
	dirty := s.dirty
	idx := s.index
	s.mu.RUnlock()

	var errs []error
	if dirty {
		if err := s.Persist(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.saveIndexCache(idx)
	return errors.Join(errs...)
}

type cacheSaver interface {
	SaveCache(path string) error
}

func (s *Service) saveIndexCache(idx vectorindex.Index) {
	if s.opts.IndexCachePath == "" {
		return
	}
	saver, ok := idx.(cacheSaver)
	if !ok {
		return
	}
	if err := saver.SaveCache(s.opts.IndexCachePath); err != nil {
		s.log.Warn("failed to save index cache", "path", s.opts.IndexCachePath, "error", err)
	}
}

// logIntegrity logs errors that mean the gallery itself is broken.
func (s *Service) logIntegrity(err error, msg string) {
	switch {
	case errors.Is(err, facematch.ErrDimensionMismatch),
		errors.Is(err, gallery.ErrStorageCorrupt),
		errors.Is(err, match.ErrIndexOutOfSync):
		s.log.Error(msg, "error", err)
	}
}
