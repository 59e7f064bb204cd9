package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

type jobKey struct {
	mediaID uuid.UUID
	family  models.Family
}

type memState struct {
	media      map[uuid.UUID]models.Media
	renditions []models.TranscodedRendition
	segments   []models.VideoSegment
	images     []models.ImageRendition
	subtitles  []models.Subtitle
	videoMeta  map[uuid.UUID]models.VideoMetadata
	pdfMeta    map[uuid.UUID]models.PdfMetadata
	imageMeta  map[uuid.UUID]models.ImageMetadata
	jobs       map[jobKey]models.DerivativeJob
	outbox     []outboxEntry
	nextID     int64
}

type outboxEntry struct {
	OutboxRecord
	processed bool
}

func newMemState() *memState {
	return &memState{
		media:     make(map[uuid.UUID]models.Media),
		videoMeta: make(map[uuid.UUID]models.VideoMetadata),
		pdfMeta:   make(map[uuid.UUID]models.PdfMetadata),
		imageMeta: make(map[uuid.UUID]models.ImageMetadata),
		jobs:      make(map[jobKey]models.DerivativeJob),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		media:      cloneMap(s.media),
		renditions: append([]models.TranscodedRendition(nil), s.renditions...),
		segments:   append([]models.VideoSegment(nil), s.segments...),
		images:     append([]models.ImageRendition(nil), s.images...),
		subtitles:  append([]models.Subtitle(nil), s.subtitles...),
		videoMeta:  cloneMap(s.videoMeta),
		pdfMeta:    cloneMap(s.pdfMeta),
		imageMeta:  cloneMap(s.imageMeta),
		jobs:       cloneMap(s.jobs),
		outbox:     append([]outboxEntry(nil), s.outbox...),
		nextID:     s.nextID,
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MemoryRepository is a Registry kept in process memory. It backs tests and
// single-process local runs.
type MemoryRepository struct {
	mu    *sync.Mutex
	st    *memState
	inTx  bool
	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		mu:    new(sync.Mutex),
		st:    newMemState(),
		clock: time.Now,
	}
}

// lock is a no-op inside InTx, which already holds the mutex.
func (r *MemoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Registry) error) error {
	if r.inTx {
		return fn(r)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.st.clone()
	tx := &MemoryRepository{mu: r.mu, st: r.st, inTx: true, clock: r.clock}
	if err := fn(tx); err != nil {
		*r.st = *snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) Create(ctx context.Context, m *models.Media) error {
	if m == nil || m.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	if _, exists := r.st.media[m.ID]; exists {
		return models.ErrConflict
	}
	r.st.media[m.ID] = *m
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	m, ok := r.st.media[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &m, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	m, ok := r.st.media[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = r.clock()
	r.st.media[id] = m
	return &m, nil
}

func (r *MemoryRepository) AddRendition(ctx context.Context, rd *models.TranscodedRendition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	for _, x := range r.st.renditions {
		if x.MediaID == rd.MediaID && x.Resolution == rd.Resolution {
			return fmt.Errorf("rendition %s/%s: %w", rd.MediaID, rd.Resolution, models.ErrConflict)
		}
	}
	r.st.renditions = append(r.st.renditions, *rd)
	return nil
}

func (r *MemoryRepository) AddSegment(ctx context.Context, s *models.VideoSegment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	for _, x := range r.st.segments {
		if x.MediaID == s.MediaID && x.Resolution == s.Resolution && x.SegmentIndex == s.SegmentIndex {
			return fmt.Errorf("segment %s/%s/%d: %w", s.MediaID, s.Resolution, s.SegmentIndex, models.ErrConflict)
		}
	}
	r.st.segments = append(r.st.segments, *s)
	return nil
}

func (r *MemoryRepository) DeleteVideoArtifacts(ctx context.Context, mediaID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	r.st.renditions = filter(r.st.renditions, func(x models.TranscodedRendition) bool { return x.MediaID != mediaID })
	r.st.segments = filter(r.st.segments, func(x models.VideoSegment) bool { return x.MediaID != mediaID })
	return nil
}

func (r *MemoryRepository) AddImageRendition(ctx context.Context, img *models.ImageRendition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer r.lock()()

	for _, x := range r.st.images {
		if x.MediaID == img.MediaID && x.Resolution == img.Resolution {
			return false, nil
		}
	}
	r.st.images = append(r.st.images, *img)
	return true, nil
}

func (r *MemoryRepository) AddSubtitle(ctx context.Context, s *models.Subtitle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	r.st.subtitles = append(r.st.subtitles, *s)
	return nil
}

func (r *MemoryRepository) ListArtifacts(ctx context.Context, mediaID uuid.UUID) (models.Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return models.Artifacts{}, err
	}
	defer r.lock()()

	a := models.Artifacts{
		Renditions: filter(r.st.renditions, func(x models.TranscodedRendition) bool { return x.MediaID == mediaID }),
		Segments:   filter(r.st.segments, func(x models.VideoSegment) bool { return x.MediaID == mediaID }),
		Images:     filter(r.st.images, func(x models.ImageRendition) bool { return x.MediaID == mediaID }),
		Subtitles:  filter(r.st.subtitles, func(x models.Subtitle) bool { return x.MediaID == mediaID }),
	}
	sort.SliceStable(a.Segments, func(i, j int) bool {
		if a.Segments[i].Resolution != a.Segments[j].Resolution {
			return a.Segments[i].Resolution < a.Segments[j].Resolution
		}
		return a.Segments[i].SegmentIndex < a.Segments[j].SegmentIndex
	})
	return a, nil
}

func (r *MemoryRepository) UpsertVideoMetadata(ctx context.Context, m *models.VideoMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	r.st.videoMeta[m.MediaID] = *m
	return nil
}

func (r *MemoryRepository) UpsertPdfMetadata(ctx context.Context, m *models.PdfMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	r.st.pdfMeta[m.MediaID] = *m
	return nil
}

func (r *MemoryRepository) UpsertImageMetadata(ctx context.Context, m *models.ImageMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	r.st.imageMeta[m.MediaID] = *m
	return nil
}

// VideoMetadata, PdfMetadata and ImageMetadata are read helpers for tests
// and the HTTP adapter.
func (r *MemoryRepository) VideoMetadata(id uuid.UUID) (models.VideoMetadata, bool) {
	defer r.lock()()
	m, ok := r.st.videoMeta[id]
	return m, ok
}

func (r *MemoryRepository) PdfMetadata(id uuid.UUID) (models.PdfMetadata, bool) {
	defer r.lock()()
	m, ok := r.st.pdfMeta[id]
	return m, ok
}

func (r *MemoryRepository) ImageMetadata(id uuid.UUID) (models.ImageMetadata, bool) {
	defer r.lock()()
	m, ok := r.st.imageMeta[id]
	return m, ok
}

func (r *MemoryRepository) SaveJob(ctx context.Context, j *models.DerivativeJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	r.st.jobs[jobKey{j.MediaID, j.Family}] = *j
	return nil
}

func (r *MemoryRepository) GetJob(ctx context.Context, mediaID uuid.UUID, family models.Family) (*models.DerivativeJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	j, ok := r.st.jobs[jobKey{mediaID, family}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &j, nil
}

func (r *MemoryRepository) ListJobs(ctx context.Context, mediaID uuid.UUID) ([]models.DerivativeJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	var out []models.DerivativeJob
	for k, j := range r.st.jobs {
		if k.mediaID == mediaID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out, nil
}

func (r *MemoryRepository) AddEvent(ctx context.Context, topic string, event models.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	defer r.lock()()

	r.st.nextID++
	r.st.outbox = append(r.st.outbox, outboxEntry{OutboxRecord: OutboxRecord{
		ID:          r.st.nextID,
		EventID:     event.EventID().String(),
		EventType:   event.EventType(),
		AggregateID: event.AggregateID().String(),
		Topic:       topic,
		Payload:     payload,
		OccurredAt:  event.OccurredAt(),
	}})
	return nil
}

func (r *MemoryRepository) GetPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	var out []OutboxRecord
	for _, e := range r.st.outbox {
		if len(out) >= limit {
			break
		}
		if !e.processed {
			out = append(out, e.OutboxRecord)
		}
	}
	return out, nil
}

func (r *MemoryRepository) MarkProcessed(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	for i := range r.st.outbox {
		if r.st.outbox[i].ID == id {
			r.st.outbox[i].processed = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *MemoryRepository) DeleteMediaCascade(ctx context.Context, mediaID uuid.UUID) error {
	return r.InTx(ctx, func(tx Registry) error {
		mem := tx.(*MemoryRepository)
		if _, ok := mem.st.media[mediaID]; !ok {
			return models.ErrNotFound
		}
		if err := mem.DeleteVideoArtifacts(ctx, mediaID); err != nil {
			return err
		}
		mem.st.images = filter(mem.st.images, func(x models.ImageRendition) bool { return x.MediaID != mediaID })
		mem.st.subtitles = filter(mem.st.subtitles, func(x models.Subtitle) bool { return x.MediaID != mediaID })
		delete(mem.st.videoMeta, mediaID)
		delete(mem.st.pdfMeta, mediaID)
		delete(mem.st.imageMeta, mediaID)
		for k := range mem.st.jobs {
			if k.mediaID == mediaID {
				delete(mem.st.jobs, k)
			}
		}
		delete(mem.st.media, mediaID)
		return nil
	})
}

func filter[T any](in []T, keep func(T) bool) []T {
	var out []T
	for _, x := range in {
		if keep(x) {
			out = append(out, x)
		}
	}
	return out
}
