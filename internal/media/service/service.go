// Package service owns the media lifecycle: upload registration, status
// transitions and per-family job bookkeeping. Every state change and the
// outbox event describing it are written in one registry transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/config"
	"github.com/romariotrain/media-derivatives/internal/media/domain"
	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/planner"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

type Service struct {
	repo        repository.Registry
	paths       *paths.Resolver
	topics      config.Topics
	eventsTopic string
	clock       func() time.Time
	idGen       func() uuid.UUID
}

func New(repo repository.Registry, resolver *paths.Resolver, kafka config.Kafka) *Service {
	return &Service{
		repo:        repo,
		paths:       resolver,
		topics:      kafka.Topics,
		eventsTopic: kafka.EventsTopic,
		clock:       time.Now,
		idGen:       uuid.New,
	}
}

// UploadRequest describes a new original. When Body is nil the file is
// expected to be at its canonical path already.
type UploadRequest struct {
	OwnerID   uuid.UUID
	Kind      models.Kind
	FileName  string
	SizeBytes int64
	Body      io.Reader
	Subtitle  *SubtitleUpload
	// Optional subset of the video ladder.
	Resolutions []string
}

type SubtitleUpload struct {
	Language string
	FileName string
	Body     io.Reader
}

// RegisterUpload stores the original, creates the media row and enqueues
// one job per derivative family of its kind.
func (s *Service) RegisterUpload(ctx context.Context, req UploadRequest) (*models.Media, error) {
	if req.OwnerID == uuid.Nil || !req.Kind.Valid() {
		return nil, models.ErrInvalidArgument
	}
	if len(req.Resolutions) > 0 {
		if req.Kind != models.Video {
			return nil, fmt.Errorf("resolutions apply to video only: %w", models.ErrInvalidArgument)
		}
		if _, err := planner.NewVideoLadder(s.paths).Plan(planner.Input{Resolutions: req.Resolutions}); err != nil {
			return nil, err
		}
	}

	id := s.idGen()
	original, err := s.paths.Original(req.OwnerID, req.Kind, id, req.FileName)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	m := &models.Media{
		ID:           id,
		OwnerID:      req.OwnerID,
		Kind:         req.Kind,
		FileName:     strings.TrimPrefix(path.Base(original), id.String()+"_"),
		OriginalPath: original,
		SizeBytes:    req.SizeBytes,
		Status:       models.UploadedStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var sub *models.Subtitle
	if req.Subtitle != nil {
		if req.Kind != models.Video {
			return nil, fmt.Errorf("subtitles apply to video only: %w", models.ErrInvalidArgument)
		}
		rel, err := s.paths.Subtitle(req.OwnerID, m.ID, req.Subtitle.FileName)
		if err != nil {
			return nil, err
		}
		sub = &models.Subtitle{
			ID:        s.idGen(),
			MediaID:   m.ID,
			Language:  req.Subtitle.Language,
			Path:      rel,
			CreatedAt: now,
		}
	}

	if req.Body != nil {
		n, err := s.store(original, req.Body)
		if err != nil {
			return nil, err
		}
		m.SizeBytes = n
	}
	if sub != nil && req.Subtitle.Body != nil {
		if _, err := s.store(sub.Path, req.Subtitle.Body); err != nil {
			return nil, err
		}
	}

	err = s.repo.InTx(ctx, func(tx repository.Registry) error {
		if err := tx.Create(ctx, m); err != nil {
			return err
		}
		if sub != nil {
			if err := tx.AddSubtitle(ctx, sub); err != nil {
				return err
			}
		}
		for _, f := range models.FamiliesFor(m.Kind) {
			if err := tx.SaveJob(ctx, &models.DerivativeJob{
				MediaID:   m.ID,
				Family:    f,
				State:     models.JobPending,
				UpdatedAt: now,
			}); err != nil {
				return err
			}

			job := models.Job{
				ID:        s.idGen(),
				MediaID:   m.ID,
				Family:    f,
				OwnerID:   m.OwnerID,
				InputPath: m.OriginalPath,
			}
			if f == models.FamilyTranscode {
				job.OutputDir = s.paths.HLSDir(m.OwnerID, m.ID)
				job.TargetResolutions = req.Resolutions
			}
			if err := tx.AddEvent(ctx, s.topics.For(f), models.NewJobRequested(job)); err != nil {
				return fmt.Errorf("add outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// store writes body to rel through a temp file so a partial upload never
// sits at the canonical path.
func (s *Service) store(rel string, body io.Reader) (int64, error) {
	dst := s.paths.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("store %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", rel, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("store %s: %w", rel, err)
	}
	return n, nil
}

// GetMedia returns Media by id. Domain errors (e.g. models.ErrNotFound) pass
// through so the transport layer can map them to HTTP.
func (s *Service) GetMedia(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	return s.repo.GetByID(ctx, id)
}

// Details is a media with every derivative row and per-family job state.
type Details struct {
	Media     *models.Media
	Artifacts models.Artifacts
	Jobs      []models.DerivativeJob
}

func (s *Service) Describe(ctx context.Context, id uuid.UUID) (*Details, error) {
	m, err := s.GetMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.repo.ListArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.repo.ListJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{Media: m, Artifacts: artifacts, Jobs: jobs}, nil
}

// ChangeStatus применяет переход статуса и пишет MediaStatusChanged в outbox
// атомарно с изменением. Переход в тот же статус ничего не делает.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to models.Status) (*models.Media, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}

	var updated *models.Media
	err := s.repo.InTx(ctx, func(tx repository.Registry) error {
		// Читаем медиа в транзакции, чтобы знать старый статус
		m, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		updated, err = s.changeStatus(ctx, tx, m, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// changeStatus validates and applies one transition and records the event.
// Same-status changes are no-ops.
func (s *Service) changeStatus(ctx context.Context, tx repository.Registry, m *models.Media, to models.Status) (*models.Media, error) {
	// 1. Валидация перехода
	if err := domain.ValidateTransition(m.Status, to); err != nil {
		return nil, err
	}
	// Если статус уже такой, ничего не делаем
	if m.Status == to {
		return m, nil
	}

	// 2. Обновляем статус (в транзакции)
	updated, err := tx.UpdateStatus(ctx, m.ID, to)
	if err != nil {
		return nil, err
	}
	// 3. Событие в outbox (в той же транзакции)
	if err := tx.AddEvent(ctx, s.eventsTopic, models.NewMediaStatusChanged(m.ID, m.Status, to)); err != nil {
		return nil, fmt.Errorf("add outbox: %w", err)
	}
	return updated, nil
}

// StartJob marks the family running and the media PROCESSING. Deleted or
// unknown media yields models.ErrNotFound so the consumer drops the job.
func (s *Service) StartJob(ctx context.Context, mediaID uuid.UUID, family models.Family) (*models.Media, *models.DerivativeJob, error) {
	var (
		media *models.Media
		job   *models.DerivativeJob
	)
	err := s.repo.InTx(ctx, func(tx repository.Registry) error {
		m, err := s.liveMedia(ctx, tx, mediaID)
		if err != nil {
			return err
		}
		if !slices.Contains(models.FamiliesFor(m.Kind), family) {
			return fmt.Errorf("family %s does not apply to %s media: %w", family, m.Kind, models.ErrInvalidArgument)
		}

		j, err := s.loadJob(ctx, tx, mediaID, family)
		if err != nil {
			return err
		}
		if err := domain.ValidateJobTransition(j.State, models.JobRunning); err != nil {
			return err
		}
		j.State = models.JobRunning
		j.Attempts++
		j.LastError = ""
		j.UpdatedAt = s.clock().UTC()
		if err := tx.SaveJob(ctx, j); err != nil {
			return err
		}

		media, err = s.changeStatus(ctx, tx, m, models.ProcessingStatus)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return media, job, nil
}

// FinishJob records the terminal state of a family and re-aggregates the
// media status from all of its families.
func (s *Service) FinishJob(ctx context.Context, mediaID uuid.UUID, family models.Family, state models.JobState, lastErr string) (*models.Media, error) {
	if !state.Terminal() {
		return nil, fmt.Errorf("finish job in state %s: %w", state, models.ErrInvalidArgument)
	}

	var media *models.Media
	err := s.repo.InTx(ctx, func(tx repository.Registry) error {
		m, err := s.liveMedia(ctx, tx, mediaID)
		if err != nil {
			return err
		}

		j, err := s.loadJob(ctx, tx, mediaID, family)
		if err != nil {
			return err
		}
		if err := domain.ValidateJobTransition(j.State, state); err != nil {
			return err
		}
		j.State = state
		j.LastError = lastErr
		j.UpdatedAt = s.clock().UTC()
		if err := tx.SaveJob(ctx, j); err != nil {
			return err
		}

		jobs, err := tx.ListJobs(ctx, mediaID)
		if err != nil {
			return err
		}
		media = m
		status, ok := domain.Aggregate(models.FamiliesFor(m.Kind), jobs)
		if !ok {
			return nil
		}
		media, err = s.changeStatus(ctx, tx, m, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return media, nil
}

func (s *Service) liveMedia(ctx context.Context, tx repository.Registry, id uuid.UUID) (*models.Media, error) {
	m, err := tx.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == models.DeletedStatus {
		return nil, models.ErrNotFound
	}
	return m, nil
}

// loadJob returns the job row, or a fresh pending one for media registered
// before job bookkeeping existed.
func (s *Service) loadJob(ctx context.Context, tx repository.Registry, mediaID uuid.UUID, family models.Family) (*models.DerivativeJob, error) {
	j, err := tx.GetJob(ctx, mediaID, family)
	if errors.Is(err, models.ErrNotFound) {
		return &models.DerivativeJob{MediaID: mediaID, Family: family, State: models.JobPending}, nil
	}
	return j, err
}

