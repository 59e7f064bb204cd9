// Package cleanup removes a media with every derivative file and row.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
	"github.com/romariotrain/media-derivatives/internal/metrics"
)

// StatusChanger marks the media DELETED before anything is removed, so
// consumers drop its jobs from then on.
type StatusChanger interface {
	ChangeStatus(ctx context.Context, id uuid.UUID, to models.Status) (*models.Media, error)
}

type Orchestrator struct {
	repo   repository.Registry
	status StatusChanger
	paths  *paths.Resolver
	logger zerolog.Logger
}

func New(repo repository.Registry, status StatusChanger, resolver *paths.Resolver, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:   repo,
		status: status,
		paths:  resolver,
		logger: logger.With().Str("component", "cleanup").Logger(),
	}
}

// Cleanup deletes the files first and then every row in one transaction.
// It can be re-run after a partial failure: missing files are tolerated and
// an already deleted media is a no-op.
func (o *Orchestrator) Cleanup(ctx context.Context, mediaID uuid.UUID) error {
	if mediaID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	logger := o.logger.With().Str("media_id", mediaID.String()).Logger()

	m, err := o.repo.GetByID(ctx, mediaID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Debug().Msg("media already gone")
			return nil
		}
		return err
	}

	if _, err := o.status.ChangeStatus(ctx, mediaID, models.DeletedStatus); err != nil {
		metrics.CleanupsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("mark deleted: %w", err)
	}

	artifacts, err := o.repo.ListArtifacts(ctx, mediaID)
	if err != nil {
		metrics.CleanupsTotal.WithLabelValues("failed").Inc()
		return err
	}

	files := artifacts.Paths()
	files = append(files, o.pathConventionFiles(m)...)
	files = append(files, m.OriginalPath)

	removed := 0
	for _, rel := range files {
		ok, err := o.remove(rel)
		if err != nil {
			metrics.CleanupsTotal.WithLabelValues("failed").Inc()
			return err
		}
		if ok {
			removed++
		}
	}

	if err := o.repo.DeleteMediaCascade(ctx, mediaID); err != nil && !errors.Is(err, models.ErrNotFound) {
		metrics.CleanupsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("delete rows: %w", err)
	}

	for _, dir := range o.outputDirs(m) {
		if err := os.RemoveAll(o.paths.Abs(dir)); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("remove output dir")
		}
	}

	metrics.CleanupsTotal.WithLabelValues("ok").Inc()
	metrics.CleanupFilesRemoved.Add(float64(removed))
	logger.Info().Int("files_removed", removed).Msg("media cleaned up")
	return nil
}

// pathConventionFiles are derivatives that have no registry row.
func (o *Orchestrator) pathConventionFiles(m *models.Media) []string {
	switch m.Kind {
	case models.Video:
		return []string{o.paths.Thumbnail(m.OwnerID, m.ID), o.paths.MasterPlaylist(m.OwnerID, m.ID)}
	case models.PDF:
		return []string{o.paths.PdfPreview(m.OwnerID, m.ID)}
	default:
		return nil
	}
}

func (o *Orchestrator) outputDirs(m *models.Media) []string {
	switch m.Kind {
	case models.Video:
		return []string{o.paths.HLSDir(m.OwnerID, m.ID)}
	case models.Image:
		return []string{o.paths.ImageProcessedDir(m.OwnerID, m.ID)}
	default:
		return nil
	}
}

func (o *Orchestrator) remove(rel string) (bool, error) {
	if rel == "" {
		return false, nil
	}
	err := os.Remove(o.paths.Abs(rel))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("remove %s: %w", rel, err)
	}
}
