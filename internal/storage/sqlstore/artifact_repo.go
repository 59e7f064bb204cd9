package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

type ArtifactRepo struct {
	q sqlx.ExtContext
}

func (r *ArtifactRepo) AddRendition(ctx context.Context, rd *models.TranscodedRendition) error {
	const q = `
		INSERT INTO transcoded_renditions (id, media_id, resolution, width, height, bitrate, codec, playlist_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(q),
		rd.ID, rd.MediaID, rd.Resolution, rd.Width, rd.Height, rd.Bitrate, rd.Codec, rd.PlaylistPath, rd.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rendition insert: %w", models.ErrConflict)
		}
		return fmt.Errorf("rendition insert: %w", err)
	}
	return nil
}

func (r *ArtifactRepo) AddSegment(ctx context.Context, s *models.VideoSegment) error {
	const q = `
		INSERT INTO video_segments (id, media_id, resolution, segment_index, path, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(q),
		s.ID, s.MediaID, s.Resolution, s.SegmentIndex, s.Path, s.DurationSeconds, s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("segment insert: %w", models.ErrConflict)
		}
		return fmt.Errorf("segment insert: %w", err)
	}
	return nil
}

func (r *ArtifactRepo) DeleteVideoArtifacts(ctx context.Context, mediaID uuid.UUID) error {
	for _, q := range []string{
		`DELETE FROM video_segments WHERE media_id = ?`,
		`DELETE FROM transcoded_renditions WHERE media_id = ?`,
	} {
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(q), mediaID); err != nil {
			return fmt.Errorf("delete video artifacts: %w", err)
		}
	}
	return nil
}

func (r *ArtifactRepo) AddImageRendition(ctx context.Context, img *models.ImageRendition) (bool, error) {
	const q = `
		INSERT INTO image_renditions (id, media_id, resolution, width, height, path, format, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (media_id, resolution) DO NOTHING
	`
	res, err := r.q.ExecContext(ctx, r.q.Rebind(q),
		img.ID, img.MediaID, img.Resolution, img.Width, img.Height, img.Path, img.Format, img.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("image rendition insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("image rendition insert: %w", err)
	}
	return n > 0, nil
}

func (r *ArtifactRepo) AddSubtitle(ctx context.Context, s *models.Subtitle) error {
	const q = `
		INSERT INTO subtitles (id, media_id, language, path, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(q), s.ID, s.MediaID, s.Language, s.Path, s.CreatedAt); err != nil {
		return fmt.Errorf("subtitle insert: %w", err)
	}
	return nil
}

func (r *ArtifactRepo) ListArtifacts(ctx context.Context, mediaID uuid.UUID) (models.Artifacts, error) {
	var a models.Artifacts

	queries := []struct {
		name string
		dest any
		q    string
	}{
		{"renditions", &a.Renditions, `
			SELECT id, media_id, resolution, width, height, bitrate, codec, playlist_path, created_at
			FROM transcoded_renditions WHERE media_id = ? ORDER BY bitrate`},
		{"segments", &a.Segments, `
			SELECT id, media_id, resolution, segment_index, path, duration_seconds, created_at
			FROM video_segments WHERE media_id = ? ORDER BY resolution, segment_index`},
		{"image renditions", &a.Images, `
			SELECT id, media_id, resolution, width, height, path, format, created_at
			FROM image_renditions WHERE media_id = ? ORDER BY width`},
		{"subtitles", &a.Subtitles, `
			SELECT id, media_id, language, path, created_at
			FROM subtitles WHERE media_id = ? ORDER BY language`},
	}
	for _, it := range queries {
		if err := sqlx.SelectContext(ctx, r.q, it.dest, r.q.Rebind(it.q), mediaID); err != nil {
			return models.Artifacts{}, fmt.Errorf("list %s: %w", it.name, err)
		}
	}
	return a, nil
}

// deleteDerivatives drops every row that hangs off a media.
func (r *ArtifactRepo) deleteDerivatives(ctx context.Context, mediaID uuid.UUID) error {
	for _, table := range []string{
		"video_segments",
		"transcoded_renditions",
		"image_renditions",
		"subtitles",
		"video_metadata",
		"pdf_metadata",
		"image_metadata",
		"derivative_jobs",
	} {
		q := `DELETE FROM ` + table + ` WHERE media_id = ?`
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(q), mediaID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) DeleteMediaCascade(ctx context.Context, mediaID uuid.UUID) error {
	return s.InTx(ctx, func(tx repository.Registry) error {
		st := tx.(*Store)
		if err := st.deleteDerivatives(ctx, mediaID); err != nil {
			return err
		}
		found, err := st.deleteMedia(ctx, mediaID)
		if err != nil {
			return err
		}
		if !found {
			return models.ErrNotFound
		}
		return nil
	})
}
