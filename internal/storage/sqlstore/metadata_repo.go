package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

type MetadataRepo struct {
	q sqlx.ExtContext
}

func (r *MetadataRepo) UpsertVideoMetadata(ctx context.Context, m *models.VideoMetadata) error {
	const q = `
		INSERT INTO video_metadata (media_id, codec, width, height, frame_rate, fps, bitrate, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (media_id) DO UPDATE SET
			codec = excluded.codec,
			width = excluded.width,
			height = excluded.height,
			frame_rate = excluded.frame_rate,
			fps = excluded.fps,
			bitrate = excluded.bitrate,
			duration_seconds = excluded.duration_seconds
	`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(q),
		m.MediaID, m.Codec, m.Width, m.Height, m.FrameRate, m.FPS, m.Bitrate, m.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("video metadata upsert: %w", err)
	}
	return nil
}

func (r *MetadataRepo) UpsertPdfMetadata(ctx context.Context, m *models.PdfMetadata) error {
	const q = `
		INSERT INTO pdf_metadata (media_id, title, author, page_count, encrypted)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (media_id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			page_count = excluded.page_count,
			encrypted = excluded.encrypted
	`
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(q), m.MediaID, m.Title, m.Author, m.PageCount, m.Encrypted); err != nil {
		return fmt.Errorf("pdf metadata upsert: %w", err)
	}
	return nil
}

func (r *MetadataRepo) UpsertImageMetadata(ctx context.Context, m *models.ImageMetadata) error {
	const q = `
		INSERT INTO image_metadata (media_id, width, height, color_mode, format)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (media_id) DO UPDATE SET
			width = excluded.width,
			height = excluded.height,
			color_mode = excluded.color_mode,
			format = excluded.format
	`
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(q), m.MediaID, m.Width, m.Height, m.ColorMode, m.Format); err != nil {
		return fmt.Errorf("image metadata upsert: %w", err)
	}
	return nil
}
