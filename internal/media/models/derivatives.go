package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TranscodedRendition is one rung of the HLS ladder of a video.
type TranscodedRendition struct {
	ID           uuid.UUID `db:"id"`
	MediaID      uuid.UUID `db:"media_id"`
	Resolution   string    `db:"resolution"`
	Width        int       `db:"width"`
	Height       int       `db:"height"`
	Bitrate      int       `db:"bitrate"`
	Codec        string    `db:"codec"`
	PlaylistPath string    `db:"playlist_path"`
	CreatedAt    time.Time `db:"created_at"`
}

// VideoSegment is one produced .ts file of a rendition. Indices for a
// (media, resolution) pair are contiguous from 0.
type VideoSegment struct {
	ID              uuid.UUID `db:"id"`
	MediaID         uuid.UUID `db:"media_id"`
	Resolution      string    `db:"resolution"`
	SegmentIndex    int       `db:"segment_index"`
	Path            string    `db:"path"`
	DurationSeconds float64   `db:"duration_seconds"`
	CreatedAt       time.Time `db:"created_at"`
}

type ImageRendition struct {
	ID         uuid.UUID `db:"id"`
	MediaID    uuid.UUID `db:"media_id"`
	Resolution string    `db:"resolution"`
	Width      int       `db:"width"`
	Height     int       `db:"height"`
	Path       string    `db:"path"`
	Format     string    `db:"format"`
	CreatedAt  time.Time `db:"created_at"`
}

type Subtitle struct {
	ID        uuid.UUID `db:"id"`
	MediaID   uuid.UUID `db:"media_id"`
	Language  string    `db:"language"`
	Path      string    `db:"path"`
	CreatedAt time.Time `db:"created_at"`
}

type VideoMetadata struct {
	MediaID         uuid.UUID `db:"media_id"`
	Codec           string    `db:"codec"`
	Width           int       `db:"width"`
	Height          int       `db:"height"`
	FrameRate       string    `db:"frame_rate"`
	FPS             float64   `db:"fps"`
	Bitrate         int64     `db:"bitrate"`
	DurationSeconds float64   `db:"duration_seconds"`
}

// Resolution renders the source size the way it is shown to users, e.g. 1920x1080.
func (m VideoMetadata) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

type PdfMetadata struct {
	MediaID   uuid.UUID `db:"media_id"`
	Title     string    `db:"title"`
	Author    string    `db:"author"`
	PageCount int       `db:"page_count"`
	Encrypted bool      `db:"encrypted"`
}

type ImageMetadata struct {
	MediaID   uuid.UUID `db:"media_id"`
	Width     int       `db:"width"`
	Height    int       `db:"height"`
	ColorMode string    `db:"color_mode"`
	Format    string    `db:"format"`
}

// Artifacts is every registry row that references a file derived from one media.
type Artifacts struct {
	Renditions []TranscodedRendition
	Segments   []VideoSegment
	Images     []ImageRendition
	Subtitles  []Subtitle
}

// Paths returns the relative paths of all files referenced by the rows.
func (a Artifacts) Paths() []string {
	out := make([]string, 0, len(a.Renditions)+len(a.Segments)+len(a.Images)+len(a.Subtitles))
	for _, r := range a.Renditions {
		out = append(out, r.PlaylistPath)
	}
	for _, s := range a.Segments {
		out = append(out, s.Path)
	}
	for _, i := range a.Images {
		out = append(out, i.Path)
	}
	for _, s := range a.Subtitles {
		out = append(out, s.Path)
	}
	return out
}

func (a Artifacts) Empty() bool {
	return len(a.Renditions) == 0 && len(a.Segments) == 0 && len(a.Images) == 0 && len(a.Subtitles) == 0
}
