package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

type MediaResponse struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"owner_id"`
	Kind      models.Kind   `json:"kind"`
	FileName  string        `json:"file_name"`
	SizeBytes int64         `json:"size_bytes"`
	Status    models.Status `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type RenditionResponse struct {
	Resolution string `json:"resolution"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bitrate    int    `json:"bitrate,omitempty"`
	Format     string `json:"format,omitempty"`
	URL        string `json:"url"`
}

type SubtitleResponse struct {
	Language string `json:"language"`
	URL      string `json:"url"`
}

type JobResponse struct {
	Family    models.Family   `json:"family"`
	State     models.JobState `json:"state"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

type DetailsResponse struct {
	MediaResponse
	MasterURL    string              `json:"master_url,omitempty"`
	ThumbnailURL string              `json:"thumbnail_url,omitempty"`
	PreviewURL   string              `json:"preview_url,omitempty"`
	Renditions   []RenditionResponse `json:"renditions"`
	Images       []RenditionResponse `json:"images"`
	Subtitles    []SubtitleResponse  `json:"subtitles"`
	Jobs         []JobResponse       `json:"jobs"`
}

type ChangeStatusRequest struct {
	Status models.Status `json:"status"`
}
