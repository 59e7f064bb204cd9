package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Family is a derivative family. Each family owns one queue and one consumer.
type Family string

const (
	FamilyTranscode        Family = "video_transcode"
	FamilyThumbnail        Family = "video_thumbnail"
	FamilyImageResolutions Family = "image_resolutions"
	FamilyPdfPreview       Family = "pdf_preview"
)

var AllFamilies = []Family{FamilyTranscode, FamilyThumbnail, FamilyImageResolutions, FamilyPdfPreview}

// FamiliesFor returns the families enqueued when media of kind k is uploaded.
func FamiliesFor(k Kind) []Family {
	switch k {
	case Video:
		return []Family{FamilyTranscode, FamilyThumbnail}
	case Image:
		return []Family{FamilyImageResolutions}
	case PDF:
		return []Family{FamilyPdfPreview}
	default:
		return nil
	}
}

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobSkipped   JobState = "skipped"
)

func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobSkipped
}

// DerivativeJob records the progress of one family for one media.
type DerivativeJob struct {
	MediaID   uuid.UUID `db:"media_id"`
	Family    Family    `db:"family"`
	State     JobState  `db:"state"`
	Attempts  int       `db:"attempts"`
	LastError string    `db:"last_error"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Job is the queue payload. Only MediaID is required; consumers re-derive
// every path from the media row. The optional fields form the richer payload
// variant (explicit paths, owner, and a resolution subset for video).
type Job struct {
	ID                uuid.UUID `json:"job_id"`
	MediaID           uuid.UUID `json:"media_id"`
	Family            Family    `json:"family"`
	OwnerID           uuid.UUID `json:"owner_id,omitempty"`
	InputPath         string    `json:"input_path,omitempty"`
	OutputDir         string    `json:"output_dir,omitempty"`
	TargetResolutions []string  `json:"target_resolutions,omitempty"`
	Attempt           int       `json:"attempt,omitempty"`
}

func EncodeJob(j Job) ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return b, nil
}

// DecodeJob accepts either a JSON payload or a bare media id string.
func DecodeJob(data []byte) (Job, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Job{}, fmt.Errorf("decode job: empty payload: %w", ErrInvalidArgument)
	}

	if trimmed[0] != '{' {
		id, err := uuid.ParseBytes(bytes.Trim(trimmed, `"`))
		if err != nil {
			return Job{}, fmt.Errorf("decode job: %w: %v", ErrInvalidArgument, err)
		}
		return Job{MediaID: id}, nil
	}

	var j Job
	if err := json.Unmarshal(trimmed, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w: %v", ErrInvalidArgument, err)
	}
	if j.MediaID == uuid.Nil {
		return Job{}, fmt.Errorf("decode job: missing media_id: %w", ErrInvalidArgument)
	}
	return j, nil
}
