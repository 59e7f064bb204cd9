package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	UploadedStatus   Status = "uploaded"
	ProcessingStatus Status = "processing"
	ProcessedStatus  Status = "processed"
	FailedStatus     Status = "failed"
	DeletedStatus    Status = "deleted"
)

// Kind is the type of the uploaded original. It selects the storage
// subtree and the derivative families enqueued on upload.
type Kind string

const (
	Video Kind = "video"
	Image Kind = "image"
	PDF   Kind = "pdf"
)

// Dir returns the per-kind directory name used under users/{owner}/.
func (k Kind) Dir() string {
	switch k {
	case Video:
		return "videos"
	case Image:
		return "images"
	case PDF:
		return "pdfs"
	default:
		return ""
	}
}

func (k Kind) Valid() bool {
	return k.Dir() != ""
}

type Media struct {
	ID           uuid.UUID `db:"id"`
	OwnerID      uuid.UUID `db:"owner_id"`
	Kind         Kind      `db:"kind"`
	FileName     string    `db:"file_name"`
	OriginalPath string    `db:"original_path"`
	SizeBytes    int64     `db:"size_bytes"`
	Status       Status    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
