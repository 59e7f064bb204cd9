package domain

import (
	"fmt"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

// CanTransition reports whether a media may move from one status to another.
// Finished media may be re-processed when a job is redelivered; DELETED is
// reachable from everywhere and final.
func CanTransition(from, to models.Status) bool {
	if to == models.DeletedStatus {
		return from != models.DeletedStatus
	}
	switch from {
	case models.UploadedStatus:
		return to == models.ProcessingStatus || to == models.FailedStatus
	case models.ProcessingStatus:
		return to == models.ProcessedStatus || to == models.FailedStatus
	case models.ProcessedStatus, models.FailedStatus:
		return to == models.ProcessingStatus
	default:
		return false
	}
}

func ValidateTransition(from, to models.Status) error {
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}
