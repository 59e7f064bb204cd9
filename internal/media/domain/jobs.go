package domain

import (
	"fmt"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

func CanTransitionJob(from, to models.JobState) bool {
	switch from {
	case models.JobPending:
		return to == models.JobRunning || to == models.JobFailed || to == models.JobSkipped
	case models.JobRunning:
		// a worker that died mid-job leaves the row running
		return to.Terminal() || to == models.JobRunning
	case models.JobSucceeded, models.JobFailed, models.JobSkipped:
		// redelivery
		return to == models.JobRunning
	default:
		return false
	}
}

func ValidateJobTransition(from, to models.JobState) error {
	if from == to {
		return nil
	}
	if !CanTransitionJob(from, to) {
		return fmt.Errorf("%w: job %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// Aggregate derives the media status from the state of every family that
// was enqueued for it. Families without a job row count as pending.
// ok is false while the outcome is still undecided and nothing is running.
func Aggregate(families []models.Family, jobs []models.DerivativeJob) (status models.Status, ok bool) {
	byFamily := make(map[models.Family]models.JobState, len(jobs))
	for _, j := range jobs {
		byFamily[j.Family] = j.State
	}

	var running, pending, failed bool
	for _, f := range families {
		switch st := byFamily[f]; st {
		case models.JobRunning:
			running = true
		case models.JobFailed:
			failed = true
		case models.JobSucceeded, models.JobSkipped:
		default:
			pending = true
		}
	}

	switch {
	case running:
		return models.ProcessingStatus, true
	case pending:
		return "", false
	case failed:
		return models.FailedStatus, true
	default:
		return models.ProcessedStatus, true
	}
}
