// Package consumer turns one queued job into derivative files and registry
// rows. Each family has its own Handler; JobRunner is the job boundary that
// drives the media lifecycle around it.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-derivatives/internal/config"
	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/probe"
	"github.com/romariotrain/media-derivatives/internal/media/process"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
	"github.com/romariotrain/media-derivatives/internal/metrics"
)

// Deps is shared by every handler.
type Deps struct {
	Registry   repository.Registry
	Paths      *paths.Resolver
	Runner     process.Runner
	Prober     *probe.Prober
	Tools      config.Tools
	ScratchDir string
	Logger     zerolog.Logger
}

// Outcome lists target names by what happened to them.
type Outcome struct {
	Generated []string
	Skipped   []string
	Failed    map[string]error
}

func (o *Outcome) fail(name string, err error) {
	if o.Failed == nil {
		o.Failed = make(map[string]error)
	}
	o.Failed[name] = err
}

// Partial reports that some but not all targets were produced.
func (o Outcome) Partial() bool {
	return len(o.Failed) > 0 && len(o.Generated)+len(o.Skipped) > 0
}

// AllSkipped reports a job that found every output already in place.
func (o Outcome) AllSkipped() bool {
	return len(o.Skipped) > 0 && len(o.Generated) == 0 && len(o.Failed) == 0
}

func (o Outcome) failedNames() []string {
	names := make([]string, 0, len(o.Failed))
	for n := range o.Failed {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

type Handler interface {
	Family() models.Family
	Handle(ctx context.Context, m *models.Media, job models.Job) (Outcome, error)
}

// Lifecycle is the part of the media service the job boundary drives.
type Lifecycle interface {
	StartJob(ctx context.Context, mediaID uuid.UUID, family models.Family) (*models.Media, *models.DerivativeJob, error)
	FinishJob(ctx context.Context, mediaID uuid.UUID, family models.Family, state models.JobState, lastErr string) (*models.Media, error)
}

const finishTimeout = 10 * time.Second

// JobRunner wraps a Handler. A job never takes the process down: panics
// are recovered and every failure ends in a terminal job state.
type JobRunner struct {
	handler Handler
	life    Lifecycle
	logger  zerolog.Logger
}

func NewJobRunner(h Handler, life Lifecycle, logger zerolog.Logger) *JobRunner {
	return &JobRunner{
		handler: h,
		life:    life,
		logger:  logger.With().Str("component", "consumer").Str("family", string(h.Family())).Logger(),
	}
}

func (r *JobRunner) Family() models.Family { return r.handler.Family() }

// Handle runs one job. The returned error is non-nil only for failures
// Classify considers retriable.
func (r *JobRunner) Handle(ctx context.Context, job models.Job) (err error) {
	family := r.handler.Family()
	logger := r.logger.With().
		Str("media_id", job.MediaID.String()).
		Str("job_id", job.ID.String()).
		Logger()

	if job.Family != "" && job.Family != family {
		logger.Warn().Str("job_family", string(job.Family)).Msg("job routed to the wrong family, dropping")
		metrics.JobsTotal.WithLabelValues(string(family), "dropped").Inc()
		return nil
	}
	job.Family = family

	start := time.Now()
	metrics.JobsInProgress.WithLabelValues(string(family)).Inc()
	defer func() {
		metrics.JobsInProgress.WithLabelValues(string(family)).Dec()
		metrics.JobDuration.WithLabelValues(string(family)).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if p := recover(); p != nil {
			perr := fmt.Errorf("panic: %v", p)
			logger.Error().Str("stack", string(debug.Stack())).Err(perr).Msg("job panicked")
			r.finish(ctx, logger, job, models.JobFailed, perr.Error())
			metrics.JobsTotal.WithLabelValues(string(family), "panic").Inc()
			err = nil
		}
	}()

	m, _, err := r.life.StartJob(ctx, job.MediaID, family)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			logger.Info().Msg("media missing or deleted, dropping job")
		case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, models.ErrInvalidTransition):
			logger.Warn().Err(err).Msg("job rejected")
		default:
			logger.Error().Err(err).Msg("start job")
			metrics.JobsTotal.WithLabelValues(string(family), "error").Inc()
			return fmt.Errorf("start job: %w", err)
		}
		metrics.JobsTotal.WithLabelValues(string(family), "dropped").Inc()
		return nil
	}

	logger.Info().Str("kind", string(m.Kind)).Msg("job started")
	out, herr := r.handler.Handle(ctx, m, job)

	if errors.Is(herr, errMediaGone) {
		logger.Info().Msg("media deleted while the job ran, outputs discarded")
		metrics.JobsTotal.WithLabelValues(string(family), "dropped").Inc()
		return nil
	}

	recordTargets(family, out)

	state, lastErr := models.JobSucceeded, ""
	switch {
	case herr != nil:
		state, lastErr = models.JobFailed, herr.Error()
	case out.AllSkipped():
		state = models.JobSkipped
	}

	if out.Partial() {
		logger.Warn().Strs("failed_targets", out.failedNames()).Strs("generated", out.Generated).Msg("partial artifact write")
	}

	r.finish(ctx, logger, job, state, lastErr)

	if herr != nil {
		class, retriable := Classify(herr)
		ev := logger.Error().Err(herr).Str("class", class).Dur("elapsed", time.Since(start))
		var exitErr *process.ExitError
		if errors.As(herr, &exitErr) {
			ev = ev.Int("exit_code", exitErr.ExitCode).Str("output_tail", exitErr.OutputTail)
		}
		ev.Msg("job failed")
		metrics.JobsTotal.WithLabelValues(string(family), class).Inc()
		if retriable {
			return herr
		}
		return nil
	}

	logger.Info().
		Str("state", string(state)).
		Int("generated", len(out.Generated)).
		Int("skipped", len(out.Skipped)).
		Dur("elapsed", time.Since(start)).
		Msg("job finished")
	metrics.JobsTotal.WithLabelValues(string(family), string(state)).Inc()
	return nil
}

// finish outlives a cancelled job context so a killed job still ends FAILED.
func (r *JobRunner) finish(ctx context.Context, logger zerolog.Logger, job models.Job, state models.JobState, lastErr string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	m, err := r.life.FinishJob(ctx, job.MediaID, job.Family, state, lastErr)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Info().Msg("media deleted while the job ran")
			return
		}
		logger.Error().Err(err).Str("state", string(state)).Msg("finish job")
		return
	}
	logger.Debug().Str("media_status", string(m.Status)).Msg("media status updated")
}

func recordTargets(family models.Family, out Outcome) {
	metrics.TargetsTotal.WithLabelValues(string(family), "generated").Add(float64(len(out.Generated)))
	metrics.TargetsTotal.WithLabelValues(string(family), "skipped").Add(float64(len(out.Skipped)))
	metrics.TargetsTotal.WithLabelValues(string(family), "failed").Add(float64(len(out.Failed)))
}

// Classify names a job error for logs and metrics and reports whether a
// retry could help.
func Classify(err error) (class string, retriable bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, context.Canceled):
		return "cancelled", false
	case errors.Is(err, models.ErrNotFound):
		return "media_gone", false
	case errors.Is(err, models.ErrInputNotFound):
		return "input_not_found", false
	case errors.Is(err, models.ErrMetadataExtraction):
		return "metadata_extraction", false
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input", false
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid_argument", false
	case errors.Is(err, models.ErrProcessTimeout):
		return "process_timeout", true
	case errors.Is(err, models.ErrProcessFailed):
		return "process_failed", true
	case errors.Is(err, models.ErrVerification):
		return "verification", true
	case errors.Is(err, models.ErrRegistryWrite):
		return "registry_write", true
	default:
		return "internal", true
	}
}

// Retriable adapts Classify for the worker pool.
func Retriable(err error) bool {
	_, ok := Classify(err)
	return ok
}

func fileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func ensureDir(name string) error {
	if err := os.MkdirAll(name, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Base(name), err)
	}
	return nil
}

// errMediaGone ends a job whose media was deleted while it ran. The
// handler has already removed what it wrote.
var errMediaGone = fmt.Errorf("media deleted during job: %w", models.ErrNotFound)

// rowLocker is a store that can hold the media row for the rest of the
// transaction.
type rowLocker interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Media, error)
}

// whileLive runs fn in one transaction only if the media still exists and
// is not DELETED. Cleanup marks the media DELETED before it lists rows, and
// the row lock orders that change against fn, so a row written here is
// either seen by cleanup or never written.
func whileLive(ctx context.Context, reg repository.Registry, mediaID uuid.UUID, fn func(tx repository.Registry) error) error {
	return reg.InTx(ctx, func(tx repository.Registry) error {
		get := tx.GetByID
		if l, ok := tx.(rowLocker); ok {
			get = l.GetForUpdate
		}
		if err := checkLive(ctx, get, mediaID); err != nil {
			return err
		}
		return fn(tx)
	})
}

func checkLive(ctx context.Context, get func(context.Context, uuid.UUID) (*models.Media, error), mediaID uuid.UUID) error {
	m, err := get(ctx, mediaID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return errMediaGone
	case err != nil:
		return err
	case m.Status == models.DeletedStatus:
		return errMediaGone
	}
	return nil
}

// keepIfLive removes a row-less output that landed after the media was
// deleted. Cleanup marks the media first, so an output placed before this
// check passes is either removed by cleanup or here.
func keepIfLive(ctx context.Context, d Deps, mediaID uuid.UUID, name string) error {
	err := checkLive(ctx, d.Registry.GetByID, mediaID)
	if errors.Is(err, errMediaGone) {
		os.Remove(name)
		return err
	}
	if err != nil {
		d.Logger.Warn().Err(err).Str("media_id", mediaID.String()).Msg("media status check")
	}
	return nil
}

// registryErr tags a failed registry write; errMediaGone passes through
// untouched so the job is dropped instead of failed.
func registryErr(what string, err error) error {
	if errors.Is(err, errMediaGone) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", what, models.ErrRegistryWrite, err)
}
