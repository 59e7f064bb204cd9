package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-derivatives/internal/config"
	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/process"
	"github.com/romariotrain/media-derivatives/internal/media/process/processtest"
	"github.com/romariotrain/media-derivatives/internal/media/service"
)

type stubHandler struct {
	family models.Family
	calls  int
	handle func() (Outcome, error)
}

func (h *stubHandler) Family() models.Family { return h.family }

func (h *stubHandler) Handle(context.Context, *models.Media, models.Job) (Outcome, error) {
	h.calls++
	return h.handle()
}

func newRunner(t *testing.T, f *fixture, h Handler) (*JobRunner, *service.Service) {
	t.Helper()
	svc := service.New(f.repo, f.deps.Paths, config.Default().Kafka)
	return NewJobRunner(h, svc, zerolog.Nop()), svc
}

func TestJobRunner_SuccessMarksProcessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.PDF, "doc.pdf", []byte("%PDF"))
	h := &stubHandler{family: models.FamilyPdfPreview, handle: func() (Outcome, error) {
		return Outcome{Generated: []string{"page-0"}}, nil
	}}
	r, svc := newRunner(t, f, h)

	require.NoError(t, r.Handle(ctx, models.Job{MediaID: m.ID}))

	got, err := svc.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessedStatus, got.Status)

	job, err := f.repo.GetJob(ctx, m.ID, models.FamilyPdfPreview)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, job.State)
	assert.Equal(t, 1, job.Attempts)
}

func TestJobRunner_AllSkippedStillProcessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.Image, "a.png", pngBytes(t, 4, 4))
	h := &stubHandler{family: models.FamilyImageResolutions, handle: func() (Outcome, error) {
		return Outcome{Skipped: []string{"thumb", "480p"}}, nil
	}}
	r, svc := newRunner(t, f, h)

	require.NoError(t, r.Handle(ctx, models.Job{MediaID: m.ID}))

	job, err := f.repo.GetJob(ctx, m.ID, models.FamilyImageResolutions)
	require.NoError(t, err)
	assert.Equal(t, models.JobSkipped, job.State)
	got, err := svc.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessedStatus, got.Status)
}

func TestJobRunner_FailureMarksFailed(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantError bool
	}{
		{name: "permanent", err: fmt.Errorf("x: %w", models.ErrInputNotFound), wantError: false},
		{name: "retriable", err: &process.ExitError{Tool: "pdftoppm", ExitCode: 99, OutputTail: "Syntax Error"}, wantError: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			m := f.seed(t, models.PDF, "doc.pdf", []byte("%PDF"))
			h := &stubHandler{family: models.FamilyPdfPreview, handle: func() (Outcome, error) { return Outcome{}, tc.err }}
			r, svc := newRunner(t, f, h)

			err := r.Handle(ctx, models.Job{MediaID: m.ID})
			if tc.wantError {
				require.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}

			got, err := svc.GetMedia(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, models.FailedStatus, got.Status)

			job, err := f.repo.GetJob(ctx, m.ID, models.FamilyPdfPreview)
			require.NoError(t, err)
			assert.Equal(t, models.JobFailed, job.State)
			assert.Equal(t, tc.err.Error(), job.LastError)
		})
	}
}

func TestJobRunner_RecoversPanic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.PDF, "doc.pdf", []byte("%PDF"))
	h := &stubHandler{family: models.FamilyPdfPreview, handle: func() (Outcome, error) {
		var mm map[string]int
		mm["boom"]++
		return Outcome{}, nil
	}}
	r, svc := newRunner(t, f, h)

	require.NotPanics(t, func() {
		require.NoError(t, r.Handle(ctx, models.Job{MediaID: m.ID}))
	})

	got, err := svc.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, got.Status)
}

func TestJobRunner_DropsJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))
	h := &stubHandler{family: models.FamilyThumbnail, handle: func() (Outcome, error) { return Outcome{}, nil }}
	r, svc := newRunner(t, f, h)

	// unknown media
	require.NoError(t, r.Handle(ctx, models.Job{MediaID: uuid.New()}))
	// wrong family
	require.NoError(t, r.Handle(ctx, models.Job{MediaID: m.ID, Family: models.FamilyTranscode}))

	// deleted media
	_, err := svc.ChangeStatus(ctx, m.ID, models.DeletedStatus)
	require.NoError(t, err)
	require.NoError(t, r.Handle(ctx, models.Job{MediaID: m.ID}))

	assert.Zero(t, h.calls)
}

func TestJobRunner_MediaDeletedMidJobIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.PDF, "doc.pdf", []byte("%PDF"))
	f.fake.Handle("pdfinfo", processtest.Stdout(pdfinfoOut)).
		Handle("pdftoppm", func(ctx context.Context, args []string) (process.Result, error) {
			if err := f.cleanupNow(ctx, m.ID); err != nil {
				return process.Result{}, err
			}
			prefix := args[len(args)-1]
			if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
				return process.Result{}, err
			}
			return process.Result{}, os.WriteFile(prefix+".png", pngBytes(t, 4, 4), 0o644)
		})
	r, _ := newRunner(t, f, NewPdfPreview(f.deps))

	require.NoError(t, r.Handle(ctx, models.Job{MediaID: m.ID}))

	_, err := f.repo.GetByID(ctx, m.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.PdfPreview(m.OwnerID, m.ID)))
	assert.True(t, os.IsNotExist(err))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err       error
		class     string
		retriable bool
	}{
		{nil, "", false},
		{context.Canceled, "cancelled", false},
		{errMediaGone, "media_gone", false},
		{fmt.Errorf("a: %w", models.ErrInputNotFound), "input_not_found", false},
		{fmt.Errorf("a: %w: %w", models.ErrMetadataExtraction, models.ErrProcessFailed), "metadata_extraction", false},
		{models.ErrInvalidInput, "invalid_input", false},
		{models.ErrProcessTimeout, "process_timeout", true},
		{&process.ExitError{Tool: "ffmpeg", ExitCode: 1}, "process_failed", true},
		{models.ErrVerification, "verification", true},
		{fmt.Errorf("rows: %w", models.ErrRegistryWrite), "registry_write", true},
		{errors.New("something else"), "internal", true},
	}
	for _, tc := range cases {
		class, retriable := Classify(tc.err)
		assert.Equal(t, tc.class, class, "%v", tc.err)
		assert.Equal(t, tc.retriable, retriable, "%v", tc.err)
	}
}

func TestOutcome(t *testing.T) {
	var o Outcome
	assert.False(t, o.AllSkipped())
	assert.False(t, o.Partial())

	o.Skipped = []string{"thumb"}
	assert.True(t, o.AllSkipped())

	o.fail("1080p", errors.New("x"))
	assert.False(t, o.AllSkipped())
	assert.True(t, o.Partial())
}
