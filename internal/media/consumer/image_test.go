package consumer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/process"
	"github.com/romariotrain/media-derivatives/internal/media/process/processtest"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

func TestImageResolutions_GeneratesAllTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("cwebp", writeLast(tinyWebP()))
	m := f.seed(t, models.Image, "photo.png", pngBytes(t, 400, 200))
	h := NewImageResolutions(f.deps)

	out, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"thumb", "480p", "720p", "1080p"}, out.Generated)
	assert.False(t, out.Partial())

	calls := f.fake.Calls("cwebp")
	require.Len(t, calls, 4)
	assert.Equal(t, "85", argAfter(calls[0].Args, "-q"))

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, a.Images, 4)
	for _, img := range a.Images {
		assert.Equal(t, "webp", img.Format)
		assert.Equal(t, img.Width/2, img.Height, img.Resolution)
		_, err := os.Stat(f.deps.Paths.Abs(img.Path))
		require.NoError(t, err)
	}

	meta, ok := f.repo.ImageMetadata(m.ID)
	require.True(t, ok)
	assert.Equal(t, 400, meta.Width)
	assert.Equal(t, "png", meta.Format)

	// scratch rasters never outlive the job
	left, err := os.ReadDir(f.deps.ScratchDir)
	require.NoError(t, err)
	for _, e := range left {
		assert.False(t, strings.HasPrefix(e.Name(), "resize-"), e.Name())
	}
}

func TestImageResolutions_RerunSkipsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("cwebp", writeLast(tinyWebP()))
	m := f.seed(t, models.Image, "photo.png", pngBytes(t, 300, 300))
	h := NewImageResolutions(f.deps)

	_, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)

	out, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.True(t, out.AllSkipped())
	assert.Len(t, out.Skipped, 4)
	assert.Len(t, f.fake.Calls("cwebp"), 4)

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, a.Images, 4)
}

func TestImageResolutions_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("cwebp", func(ctx context.Context, args []string) (process.Result, error) {
		if strings.Contains(args[len(args)-1], "1080p") {
			return processtest.Fail("cwebp", 255, "Out of memory")(ctx, args)
		}
		return writeLast(tinyWebP())(ctx, args)
	})
	m := f.seed(t, models.Image, "photo.png", pngBytes(t, 200, 100))

	out, err := NewImageResolutions(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.True(t, out.Partial())
	require.Contains(t, out.Failed, "1080p")
	assert.ErrorIs(t, out.Failed["1080p"], models.ErrProcessFailed)
	assert.Len(t, out.Generated, 3)

	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.ImageRendition(m.OwnerID, m.ID, "1080p")))
	assert.True(t, os.IsNotExist(err))
}

func TestImageResolutions_AllTargetsFail(t *testing.T) {
	f := newFixture(t)
	f.fake.Handle("cwebp", writeLast([]byte("not a webp")))
	m := f.seed(t, models.Image, "photo.png", pngBytes(t, 200, 100))

	out, err := NewImageResolutions(f.deps).Handle(context.Background(), m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrVerification)
	assert.Len(t, out.Failed, 4)
}

type failingImageRegistry struct {
	repository.Registry
	failOn string
}

func (r *failingImageRegistry) InTx(ctx context.Context, fn func(tx repository.Registry) error) error {
	return r.Registry.InTx(ctx, func(tx repository.Registry) error {
		return fn(&failingImageRegistry{Registry: tx, failOn: r.failOn})
	})
}

func (r *failingImageRegistry) AddImageRendition(ctx context.Context, img *models.ImageRendition) (bool, error) {
	if img.Resolution == r.failOn {
		return false, errors.New("connection reset")
	}
	return r.Registry.AddImageRendition(ctx, img)
}

func TestImageResolutions_RowFailureRemovesFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("cwebp", writeLast(tinyWebP()))
	m := f.seed(t, models.Image, "photo.png", pngBytes(t, 200, 100))
	f.deps.Registry = &failingImageRegistry{Registry: f.repo, failOn: "720p"}

	out, err := NewImageResolutions(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	require.Contains(t, out.Failed, "720p")
	assert.ErrorIs(t, out.Failed["720p"], models.ErrRegistryWrite)

	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.ImageRendition(m.OwnerID, m.ID, "720p")))
	assert.True(t, os.IsNotExist(err))
}

func TestImageResolutions_UnreadableOriginal(t *testing.T) {
	f := newFixture(t)
	m := f.seed(t, models.Image, "photo.png", []byte("definitely not an image"))

	_, err := NewImageResolutions(f.deps).Handle(context.Background(), m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrMetadataExtraction)
	assert.Empty(t, f.fake.Calls("cwebp"))
}

func TestImageResolutions_PlansFromOrientedSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("cwebp", writeLast(tinyWebP()))
	m := f.seed(t, models.Image, "portrait.jpg", orientedJPEG(t, 400, 200))
	h := NewImageResolutions(f.deps)

	_, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)

	meta, ok := f.repo.ImageMetadata(m.ID)
	require.True(t, ok)
	assert.Equal(t, 200, meta.Width)
	assert.Equal(t, 400, meta.Height)

	// rows written for files found on disk carry the planned size, which
	// must agree with the size the encoder produced
	require.NoError(t, f.repo.DeleteMediaCascade(ctx, m.ID))
	require.NoError(t, f.repo.Create(ctx, m))
	out, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.True(t, out.AllSkipped())

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, a.Images, 4)
	for _, img := range a.Images {
		assert.Equal(t, img.Width*2, img.Height, img.Resolution)
	}
}

func TestImageResolutions_MediaDeletedMidJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.Image, "photo.png", pngBytes(t, 200, 100))
	f.fake.Handle("cwebp", func(ctx context.Context, args []string) (process.Result, error) {
		if len(f.fake.Calls("cwebp")) == 2 {
			if err := f.cleanupNow(ctx, m.ID); err != nil {
				return process.Result{}, err
			}
			if err := os.MkdirAll(filepath.Dir(args[len(args)-1]), 0o755); err != nil {
				return process.Result{}, err
			}
		}
		return writeLast(tinyWebP())(ctx, args)
	})

	_, err := NewImageResolutions(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.NotErrorIs(t, err, models.ErrRegistryWrite)
	assert.Len(t, f.fake.Calls("cwebp"), 2)

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, a.Empty())
	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.ImageProcessedDir(m.OwnerID, m.ID)))
	assert.True(t, os.IsNotExist(err))
}
