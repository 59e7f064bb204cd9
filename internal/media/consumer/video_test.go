package consumer

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/process"
	"github.com/romariotrain/media-derivatives/internal/media/process/processtest"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

func TestVideoTranscode_GeneratesLadder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("ffprobe", processtest.Stdout(ffprobeWithAudio)).Handle("ffmpeg", writeLadder)
	m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))
	h := NewVideoTranscode(f.deps)

	out, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"360p", "720p", "1080p"}, out.Generated)

	calls := f.fake.Calls("ffmpeg")
	require.Len(t, calls, 1)
	args := calls[0].Args
	assert.Equal(t, "v:0,a:0 v:1,a:1 v:2,a:2", argAfter(args, "-var_stream_map"))
	assert.Equal(t, "48", argAfter(args, "-g"))
	assert.Equal(t, "6", argAfter(args, "-hls_time"))
	assert.Equal(t, "vod", argAfter(args, "-hls_playlist_type"))
	assert.Equal(t, "master.m3u8", argAfter(args, "-master_pl_name"))
	assert.Equal(t, "1400k", argAfter(args, "-b:v:1"))
	assert.Equal(t, "1920x1080", argAfter(args, "-s:v:2"))

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, a.Renditions, 3)
	require.Len(t, a.Segments, 6)

	relDir := f.deps.Paths.HLSDir(m.OwnerID, m.ID)
	for _, seg := range a.Segments {
		_, err := os.Stat(f.deps.Paths.Abs(seg.Path))
		require.NoError(t, err, seg.Path)
		assert.Equal(t, relDir, path.Dir(seg.Path))
	}
	second := a.Segments[slices.IndexFunc(a.Segments, func(s models.VideoSegment) bool {
		return s.Resolution == "720p" && s.SegmentIndex == 1
	})]
	assert.InDelta(t, 4.0, second.DurationSeconds, 0.001)

	meta, ok := f.repo.VideoMetadata(m.ID)
	require.True(t, ok)
	assert.Equal(t, "1280x720", meta.Resolution())
}

func TestVideoTranscode_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("ffprobe", processtest.Stdout(ffprobeWithAudio)).Handle("ffmpeg", writeLadder)
	m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))
	h := NewVideoTranscode(f.deps)

	_, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)

	out, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.True(t, out.AllSkipped())
	assert.Len(t, f.fake.Calls("ffmpeg"), 1)

	// rows lost after the files were written are rebuilt from disk
	require.NoError(t, f.repo.DeleteVideoArtifacts(ctx, m.ID))
	out, err = h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.True(t, out.AllSkipped())
	assert.Len(t, f.fake.Calls("ffmpeg"), 1)

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, a.Renditions, 3)
	assert.Len(t, a.Segments, 6)
}

func TestVideoTranscode_SubsetWithoutAudio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("ffprobe", processtest.Stdout(ffprobeSilent)).Handle("ffmpeg", writeLadder)
	m := f.seed(t, models.Video, "silent.mp4", []byte("mp4"))

	out, err := NewVideoTranscode(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID, TargetResolutions: []string{"720p"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"720p"}, out.Generated)

	args := f.fake.Calls("ffmpeg")[0].Args
	assert.Equal(t, "v:0", argAfter(args, "-var_stream_map"))
	assert.NotContains(t, args, "0:a")
	assert.Equal(t, "1280x720", argAfter(args, "-s:v:0"))

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, a.Renditions, 1)
	assert.Equal(t, "720p", a.Renditions[0].Resolution)
	assert.Equal(t, f.deps.Paths.VariantPlaylist(m.OwnerID, m.ID, 0), a.Renditions[0].PlaylistPath)
}

func TestVideoTranscode_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("ffmpeg exits nonzero", func(t *testing.T) {
		f := newFixture(t)
		f.fake.Handle("ffprobe", processtest.Stdout(ffprobeWithAudio)).
			Handle("ffmpeg", processtest.Fail("ffmpeg", 1, "Invalid data found when processing input"))
		m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))

		_, err := NewVideoTranscode(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
		require.ErrorIs(t, err, models.ErrProcessFailed)
		var exitErr *process.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 1, exitErr.ExitCode)

		a, err := f.repo.ListArtifacts(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, a.Empty())
	})

	t.Run("ffmpeg writes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.fake.Handle("ffprobe", processtest.Stdout(ffprobeWithAudio))
		m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))

		_, err := NewVideoTranscode(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
		require.ErrorIs(t, err, models.ErrVerification)
	})

	t.Run("input missing", func(t *testing.T) {
		f := newFixture(t)
		m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))
		require.NoError(t, os.Remove(f.deps.Paths.Abs(m.OriginalPath)))

		_, err := NewVideoTranscode(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
		require.ErrorIs(t, err, models.ErrInputNotFound)
		assert.Empty(t, f.fake.Calls(""))
	})

	t.Run("probe fails", func(t *testing.T) {
		f := newFixture(t)
		f.fake.Handle("ffprobe", processtest.Fail("ffprobe", 1, "moov atom not found"))
		m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))

		_, err := NewVideoTranscode(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
		require.ErrorIs(t, err, models.ErrMetadataExtraction)
		assert.Empty(t, f.fake.Calls("ffmpeg"))
	})
}

// failingTxRegistry lets the first okTx transactions through.
type failingTxRegistry struct {
	repository.Registry
	okTx int
}

func (r *failingTxRegistry) InTx(ctx context.Context, fn func(tx repository.Registry) error) error {
	if r.okTx == 0 {
		return errors.New("connection reset")
	}
	r.okTx--
	return r.Registry.InTx(ctx, fn)
}

func TestVideoTranscode_RowFailureRemovesOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("ffprobe", processtest.Stdout(ffprobeWithAudio)).Handle("ffmpeg", writeLadder)
	m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))

	// metadata is written, the hls rows are not
	f.deps.Registry = &failingTxRegistry{Registry: f.repo, okTx: 1}
	_, err := NewVideoTranscode(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrRegistryWrite)
	assert.Len(t, f.fake.Calls("ffmpeg"), 1)

	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.HLSDir(m.OwnerID, m.ID)))
	assert.True(t, os.IsNotExist(err))

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, a.Empty())
}

func TestVideoTranscode_MediaDeletedMidJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))
	f.fake.Handle("ffprobe", processtest.Stdout(ffprobeWithAudio)).
		Handle("ffmpeg", func(ctx context.Context, args []string) (process.Result, error) {
			if err := f.cleanupNow(ctx, m.ID); err != nil {
				return process.Result{}, err
			}
			// the muxer keeps writing into the directory it already opened
			if err := os.MkdirAll(filepath.Dir(argAfter(args, "-hls_segment_filename")), 0o755); err != nil {
				return process.Result{}, err
			}
			return writeLadder(ctx, args)
		})

	_, err := NewVideoTranscode(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.HLSDir(m.OwnerID, m.ID)))
	assert.True(t, os.IsNotExist(err))

	a, err := f.repo.ListArtifacts(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, a.Empty())
}

func TestThumbnail_FallsBackToStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.Handle("ffmpeg", func(ctx context.Context, args []string) (process.Result, error) {
		// a 3 second clip has no frame at 00:00:05
		if argAfter(args, "-ss") != fallbackOffset {
			return process.Result{}, nil
		}
		return writeLast(jpegBytes())(ctx, args)
	})
	m := f.seed(t, models.Video, "short.mp4", []byte("mp4"))
	h := NewThumbnail(f.deps)

	out, err := h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"thumbnail"}, out.Generated)

	calls := f.fake.Calls("ffmpeg")
	require.Len(t, calls, 2)
	assert.Equal(t, "00:00:05", argAfter(calls[0].Args, "-ss"))
	assert.Equal(t, "1", argAfter(calls[0].Args, "-vframes"))

	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.Thumbnail(m.OwnerID, m.ID)))
	require.NoError(t, err)

	out, err = h.Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.True(t, out.AllSkipped())
	assert.Len(t, f.fake.Calls("ffmpeg"), 2)
}

func TestThumbnail_NoFrame(t *testing.T) {
	f := newFixture(t)
	m := f.seed(t, models.Video, "empty.mp4", []byte("mp4"))

	_, err := NewThumbnail(f.deps).Handle(context.Background(), m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrVerification)
	assert.Len(t, f.fake.Calls("ffmpeg"), 2)
}

func TestThumbnail_RendersThroughPartFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))
	final := f.deps.Paths.Abs(f.deps.Paths.Thumbnail(m.OwnerID, m.ID))

	// a run killed mid-write leaves only the part file behind
	f.fake.Handle("ffmpeg", func(ctx context.Context, args []string) (process.Result, error) {
		if _, err := writeLast([]byte{0xff, 0xd8})(ctx, args); err != nil {
			return process.Result{}, err
		}
		return process.Result{}, context.Canceled
	})
	_, err := NewThumbnail(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.Error(t, err)
	args := f.fake.Calls("ffmpeg")[0].Args
	assert.True(t, strings.HasSuffix(args[len(args)-1], ".part.jpg"), args[len(args)-1])
	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err))

	// a truncated frame is never promoted
	f.fake.Handle("ffmpeg", writeLast([]byte{0xff, 0xd8}))
	_, err = NewThumbnail(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrVerification)
	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err))

	f.fake.Handle("ffmpeg", writeLast(jpegBytes()))
	out, err := NewThumbnail(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"thumbnail"}, out.Generated)
	require.NoError(t, verifyJPEG(final))

	left, err := os.ReadDir(filepath.Dir(final))
	require.NoError(t, err)
	for _, e := range left {
		assert.NotContains(t, e.Name(), ".part", e.Name())
	}
}

func TestThumbnail_MediaDeletedMidJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seed(t, models.Video, "clip.mp4", []byte("mp4"))
	f.fake.Handle("ffmpeg", func(ctx context.Context, args []string) (process.Result, error) {
		if err := f.cleanupNow(ctx, m.ID); err != nil {
			return process.Result{}, err
		}
		if err := os.MkdirAll(filepath.Dir(args[len(args)-1]), 0o755); err != nil {
			return process.Result{}, err
		}
		return writeLast(jpegBytes())(ctx, args)
	})

	_, err := NewThumbnail(f.deps).Handle(ctx, m, models.Job{MediaID: m.ID})
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = os.Stat(f.deps.Paths.Abs(f.deps.Paths.Thumbnail(m.OwnerID, m.ID)))
	assert.True(t, os.IsNotExist(err))
}
