package consumer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/media/hls"
	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/planner"
	"github.com/romariotrain/media-derivatives/internal/media/probe"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

// VideoTranscode produces the HLS ladder with one ffmpeg run and records a
// rendition row per rung and a segment row per produced file.
type VideoTranscode struct {
	deps    Deps
	planner planner.VideoLadder
}

func NewVideoTranscode(d Deps) *VideoTranscode {
	return &VideoTranscode{deps: d, planner: planner.NewVideoLadder(d.Paths)}
}

func (*VideoTranscode) Family() models.Family { return models.FamilyTranscode }

func (h *VideoTranscode) Handle(ctx context.Context, m *models.Media, job models.Job) (Outcome, error) {
	input := h.deps.Paths.Abs(m.OriginalPath)
	if err := probe.CheckInput(input); err != nil {
		return Outcome{}, err
	}

	targets, err := h.planner.Plan(planner.Input{OwnerID: m.OwnerID, MediaID: m.ID, Resolutions: job.TargetResolutions})
	if err != nil {
		return Outcome{}, err
	}
	names := targetNames(targets)

	relDir := h.deps.Paths.HLSDir(m.OwnerID, m.ID)
	dir := h.deps.Paths.Abs(relDir)
	if err := ensureDir(dir); err != nil {
		return Outcome{}, err
	}

	fl, err := lockOutputs(ctx, h.deps.ScratchDir, m.ID, h.Family())
	if err != nil {
		return Outcome{}, err
	}
	defer fl.Unlock()

	if hls.VerifyMaster(dir, len(targets)) == nil {
		a, err := h.deps.Registry.ListArtifacts(ctx, m.ID)
		if err != nil {
			return Outcome{}, err
		}
		if len(a.Renditions) == len(targets) && len(a.Segments) > 0 {
			return Outcome{Skipped: names}, nil
		}
		// a previous run transcoded but never recorded its rows
		h.deps.Logger.Info().Str("media_id", m.ID.String()).Msg("hls output present, re-deriving rows")
		if err := h.persist(ctx, m, relDir, targets); err != nil {
			return Outcome{}, h.dropOutput(m, dir, err)
		}
		return Outcome{Skipped: names}, nil
	}

	info, err := h.deps.Prober.Video(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	info.Metadata.MediaID = m.ID
	err = whileLive(ctx, h.deps.Registry, m.ID, func(tx repository.Registry) error {
		return tx.UpsertVideoMetadata(ctx, &info.Metadata)
	})
	if err != nil {
		return Outcome{}, h.dropOutput(m, dir, registryErr("video metadata", err))
	}

	// leftovers of an interrupted run would break the contiguity check
	if err := os.RemoveAll(dir); err != nil {
		return Outcome{}, fmt.Errorf("reset hls dir: %w", err)
	}
	if err := ensureDir(dir); err != nil {
		return Outcome{}, err
	}

	if _, err := h.deps.Runner.Run(ctx, h.deps.Tools.FFmpeg, ladderArgs(input, dir, targets, info.HasAudio)...); err != nil {
		return Outcome{}, fmt.Errorf("transcode %s: %w", m.ID, err)
	}

	if err := h.persist(ctx, m, relDir, targets); err != nil {
		return Outcome{}, h.dropOutput(m, dir, err)
	}
	return Outcome{Generated: names}, nil
}

// dropOutput removes the HLS directory when its rows cannot be written.
// Files without rows are never served.
func (h *VideoTranscode) dropOutput(m *models.Media, dir string, cause error) error {
	if err := os.RemoveAll(dir); err != nil {
		h.deps.Logger.Warn().Err(err).Str("media_id", m.ID.String()).Msg("remove hls output")
	}
	return cause
}

// persist replaces every rendition and segment row of the media with what
// is on disk, in one transaction.
func (h *VideoTranscode) persist(ctx context.Context, m *models.Media, relDir string, targets []planner.Target) error {
	dir := h.deps.Paths.Abs(relDir)
	if err := hls.VerifyMaster(dir, len(targets)); err != nil {
		return err
	}
	variants, err := hls.Discover(dir, len(targets))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = whileLive(ctx, h.deps.Registry, m.ID, func(tx repository.Registry) error {
		if err := tx.DeleteVideoArtifacts(ctx, m.ID); err != nil {
			return err
		}
		for i, t := range targets {
			if err := tx.AddRendition(ctx, &models.TranscodedRendition{
				ID:           uuid.New(),
				MediaID:      m.ID,
				Resolution:   t.Name,
				Width:        t.Width,
				Height:       t.Height,
				Bitrate:      t.Bitrate,
				Codec:        t.Codec,
				PlaylistPath: t.Path,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
			for _, seg := range variants[i].Segments {
				if err := tx.AddSegment(ctx, &models.VideoSegment{
					ID:              uuid.New(),
					MediaID:         m.ID,
					Resolution:      t.Name,
					SegmentIndex:    seg.Index,
					Path:            path.Join(relDir, seg.Name),
					DurationSeconds: seg.Duration,
					CreatedAt:       now,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return registryErr("hls rows", err)
	}
	return nil
}

// ladderArgs builds the single multi-output ffmpeg command. Variant i of
// the stream map is targets[i].
func ladderArgs(input, dir string, targets []planner.Target, hasAudio bool) []string {
	args := []string{
		"-y", "-i", input,
		"-preset", "veryfast",
		"-g", strconv.Itoa(planner.GOPSize),
		"-sc_threshold", "0",
	}

	streamMap := make([]string, 0, len(targets))
	for i, t := range targets {
		entry := fmt.Sprintf("v:%d", i)
		args = append(args, "-map", "0:v")
		if hasAudio {
			args = append(args, "-map", "0:a")
			entry += fmt.Sprintf(",a:%d", i)
		}
		args = append(args,
			fmt.Sprintf("-c:v:%d", i), "libx264",
			fmt.Sprintf("-b:v:%d", i), fmt.Sprintf("%dk", t.Bitrate/1000),
			fmt.Sprintf("-s:v:%d", i), fmt.Sprintf("%dx%d", t.Width, t.Height),
		)
		streamMap = append(streamMap, entry)
	}

	return append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(planner.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(dir, "stream_%v_%03d.ts"),
		"-master_pl_name", paths.MasterPlaylistName,
		"-var_stream_map", strings.Join(streamMap, " "),
		filepath.Join(dir, "stream_%v.m3u8"),
	)
}

func targetNames(targets []planner.Target) []string {
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}
	return names
}
