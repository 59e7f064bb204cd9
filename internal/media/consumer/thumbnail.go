package consumer

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/planner"
	"github.com/romariotrain/media-derivatives/internal/media/probe"
)

// fallbackOffset is used when the clip is shorter than planner.ThumbnailAt.
const fallbackOffset = "00:00:00"

// Thumbnail writes one poster frame. The file is the only record.
type Thumbnail struct {
	deps    Deps
	planner planner.Thumbnail
}

func NewThumbnail(d Deps) *Thumbnail {
	return &Thumbnail{deps: d, planner: planner.NewThumbnail(d.Paths)}
}

func (*Thumbnail) Family() models.Family { return models.FamilyThumbnail }

func (h *Thumbnail) Handle(ctx context.Context, m *models.Media, _ models.Job) (Outcome, error) {
	input := h.deps.Paths.Abs(m.OriginalPath)
	if err := probe.CheckInput(input); err != nil {
		return Outcome{}, err
	}

	targets, err := h.planner.Plan(planner.Input{OwnerID: m.OwnerID, MediaID: m.ID})
	if err != nil {
		return Outcome{}, err
	}
	t := targets[0]
	out := h.deps.Paths.Abs(t.Path)

	if fileExists(out) {
		return Outcome{Skipped: []string{t.Name}}, nil
	}
	if err := ensureDir(filepath.Dir(out)); err != nil {
		return Outcome{}, err
	}

	fl, err := lockOutputs(ctx, h.deps.ScratchDir, m.ID, h.Family())
	if err != nil {
		return Outcome{}, err
	}
	defer fl.Unlock()

	if fileExists(out) {
		return Outcome{Skipped: []string{t.Name}}, nil
	}

	// ffmpeg picks the muxer from the extension
	part := strings.TrimSuffix(out, ".jpg") + ".part.jpg"
	defer os.Remove(part)

	for _, offset := range []string{t.Offset, fallbackOffset} {
		if _, err := h.deps.Runner.Run(ctx, h.deps.Tools.FFmpeg, "-y", "-ss", offset, "-i", input, "-vframes", "1", part); err != nil {
			return Outcome{}, fmt.Errorf("thumbnail %s: %w", m.ID, err)
		}
		if !fileExists(part) {
			h.deps.Logger.Debug().Str("media_id", m.ID.String()).Str("offset", offset).Msg("no frame at offset")
			continue
		}
		if err := verifyJPEG(part); err != nil {
			return Outcome{}, err
		}
		if err := os.Rename(part, out); err != nil {
			return Outcome{}, fmt.Errorf("move thumbnail: %w", err)
		}
		if err := keepIfLive(ctx, h.deps, m.ID, out); err != nil {
			return Outcome{}, err
		}
		return Outcome{Generated: []string{t.Name}}, nil
	}
	return Outcome{}, fmt.Errorf("thumbnail %s: no frame produced: %w", m.ID, models.ErrVerification)
}

func verifyJPEG(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w: %v", filepath.Base(name), models.ErrVerification, err)
	}
	defer f.Close()

	if _, err := jpeg.DecodeConfig(f); err != nil {
		return fmt.Errorf("decode %s: %w: %v", filepath.Base(name), models.ErrVerification, err)
	}
	return nil
}
