package consumer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/image/webp"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/planner"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

// ImageResolutions writes one WebP per fixed width. Targets are
// independent: a failed one is reported and the rest still run.
type ImageResolutions struct {
	deps    Deps
	planner planner.ImageResolutions
}

func NewImageResolutions(d Deps) *ImageResolutions {
	return &ImageResolutions{deps: d, planner: planner.NewImageResolutions(d.Paths)}
}

func (*ImageResolutions) Family() models.Family { return models.FamilyImageResolutions }

func (h *ImageResolutions) Handle(ctx context.Context, m *models.Media, _ models.Job) (Outcome, error) {
	input := h.deps.Paths.Abs(m.OriginalPath)
	meta, err := h.deps.Prober.Image(input)
	if err != nil {
		return Outcome{}, err
	}

	// sizes are taken after EXIF orientation so planned heights match what
	// imaging.Resize produces
	src, err := imaging.Open(input, imaging.AutoOrientation(true))
	if err != nil {
		return Outcome{}, fmt.Errorf("decode %s: %w: %v", m.ID, models.ErrInvalidInput, err)
	}
	meta.MediaID = m.ID
	meta.Width, meta.Height = src.Bounds().Dx(), src.Bounds().Dy()

	err = whileLive(ctx, h.deps.Registry, m.ID, func(tx repository.Registry) error {
		return tx.UpsertImageMetadata(ctx, &meta)
	})
	if err != nil {
		return Outcome{}, registryErr("image metadata", err)
	}

	targets, err := h.planner.Plan(planner.Input{
		OwnerID: m.OwnerID,
		MediaID: m.ID,
		Width:   meta.Width,
		Height:  meta.Height,
	})
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		dst := h.deps.Paths.Abs(t.Path)
		if fileExists(dst) {
			// the row may be missing if a previous run died after encoding
			if err := h.record(ctx, m, t, image.Rect(0, 0, t.Width, t.Height)); err != nil {
				if errors.Is(err, errMediaGone) {
					return out, h.discard(m)
				}
				out.fail(t.Name, err)
				continue
			}
			out.Skipped = append(out.Skipped, t.Name)
			continue
		}

		bounds, err := h.generate(ctx, src, t, dst)
		if err != nil {
			h.deps.Logger.Warn().Err(err).Str("media_id", m.ID.String()).Str("target", t.Name).Msg("image target failed")
			out.fail(t.Name, err)
			continue
		}
		if err := h.record(ctx, m, t, bounds); err != nil {
			if errors.Is(err, errMediaGone) {
				return out, h.discard(m)
			}
			os.Remove(dst)
			out.fail(t.Name, err)
			continue
		}
		out.Generated = append(out.Generated, t.Name)
	}

	if len(targets) > 0 && len(out.Failed) == len(targets) {
		return out, fmt.Errorf("all image targets failed: %w", errors.Join(failures(out)...))
	}
	return out, nil
}

// discard removes every rendition of a media that was deleted mid-job.
func (h *ImageResolutions) discard(m *models.Media) error {
	dir := h.deps.Paths.Abs(h.deps.Paths.ImageProcessedDir(m.OwnerID, m.ID))
	if err := os.RemoveAll(dir); err != nil {
		h.deps.Logger.Warn().Err(err).Str("media_id", m.ID.String()).Msg("remove renditions of deleted media")
	}
	return errMediaGone
}

// generate resizes src to the target width, writes a scratch PNG and
// encodes it to WebP next to dst before moving it into place.
func (h *ImageResolutions) generate(ctx context.Context, src image.Image, t planner.Target, dst string) (image.Rectangle, error) {
	resized := imaging.Resize(src, t.Width, 0, imaging.Lanczos)

	if err := ensureDir(h.deps.ScratchDir); err != nil {
		return image.Rectangle{}, err
	}
	scratch, err := os.CreateTemp(h.deps.ScratchDir, "resize-*.png")
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("scratch file: %w", err)
	}
	scratch.Close()
	defer os.Remove(scratch.Name())

	if err := imaging.Save(resized, scratch.Name()); err != nil {
		return image.Rectangle{}, fmt.Errorf("write scratch png: %w", err)
	}

	if err := ensureDir(filepath.Dir(dst)); err != nil {
		return image.Rectangle{}, err
	}
	part := dst + ".part"
	defer os.Remove(part)

	if _, err := h.deps.Runner.Run(ctx, h.deps.Tools.Cwebp, "-q", strconv.Itoa(t.Quality), scratch.Name(), "-o", part); err != nil {
		return image.Rectangle{}, fmt.Errorf("cwebp %s: %w", t.Name, err)
	}
	if err := verifyWebP(part); err != nil {
		return image.Rectangle{}, err
	}
	if err := os.Rename(part, dst); err != nil {
		return image.Rectangle{}, fmt.Errorf("move %s: %w", t.Name, err)
	}
	return resized.Bounds(), nil
}

func (h *ImageResolutions) record(ctx context.Context, m *models.Media, t planner.Target, bounds image.Rectangle) error {
	err := whileLive(ctx, h.deps.Registry, m.ID, func(tx repository.Registry) error {
		_, err := tx.AddImageRendition(ctx, &models.ImageRendition{
			ID:         uuid.New(),
			MediaID:    m.ID,
			Resolution: t.Name,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
			Path:       t.Path,
			Format:     t.Format,
			CreatedAt:  time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return registryErr("image rendition "+t.Name, err)
	}
	return nil
}

func verifyWebP(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open webp: %w: %v", models.ErrVerification, err)
	}
	defer f.Close()

	if _, err := webp.DecodeConfig(f); err != nil {
		return fmt.Errorf("decode webp: %w: %v", models.ErrVerification, err)
	}
	return nil
}

func failures(out Outcome) []error {
	errs := make([]error, 0, len(out.Failed))
	for _, name := range out.failedNames() {
		errs = append(errs, out.Failed[name])
	}
	return errs
}

