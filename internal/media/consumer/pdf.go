package consumer

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/planner"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

// PdfPreview renders page 0 to a PNG. Encrypted documents are rejected.
type PdfPreview struct {
	deps    Deps
	planner planner.PdfPreview
}

func NewPdfPreview(d Deps) *PdfPreview {
	return &PdfPreview{deps: d, planner: planner.NewPdfPreview(d.Paths)}
}

func (*PdfPreview) Family() models.Family { return models.FamilyPdfPreview }

func (h *PdfPreview) Handle(ctx context.Context, m *models.Media, _ models.Job) (Outcome, error) {
	input := h.deps.Paths.Abs(m.OriginalPath)
	meta, err := h.deps.Prober.PDF(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	meta.MediaID = m.ID
	err = whileLive(ctx, h.deps.Registry, m.ID, func(tx repository.Registry) error {
		return tx.UpsertPdfMetadata(ctx, &meta)
	})
	if err != nil {
		return Outcome{}, registryErr("pdf metadata", err)
	}
	if meta.Encrypted {
		return Outcome{}, fmt.Errorf("pdf %s is encrypted: %w", m.ID, models.ErrInvalidInput)
	}

	targets, err := h.planner.Plan(planner.Input{OwnerID: m.OwnerID, MediaID: m.ID})
	if err != nil {
		return Outcome{}, err
	}
	t := targets[0]
	dst := h.deps.Paths.Abs(t.Path)
	if fileExists(dst) {
		return Outcome{Skipped: []string{t.Name}}, nil
	}

	// pdftoppm appends .png to the prefix
	prefix := strings.TrimSuffix(dst, ".png") + ".part"
	rendered := prefix + ".png"
	if err := ensureDir(filepath.Dir(dst)); err != nil {
		return Outcome{}, err
	}
	defer os.Remove(rendered)

	page := strconv.Itoa(t.Page + 1)
	args := []string{"-f", page, "-l", page, "-r", strconv.Itoa(t.DPI), "-png", "-singlefile", input, prefix}
	if _, err := h.deps.Runner.Run(ctx, h.deps.Tools.Pdftoppm, args...); err != nil {
		return Outcome{}, fmt.Errorf("render %s: %w", m.ID, err)
	}
	if err := verifyPNG(rendered); err != nil {
		return Outcome{}, err
	}
	if err := os.Rename(rendered, dst); err != nil {
		return Outcome{}, fmt.Errorf("move preview: %w", err)
	}
	if err := keepIfLive(ctx, h.deps, m.ID, dst); err != nil {
		return Outcome{}, err
	}
	return Outcome{Generated: []string{t.Name}}, nil
}

func verifyPNG(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open preview: %w: %v", models.ErrVerification, err)
	}
	defer f.Close()

	if _, err := png.DecodeConfig(f); err != nil {
		return fmt.Errorf("decode preview: %w: %v", models.ErrVerification, err)
	}
	return nil
}
