package planner

import (
	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
)

const PreviewDPI = 150

// PdfPreview always plans page 0, whatever the page count.
type PdfPreview struct {
	paths *paths.Resolver
}

func NewPdfPreview(r *paths.Resolver) PdfPreview { return PdfPreview{paths: r} }

func (PdfPreview) Family() models.Family { return models.FamilyPdfPreview }

func (p PdfPreview) Plan(in Input) ([]Target, error) {
	return []Target{{
		Name:   "page-0",
		Format: "png",
		DPI:    PreviewDPI,
		Page:   0,
		Path:   p.paths.PdfPreview(in.OwnerID, in.MediaID),
	}}, nil
}
