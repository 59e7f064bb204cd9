// Package planner decides which derivative artifacts an original requires.
//
// Planners are pure: they never touch the filesystem. Consumers compare the
// returned targets with what already exists and generate only the rest.
package planner

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
)

// Target is one output artifact. Name is the discriminator used in paths
// and registry rows (360p, thumb, page-0, ...).
type Target struct {
	Name    string
	Width   int
	Height  int
	Bitrate int
	Codec   string
	Format  string
	Quality int
	DPI     int
	Page    int
	Offset  string
	Path    string
}

// Input carries what planners may look at.
type Input struct {
	OwnerID uuid.UUID
	MediaID uuid.UUID
	// Source size, required by the image planner.
	Width  int
	Height int
	// Optional subset of ladder rungs requested by the job payload.
	Resolutions []string
}

type Planner interface {
	Family() models.Family
	Plan(in Input) ([]Target, error)
}

// For returns the planner of a family.
func For(f models.Family, r *paths.Resolver) (Planner, error) {
	switch f {
	case models.FamilyTranscode:
		return VideoLadder{paths: r}, nil
	case models.FamilyThumbnail:
		return Thumbnail{paths: r}, nil
	case models.FamilyImageResolutions:
		return ImageResolutions{paths: r}, nil
	case models.FamilyPdfPreview:
		return PdfPreview{paths: r}, nil
	default:
		return nil, fmt.Errorf("no planner for family %q: %w", f, models.ErrInvalidArgument)
	}
}
