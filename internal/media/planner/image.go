package planner

import (
	"fmt"
	"math"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
)

const WebPQuality = 85

// ImageTarget is one fixed output width.
type ImageTarget struct {
	Name  string
	Width int
}

var ImageTargets = []ImageTarget{
	{Name: "thumb", Width: 150},
	{Name: "480p", Width: 480},
	{Name: "720p", Width: 720},
	{Name: "1080p", Width: 1080},
}

type ImageResolutions struct {
	paths *paths.Resolver
}

func NewImageResolutions(r *paths.Resolver) ImageResolutions { return ImageResolutions{paths: r} }

func (ImageResolutions) Family() models.Family { return models.FamilyImageResolutions }

func (p ImageResolutions) Plan(in Input) ([]Target, error) {
	if in.Width <= 0 || in.Height <= 0 {
		return nil, fmt.Errorf("source size %dx%d: %w", in.Width, in.Height, models.ErrInvalidArgument)
	}

	targets := make([]Target, 0, len(ImageTargets))
	for _, t := range ImageTargets {
		targets = append(targets, Target{
			Name:    t.Name,
			Width:   t.Width,
			Height:  TargetHeight(t.Width, in.Width, in.Height),
			Format:  "webp",
			Quality: WebPQuality,
			Path:    p.paths.ImageRendition(in.OwnerID, in.MediaID, t.Name),
		})
	}
	return targets, nil
}

// TargetHeight keeps the source aspect ratio: round(w * srcH / srcW), at least 1.
func TargetHeight(targetWidth, srcWidth, srcHeight int) int {
	if srcWidth <= 0 {
		return 0
	}
	h := int(math.Round(float64(targetWidth) * float64(srcHeight) / float64(srcWidth)))
	return max(h, 1)
}
