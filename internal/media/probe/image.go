package probe

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

// Image reads only the header of an image original.
func (p *Prober) Image(path string) (models.ImageMetadata, error) {
	if err := CheckInput(path); err != nil {
		return models.ImageMetadata{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.ImageMetadata{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return models.ImageMetadata{}, fmt.Errorf("decode %s: %w: %v", path, models.ErrMetadataExtraction, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return models.ImageMetadata{}, fmt.Errorf("%s has no size: %w", path, models.ErrMetadataExtraction)
	}

	return models.ImageMetadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		ColorMode: colorMode(cfg.ColorModel),
		Format:    format,
	}, nil
}

func colorMode(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "Paletted"
	}
	switch m {
	case color.RGBAModel, color.NRGBAModel:
		return "RGBA"
	case color.RGBA64Model, color.NRGBA64Model:
		return "RGBA64"
	case color.GrayModel:
		return "Gray"
	case color.Gray16Model:
		return "Gray16"
	case color.YCbCrModel:
		return "YCbCr"
	case color.NYCbCrAModel:
		return "YCbCrA"
	case color.CMYKModel:
		return "CMYK"
	}
	return "unknown"
}
