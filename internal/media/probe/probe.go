// Package probe extracts technical metadata from originals.
package probe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/process"
)

// Prober runs ffprobe and pdfinfo through a process.Runner and decodes
// image headers in process.
type Prober struct {
	runner  process.Runner
	ffprobe string
	pdfinfo string
}

func New(runner process.Runner, ffprobe, pdfinfo string) *Prober {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if pdfinfo == "" {
		pdfinfo = "pdfinfo"
	}
	return &Prober{runner: runner, ffprobe: ffprobe, pdfinfo: pdfinfo}
}

// CheckInput fails with models.ErrInputNotFound unless path is a regular file.
func CheckInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, models.ErrInputNotFound)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file: %w", path, models.ErrInputNotFound)
	}
	return nil
}
