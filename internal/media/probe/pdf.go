package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/process"
)

// PDF runs pdfinfo. A document that needs a password to open fails with
// models.ErrInvalidInput; one that opens but is marked encrypted is
// reported through PdfMetadata.Encrypted.
func (p *Prober) PDF(ctx context.Context, path string) (models.PdfMetadata, error) {
	if err := CheckInput(path); err != nil {
		return models.PdfMetadata{}, err
	}

	res, err := p.runner.Run(ctx, p.pdfinfo, path)
	if err != nil {
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(exitErr.OutputTail), "password") {
			return models.PdfMetadata{}, fmt.Errorf("pdf %s is encrypted: %w", path, models.ErrInvalidInput)
		}
		return models.PdfMetadata{}, fmt.Errorf("pdfinfo %s: %w: %w", path, models.ErrMetadataExtraction, err)
	}
	return ParsePDFInfo(res.Stdout)
}

// ParsePDFInfo reads the "Key: value" lines printed by pdfinfo.
func ParsePDFInfo(data []byte) (models.PdfMetadata, error) {
	var (
		meta     models.PdfMetadata
		hasPages bool
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Title":
			meta.Title = value
		case "Author":
			meta.Author = value
		case "Pages":
			n, err := strconv.Atoi(value)
			if err != nil {
				return models.PdfMetadata{}, fmt.Errorf("pdfinfo pages %q: %w", value, models.ErrMetadataExtraction)
			}
			meta.PageCount = n
			hasPages = true
		case "Encrypted":
			meta.Encrypted = strings.HasPrefix(strings.ToLower(value), "yes")
		}
	}
	if err := sc.Err(); err != nil {
		return models.PdfMetadata{}, fmt.Errorf("read pdfinfo output: %w: %v", models.ErrMetadataExtraction, err)
	}
	if !hasPages || meta.PageCount <= 0 {
		return models.PdfMetadata{}, fmt.Errorf("pdfinfo reported no pages: %w", models.ErrMetadataExtraction)
	}
	return meta, nil
}
