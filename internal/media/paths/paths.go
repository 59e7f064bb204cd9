// Package paths maps media identifiers to the canonical storage layout.
//
// Every path returned by Resolver is relative to the storage root and uses
// forward slashes, which is also the form persisted in the registry:
//
//	users/{owner}/videos/original/{file}
//	users/{owner}/videos/hls/{media}/stream_{v}.m3u8, stream_{v}_{seq:03d}.ts, master.m3u8
//	users/{owner}/videos/thumbnails/{media}.jpg
//	users/{owner}/videos/subtitles/{media}_{file}
//	users/{owner}/images/original/{file}
//	users/{owner}/images/processed/{media}/{thumb|480p|720p|1080p}.webp
//	users/{owner}/pdfs/original/{file}
//	users/{owner}/pdfs/previews/{media}.png
package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

const (
	MasterPlaylistName = "master.m3u8"
	WebPExt            = ".webp"
)

type Resolver struct {
	root          string
	publicBaseURL string
}

func New(root, publicBaseURL string) *Resolver {
	return &Resolver{
		root:          filepath.Clean(root),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (r *Resolver) Root() string { return r.root }

func userDir(owner uuid.UUID, kind models.Kind) string {
	return path.Join("users", owner.String(), kind.Dir())
}

// cleanName drops any directory part of a client supplied file name.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// Original is where the upload handler places the untouched file. The
// media id prefix keeps two uploads with the same name apart.
func (r *Resolver) Original(owner uuid.UUID, kind models.Kind, mediaID uuid.UUID, fileName string) (string, error) {
	name := cleanName(fileName)
	if name == "" || !kind.Valid() || mediaID == uuid.Nil {
		return "", fmt.Errorf("original path for %q (%s): %w", fileName, kind, models.ErrInvalidArgument)
	}
	return path.Join(userDir(owner, kind), "original", mediaID.String()+"_"+name), nil
}

func (r *Resolver) HLSDir(owner, mediaID uuid.UUID) string {
	return path.Join(userDir(owner, models.Video), "hls", mediaID.String())
}

// VariantPlaylist is the playlist of ladder rung v (0-based).
func (r *Resolver) VariantPlaylist(owner, mediaID uuid.UUID, v int) string {
	return path.Join(r.HLSDir(owner, mediaID), fmt.Sprintf("stream_%d.m3u8", v))
}

func (r *Resolver) Segment(owner, mediaID uuid.UUID, v, seq int) string {
	return path.Join(r.HLSDir(owner, mediaID), SegmentName(v, seq))
}

func (r *Resolver) MasterPlaylist(owner, mediaID uuid.UUID) string {
	return path.Join(r.HLSDir(owner, mediaID), MasterPlaylistName)
}

func (r *Resolver) Thumbnail(owner, mediaID uuid.UUID) string {
	return path.Join(userDir(owner, models.Video), "thumbnails", mediaID.String()+".jpg")
}

func (r *Resolver) ImageProcessedDir(owner, mediaID uuid.UUID) string {
	return path.Join(userDir(owner, models.Image), "processed", mediaID.String())
}

// ImageRendition is the WebP output for one named target (thumb, 480p, ...).
func (r *Resolver) ImageRendition(owner, mediaID uuid.UUID, name string) string {
	return path.Join(r.ImageProcessedDir(owner, mediaID), name+WebPExt)
}

func (r *Resolver) PdfPreview(owner, mediaID uuid.UUID) string {
	return path.Join(userDir(owner, models.PDF), "previews", mediaID.String()+".png")
}

func (r *Resolver) Subtitle(owner, mediaID uuid.UUID, fileName string) (string, error) {
	name := cleanName(fileName)
	if name == "" {
		return "", fmt.Errorf("subtitle path for %q: %w", fileName, models.ErrInvalidArgument)
	}
	return path.Join(userDir(owner, models.Video), "subtitles", mediaID.String()+"_"+name), nil
}

// Abs joins a registry path onto the storage root.
func (r *Resolver) Abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under the root back to registry form.
func (r *Resolver) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("rel %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside storage root: %w", abs, models.ErrInvalidArgument)
	}
	return filepath.ToSlash(rel), nil
}

// PublicURL returns the address a player uses for rel, or rel itself when
// no public base URL is configured.
func (r *Resolver) PublicURL(rel string) string {
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	if r.publicBaseURL == "" {
		return "/" + rel
	}
	return r.publicBaseURL + "/" + rel
}

// SegmentName follows the ffmpeg pattern stream_%v_%03d.ts.
func SegmentName(v, seq int) string {
	return fmt.Sprintf("stream_%d_%03d.ts", v, seq)
}
