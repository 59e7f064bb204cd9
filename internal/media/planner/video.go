package planner

import (
	"fmt"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
)

const (
	SegmentSeconds = 6
	GOPSize        = 48
	VideoCodec     = "h264"
	ThumbnailAt    = "00:00:05"
)

// Rung is one rendition of the fixed ladder.
type Rung struct {
	Name    string
	Width   int
	Height  int
	Bitrate int
}

// Ladder is applied to every source regardless of its own resolution.
var Ladder = []Rung{
	{Name: "360p", Width: 640, Height: 360, Bitrate: 800_000},
	{Name: "720p", Width: 1280, Height: 720, Bitrate: 1_400_000},
	{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 2_800_000},
}

// VideoLadder plans one variant playlist per rung. The index of a target in
// the returned slice is its ffmpeg variant number.
type VideoLadder struct {
	paths *paths.Resolver
}

func NewVideoLadder(r *paths.Resolver) VideoLadder { return VideoLadder{paths: r} }

func (VideoLadder) Family() models.Family { return models.FamilyTranscode }

func (p VideoLadder) Plan(in Input) ([]Target, error) {
	rungs, err := selectRungs(in.Resolutions)
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(rungs))
	for v, rung := range rungs {
		targets = append(targets, Target{
			Name:    rung.Name,
			Width:   rung.Width,
			Height:  rung.Height,
			Bitrate: rung.Bitrate,
			Codec:   VideoCodec,
			Format:  "hls",
			Path:    p.paths.VariantPlaylist(in.OwnerID, in.MediaID, v),
		})
	}
	return targets, nil
}

func selectRungs(names []string) ([]Rung, error) {
	if len(names) == 0 {
		return Ladder, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Rung
	for _, r := range Ladder {
		if want[r.Name] {
			out = append(out, r)
			delete(want, r.Name)
		}
	}
	if len(want) > 0 {
		return nil, fmt.Errorf("unknown resolutions %v: %w", names, models.ErrInvalidArgument)
	}
	return out, nil
}

// Thumbnail plans the single poster frame.
type Thumbnail struct {
	paths *paths.Resolver
}

func NewThumbnail(r *paths.Resolver) Thumbnail { return Thumbnail{paths: r} }

func (Thumbnail) Family() models.Family { return models.FamilyThumbnail }

func (p Thumbnail) Plan(in Input) ([]Target, error) {
	return []Target{{
		Name:   "thumbnail",
		Format: "jpg",
		Offset: ThumbnailAt,
		Path:   p.paths.Thumbnail(in.OwnerID, in.MediaID),
	}}, nil
}
