// Package hls checks what a ladder transcode actually left on disk.
//
// Segment rows are derived from the produced files, never from an assumed
// count; the variant playlists only contribute segment durations.
package hls

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
)

// Segment is one produced .ts file.
type Segment struct {
	Index    int
	Name     string
	Duration float64
}

// Variant is the playlist of one ladder rung and its segments, ordered by index.
type Variant struct {
	Index    int
	Playlist string
	Segments []Segment
}

// Discover lists the segments of variants 0..count-1 in dir. Indices must
// be contiguous from 0 and every variant needs its playlist and at least
// one segment.
func Discover(dir string, count int) ([]Variant, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("hls dir %s: %w", dir, models.ErrVerification)
		}
		return nil, fmt.Errorf("read hls dir %s: %w", dir, err)
	}

	indices := make(map[int][]int, count)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, seq, ok := parseSegmentName(e.Name())
		if !ok || v >= count {
			continue
		}
		indices[v] = append(indices[v], seq)
	}

	variants := make([]Variant, 0, count)
	for v := 0; v < count; v++ {
		seqs := indices[v]
		if len(seqs) == 0 {
			return nil, fmt.Errorf("variant %d has no segments: %w", v, models.ErrVerification)
		}
		sort.Ints(seqs)
		for i, seq := range seqs {
			if seq != i {
				return nil, fmt.Errorf("variant %d: segment %d missing: %w", v, i, models.ErrVerification)
			}
		}

		playlist := fmt.Sprintf("stream_%d.m3u8", v)
		durations, err := segmentDurations(filepath.Join(dir, playlist))
		if err != nil {
			return nil, err
		}

		segs := make([]Segment, 0, len(seqs))
		for _, seq := range seqs {
			name := paths.SegmentName(v, seq)
			segs = append(segs, Segment{Index: seq, Name: name, Duration: durations[name]})
		}
		variants = append(variants, Variant{Index: v, Playlist: playlist, Segments: segs})
	}
	return variants, nil
}

// VerifyMaster checks that master.m3u8 in dir is a master playlist
// referencing exactly count variant playlists that exist.
func VerifyMaster(dir string, count int) error {
	master := filepath.Join(dir, paths.MasterPlaylistName)
	pl, err := decode(master)
	if err != nil {
		return err
	}
	mp, ok := pl.(*m3u8.MasterPlaylist)
	if !ok {
		return fmt.Errorf("%s is not a master playlist: %w", master, models.ErrVerification)
	}

	var variants []string
	for _, v := range mp.Variants {
		if v != nil && v.URI != "" {
			variants = append(variants, v.URI)
		}
	}
	if len(variants) != count {
		return fmt.Errorf("%s references %d variants, want %d: %w", master, len(variants), count, models.ErrVerification)
	}
	for _, uri := range variants {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(uri))); err != nil {
			return fmt.Errorf("variant %s: %w: %v", uri, models.ErrVerification, err)
		}
	}
	return nil
}

func segmentDurations(playlist string) (map[string]float64, error) {
	pl, err := decode(playlist)
	if err != nil {
		return nil, err
	}
	mp, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("%s is not a media playlist: %w", playlist, models.ErrVerification)
	}

	out := make(map[string]float64)
	for _, seg := range mp.Segments {
		if seg == nil {
			continue
		}
		out[path.Base(seg.URI)] = seg.Duration
	}
	return out, nil
}

func decode(name string) (m3u8.Playlist, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", name, models.ErrVerification, err)
	}
	defer f.Close()

	pl, _, err := m3u8.DecodeFrom(f, false)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w: %v", name, models.ErrVerification, err)
	}
	return pl, nil
}

// parseSegmentName reads v and seq out of stream_{v}_{seq}.ts.
func parseSegmentName(name string) (v, seq int, ok bool) {
	rest, ok := strings.CutPrefix(name, "stream_")
	if !ok {
		return 0, 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".ts")
	if !ok {
		return 0, 0, false
	}
	vs, ss, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, false
	}
	v, err := strconv.Atoi(vs)
	if err != nil || v < 0 {
		return 0, 0, false
	}
	seq, err = strconv.Atoi(ss)
	if err != nil || seq < 0 {
		return 0, 0, false
	}
	return v, seq, true
}
