package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

// VideoInfo is the probe result of a video original.
type VideoInfo struct {
	Metadata models.VideoMetadata
	HasAudio bool
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
	Duration   string `json:"duration"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

func videoProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height,codec_name,r_frame_rate,bit_rate,duration:format=duration,bit_rate",
		"-of", "json",
		path,
	}
}

// Video probes a video file. Missing codec or dimensions are fatal.
func (p *Prober) Video(ctx context.Context, path string) (VideoInfo, error) {
	if err := CheckInput(path); err != nil {
		return VideoInfo{}, err
	}

	res, err := p.runner.Run(ctx, p.ffprobe, videoProbeArgs(path)...)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w: %w", path, models.ErrMetadataExtraction, err)
	}
	return ParseVideo(res.Stdout)
}

// ParseVideo decodes ffprobe JSON output.
func ParseVideo(data []byte) (VideoInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w: %v", models.ErrMetadataExtraction, err)
	}

	var (
		info  VideoInfo
		video *ffprobeStream
	)
	for i := range out.Streams {
		s := &out.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "audio":
			info.HasAudio = true
		case "video", "":
			if video == nil {
				video = s
			}
		}
	}
	if video == nil {
		return VideoInfo{}, fmt.Errorf("no video stream: %w", models.ErrMetadataExtraction)
	}
	if video.CodecName == "" || video.Width <= 0 || video.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("video stream lacks codec or dimensions: %w", models.ErrMetadataExtraction)
	}

	duration := parseFloat(video.Duration)
	if duration <= 0 {
		duration = parseFloat(out.Format.Duration)
	}
	bitrate := int64(parseFloat(video.BitRate))
	if bitrate <= 0 {
		bitrate = int64(parseFloat(out.Format.BitRate))
	}

	info.Metadata = models.VideoMetadata{
		Codec:           video.CodecName,
		Width:           video.Width,
		Height:          video.Height,
		FrameRate:       video.RFrameRate,
		FPS:             parseRate(video.RFrameRate),
		Bitrate:         bitrate,
		DurationSeconds: duration,
	}
	return info, nil
}

// parseRate turns "30000/1001" into 29.97.
func parseRate(value string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return parseFloat(value)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return math.Round(n/d*1000) / 1000
}

// parseFloat returns 0 for empty or unparsable values ("N/A").
func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 {
		return 0
	}
	return parsed
}
