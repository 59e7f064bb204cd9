package consumer

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-derivatives/internal/config"
	"github.com/romariotrain/media-derivatives/internal/media/cleanup"
	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/probe"
	"github.com/romariotrain/media-derivatives/internal/media/process"
	"github.com/romariotrain/media-derivatives/internal/media/process/processtest"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
	"github.com/romariotrain/media-derivatives/internal/media/service"
)

const ffprobeWithAudio = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720,
     "r_frame_rate": "25/1", "bit_rate": "2000000", "duration": "10.0"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "10.0", "bit_rate": "2100000"}
}`

const ffprobeSilent = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360,
     "r_frame_rate": "30/1", "bit_rate": "900000", "duration": "3.0"}
  ],
  "format": {"duration": "3.0", "bit_rate": "900000"}
}`

type fixture struct {
	deps Deps
	repo *repository.MemoryRepository
	fake *processtest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	fake := processtest.New()
	repo := repository.NewMemoryRepository()
	tools := config.Default().Tools

	return &fixture{
		deps: Deps{
			Registry:   repo,
			Paths:      paths.New(root, ""),
			Runner:     fake,
			Prober:     probe.New(fake, tools.FFprobe, tools.Pdfinfo),
			Tools:      tools,
			ScratchDir: filepath.Join(root, "tmp"),
			Logger:     zerolog.Nop(),
		},
		repo: repo,
		fake: fake,
	}
}

// seed stores an original and its media row.
func (f *fixture) seed(t *testing.T, kind models.Kind, name string, content []byte) *models.Media {
	t.Helper()
	owner, id := uuid.New(), uuid.New()
	rel, err := f.deps.Paths.Original(owner, kind, id, name)
	require.NoError(t, err)

	abs := f.deps.Paths.Abs(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, content, 0o644))

	m := &models.Media{
		ID:           id,
		OwnerID:      owner,
		Kind:         kind,
		FileName:     name,
		OriginalPath: rel,
		SizeBytes:    int64(len(content)),
		Status:       models.UploadedStatus,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, f.repo.Create(context.Background(), m))
	return m
}

// cleanupNow removes the media the way the delete endpoint does, for use
// from inside a fake tool while a job is running.
func (f *fixture) cleanupNow(ctx context.Context, id uuid.UUID) error {
	svc := service.New(f.repo, f.deps.Paths, config.Default().Kafka)
	return cleanup.New(f.repo, svc, f.deps.Paths, zerolog.Nop()).Cleanup(ctx, id)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes() []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil)
	return buf.Bytes()
}

// orientedJPEG is a w x h JPEG whose EXIF orientation (6) rotates it a
// quarter turn, so viewers show it as h x w.
func orientedJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var raw bytes.Buffer
	require.NoError(t, jpeg.Encode(&raw, image.NewRGBA(image.Rect(0, 0, w, h)), nil))

	var exif bytes.Buffer
	exif.WriteString("Exif\x00\x00MM\x00\x2a")
	binary.Write(&exif, binary.BigEndian, uint32(8))
	binary.Write(&exif, binary.BigEndian, uint16(1))
	binary.Write(&exif, binary.BigEndian, []uint16{0x0112, 3})
	binary.Write(&exif, binary.BigEndian, uint32(1))
	binary.Write(&exif, binary.BigEndian, []uint16{6, 0})
	binary.Write(&exif, binary.BigEndian, uint32(0))

	var out bytes.Buffer
	out.Write(raw.Bytes()[:2])
	out.Write([]byte{0xff, 0xe1})
	binary.Write(&out, binary.BigEndian, uint16(exif.Len()+2))
	out.Write(exif.Bytes())
	out.Write(raw.Bytes()[2:])
	return out.Bytes()
}

// tinyWebP is a RIFF container holding a 1x1 lossless header, enough for
// webp.DecodeConfig.
func tinyWebP() []byte {
	data := []byte{0x2f, 0, 0, 0, 0, 0}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+8+len(data)))
	buf.WriteString("WEBP")
	buf.WriteString("VP8L")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// writeLadder simulates ffmpeg's HLS muxer: two segments per variant,
// variant playlists and the master playlist.
func writeLadder(ctx context.Context, args []string) (process.Result, error) {
	dir := filepath.Dir(argAfter(args, "-hls_segment_filename"))
	count := len(strings.Fields(argAfter(args, "-var_stream_map")))

	var master strings.Builder
	master.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for v := 0; v < count; v++ {
		playlist := fmt.Sprintf("stream_%d.m3u8", v)
		var media strings.Builder
		media.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PLAYLIST-TYPE:VOD\n")
		for seq, d := range []float64{6, 4} {
			name := paths.SegmentName(v, seq)
			if err := os.WriteFile(filepath.Join(dir, name), []byte("ts"), 0o644); err != nil {
				return process.Result{}, err
			}
			fmt.Fprintf(&media, "#EXTINF:%.6f,\n%s\n", d, name)
		}
		media.WriteString("#EXT-X-ENDLIST\n")
		if err := os.WriteFile(filepath.Join(dir, playlist), []byte(media.String()), 0o644); err != nil {
			return process.Result{}, err
		}
		fmt.Fprintf(&master, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=640x360\n%s\n", 800000*(v+1), playlist)
	}
	if err := os.WriteFile(filepath.Join(dir, paths.MasterPlaylistName), []byte(master.String()), 0o644); err != nil {
		return process.Result{}, err
	}
	return process.Result{}, nil
}

// writeLast writes content to the last argument, the output path of ffmpeg
// and of cwebp's -o.
func writeLast(content []byte) processtest.HandlerFunc {
	return func(_ context.Context, args []string) (process.Result, error) {
		return process.Result{}, os.WriteFile(args[len(args)-1], content, 0o644)
	}
}
