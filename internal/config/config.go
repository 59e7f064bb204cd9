// Package config loads the configuration shared by the media services.
//
// Sources are applied in order: a .env file in the working directory, an
// optional TOML file named by MEDIA_CONFIG_FILE, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

const configFileEnv = "MEDIA_CONFIG_FILE"

// Storage locates originals, derivatives and scratch files.
type Storage struct {
	Root          string `toml:"root"`
	ScratchDir    string `toml:"scratch_dir"`
	PublicBaseURL string `toml:"public_base_url"`
}

type Database struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Topics names the queue of every derivative family.
type Topics struct {
	Transcode        string `toml:"video_transcode"`
	Thumbnail        string `toml:"video_thumbnail"`
	ImageResolutions string `toml:"image_resolutions"`
	PdfPreview       string `toml:"pdf_preview"`
}

func (t Topics) For(f models.Family) string {
	switch f {
	case models.FamilyTranscode:
		return t.Transcode
	case models.FamilyThumbnail:
		return t.Thumbnail
	case models.FamilyImageResolutions:
		return t.ImageResolutions
	case models.FamilyPdfPreview:
		return t.PdfPreview
	default:
		return ""
	}
}

type Kafka struct {
	Brokers         []string `toml:"brokers"`
	GroupID         string   `toml:"group_id"`
	EventsTopic     string   `toml:"events_topic"`
	DeadLetterTopic string   `toml:"dead_letter_topic"`
	Topics          Topics   `toml:"topics"`
}

type Outbox struct {
	IntervalMillis int `toml:"interval_millis"`
	BatchSize      int `toml:"batch_size"`
}

func (o Outbox) Interval() time.Duration {
	return time.Duration(o.IntervalMillis) * time.Millisecond
}

// Workers sizes the pool of every family and controls redelivery.
type Workers struct {
	Transcode           int `toml:"video_transcode"`
	Thumbnail           int `toml:"video_thumbnail"`
	ImageResolutions    int `toml:"image_resolutions"`
	PdfPreview          int `toml:"pdf_preview"`
	RetryAttempts       int `toml:"retry_attempts"`
	RetryBackoffMillis  int `toml:"retry_backoff_millis"`
	DrainTimeoutSeconds int `toml:"drain_timeout_seconds"`
}

func (w Workers) For(f models.Family) int {
	switch f {
	case models.FamilyTranscode:
		return w.Transcode
	case models.FamilyThumbnail:
		return w.Thumbnail
	case models.FamilyImageResolutions:
		return w.ImageResolutions
	case models.FamilyPdfPreview:
		return w.PdfPreview
	default:
		return 0
	}
}

func (w Workers) RetryBackoff() time.Duration {
	return time.Duration(w.RetryBackoffMillis) * time.Millisecond
}

func (w Workers) DrainTimeout() time.Duration {
	return time.Duration(w.DrainTimeoutSeconds) * time.Second
}

// Tools holds the external binaries and the hard ceiling on one invocation.
type Tools struct {
	FFmpeg         string `toml:"ffmpeg"`
	FFprobe        string `toml:"ffprobe"`
	Cwebp          string `toml:"cwebp"`
	Pdftoppm       string `toml:"pdftoppm"`
	Pdfinfo        string `toml:"pdfinfo"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (t Tools) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Binaries lists every configured tool for the startup preflight.
func (t Tools) Binaries() []string {
	return []string{t.FFmpeg, t.FFprobe, t.Cwebp, t.Pdftoppm, t.Pdfinfo}
}

type HTTP struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	Storage  Storage  `toml:"storage"`
	Database Database `toml:"database"`
	Kafka    Kafka    `toml:"kafka"`
	Outbox   Outbox   `toml:"outbox"`
	Workers  Workers  `toml:"workers"`
	Tools    Tools    `toml:"tools"`
	HTTP     HTTP     `toml:"http"`
	Logging  Logging  `toml:"logging"`
}

// Load builds the configuration from defaults, .env, the optional TOML
// file and the environment, then validates it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(configFileEnv)); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
