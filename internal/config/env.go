package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func (c *Config) applyEnv() error {
	setString(&c.Storage.Root, "MEDIA_STORAGE_ROOT")
	setString(&c.Storage.ScratchDir, "MEDIA_SCRATCH_DIR")
	setString(&c.Storage.PublicBaseURL, "MEDIA_PUBLIC_BASE_URL")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Kafka.GroupID, "KAFKA_GROUP_ID")
	setString(&c.Kafka.EventsTopic, "KAFKA_EVENTS_TOPIC")
	setString(&c.Kafka.DeadLetterTopic, "KAFKA_DEAD_LETTER_TOPIC")
	setString(&c.Tools.FFmpeg, "FFMPEG_BIN")
	setString(&c.Tools.FFprobe, "FFPROBE_BIN")
	setString(&c.Tools.Cwebp, "CWEBP_BIN")
	setString(&c.Tools.Pdftoppm, "PDFTOPPM_BIN")
	setString(&c.Tools.Pdfinfo, "PDFINFO_BIN")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.HTTP.MetricsAddr, "METRICS_ADDR")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"WORKERS_VIDEO_TRANSCODE", &c.Workers.Transcode},
		{"WORKERS_VIDEO_THUMBNAIL", &c.Workers.Thumbnail},
		{"WORKERS_IMAGE_RESOLUTIONS", &c.Workers.ImageResolutions},
		{"WORKERS_PDF_PREVIEW", &c.Workers.PdfPreview},
		{"RETRY_ATTEMPTS", &c.Workers.RetryAttempts},
		{"OUTBOX_BATCH_SIZE", &c.Outbox.BatchSize},
	}
	for _, it := range ints {
		if err := setInt(it.dst, it.key); err != nil {
			return err
		}
	}

	durations := []struct {
		key  string
		dst  *int
		unit time.Duration
	}{
		{"PROCESS_TIMEOUT", &c.Tools.TimeoutSeconds, time.Second},
		{"DRAIN_TIMEOUT", &c.Workers.DrainTimeoutSeconds, time.Second},
		{"RETRY_BACKOFF", &c.Workers.RetryBackoffMillis, time.Millisecond},
		{"OUTBOX_INTERVAL", &c.Outbox.IntervalMillis, time.Millisecond},
	}
	for _, it := range durations {
		if err := setDuration(it.dst, it.key, it.unit); err != nil {
			return err
		}
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts a Go duration ("30m", "250ms") and stores it in unit.
func setDuration(dst *int, key string, unit time.Duration) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = int(d / unit)
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
