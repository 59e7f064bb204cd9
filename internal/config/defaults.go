package config

const (
	defaultStorageRoot      = "./data"
	defaultScratchDir       = "./data/tmp"
	defaultDatabaseDriver   = "pgx"
	defaultKafkaBroker      = "localhost:9092"
	defaultGroupID          = "media-processing"
	defaultEventsTopic      = "media.events"
	defaultOutboxInterval   = 1000
	defaultOutboxBatch      = 100
	defaultWorkers          = 2
	defaultTranscodeWorkers = 1
	defaultRetryAttempts    = 1
	defaultRetryBackoff     = 5000
	defaultDrainTimeout     = 60
	defaultToolTimeout      = 30 * 60
	defaultHTTPAddr         = ":8081"
	defaultMetricsAddr      = ":9090"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultTopicPrefix      = "media.jobs."
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Storage: Storage{
			Root:       defaultStorageRoot,
			ScratchDir: defaultScratchDir,
		},
		Database: Database{
			Driver: defaultDatabaseDriver,
		},
		Kafka: Kafka{
			Brokers:     []string{defaultKafkaBroker},
			GroupID:     defaultGroupID,
			EventsTopic: defaultEventsTopic,
			Topics: Topics{
				Transcode:        defaultTopicPrefix + "video_transcode",
				Thumbnail:        defaultTopicPrefix + "video_thumbnail",
				ImageResolutions: defaultTopicPrefix + "image_resolutions",
				PdfPreview:       defaultTopicPrefix + "pdf_preview",
			},
		},
		Outbox: Outbox{
			IntervalMillis: defaultOutboxInterval,
			BatchSize:      defaultOutboxBatch,
		},
		Workers: Workers{
			Transcode:           defaultTranscodeWorkers,
			Thumbnail:           defaultWorkers,
			ImageResolutions:    defaultWorkers,
			PdfPreview:          defaultWorkers,
			RetryAttempts:       defaultRetryAttempts,
			RetryBackoffMillis:  defaultRetryBackoff,
			DrainTimeoutSeconds: defaultDrainTimeout,
		},
		Tools: Tools{
			FFmpeg:         "ffmpeg",
			FFprobe:        "ffprobe",
			Cwebp:          "cwebp",
			Pdftoppm:       "pdftoppm",
			Pdfinfo:        "pdfinfo",
			TimeoutSeconds: defaultToolTimeout,
		},
		HTTP: HTTP{
			Addr:        defaultHTTPAddr,
			MetricsAddr: defaultMetricsAddr,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
