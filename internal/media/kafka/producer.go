// Package kafka carries jobs and events over Kafka: the Producer delivers
// outbox rows and dead letters, the JobSource feeds one worker pool.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// ProducerConfig configures a Producer. Topic is the default for Publish;
// PublishTo and PublishBatch may name any topic.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	MaxRetries   int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
	BatchSize    int
	Async        bool
	Logger       zerolog.Logger
}

type Message struct {
	Topic string
	Key   string
	Value []byte
}

type producerMetrics struct {
	MessagesPublished atomic.Int64
	MessagesFailed    atomic.Int64
	RetriesTotal      atomic.Int64
	PublishDuration   atomic.Int64
}

// Metrics is a snapshot of producer counters.
type Metrics struct {
	MessagesPublished int64
	MessagesFailed    int64
	RetriesTotal      int64
	AvgPublishTime    time.Duration
}

type Producer struct {
	writer  *kafkago.Writer
	config  ProducerConfig
	logger  zerolog.Logger
	metrics producerMetrics
	closed  atomic.Bool
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}
	setDefaults(&cfg)

	// no Topic on the writer: every message names its own
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		BatchSize:              cfg.BatchSize,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafkago.RequireAll,
		Async:                  cfg.Async,
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		config: cfg,
		logger: cfg.Logger.With().Str("component", "kafka_producer").Logger(),
	}, nil
}

func validateConfig(cfg *ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("brokers list is empty")
	}
	if cfg.Topic == "" {
		return errors.New("topic is empty")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if cfg.RetryBackoff < 0 {
		return errors.New("retry_backoff cannot be negative")
	}
	if cfg.WriteTimeout < 0 {
		return errors.New("write_timeout cannot be negative")
	}
	return nil
}

func setDefaults(cfg *ProducerConfig) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
}

// Publish sends one message to the default topic.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.PublishTo(ctx, p.config.Topic, key, value)
}

func (p *Producer) PublishTo(ctx context.Context, topic, key string, value []byte) error {
	if p.closed.Load() {
		return errors.New("producer is closed")
	}
	return p.write(ctx, kafkago.Message{Topic: topic, Key: []byte(key), Value: value})
}

// PublishBatch sends messages in one write. Messages without a topic go to
// the default topic.
func (p *Producer) PublishBatch(ctx context.Context, messages []Message) error {
	if p.closed.Load() {
		return errors.New("producer is closed")
	}
	if len(messages) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, 0, len(messages))
	for _, m := range messages {
		topic := m.Topic
		if topic == "" {
			topic = p.config.Topic
		}
		msgs = append(msgs, kafkago.Message{Topic: topic, Key: []byte(m.Key), Value: m.Value})
	}
	return p.write(ctx, msgs...)
}

func (p *Producer) write(ctx context.Context, msgs ...kafkago.Message) error {
	start := time.Now()

	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.RetriesTotal.Add(1)
			select {
			case <-ctx.Done():
				p.metrics.MessagesFailed.Add(int64(len(msgs)))
				return fmt.Errorf("kafka publish: %w", ctx.Err())
			case <-time.After(p.config.RetryBackoff * time.Duration(attempt)):
			}
		}

		err = p.writer.WriteMessages(ctx, msgs...)
		if err == nil {
			p.metrics.MessagesPublished.Add(int64(len(msgs)))
			p.metrics.PublishDuration.Add(int64(time.Since(start)))
			return nil
		}
		if !isRetriableError(err) {
			break
		}
		p.logger.Warn().Err(err).Int("attempt", attempt+1).Int("messages", len(msgs)).Msg("kafka write failed, retrying")
	}

	p.metrics.MessagesFailed.Add(int64(len(msgs)))
	return fmt.Errorf("kafka publish: %w", err)
}

func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}

	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"invalid", "too large", "authorization", "authentication"} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	// connection refused/reset, i/o timeout, leader not available and
	// anything unknown are worth another try
	return true
}

// HealthCheck dials the first reachable broker.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return errors.New("producer is closed")
	}

	var lastErr error
	for _, broker := range p.config.Brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func (p *Producer) GetMetrics() Metrics {
	published := p.metrics.MessagesPublished.Load()

	var avg time.Duration
	if published > 0 {
		avg = time.Duration(p.metrics.PublishDuration.Load() / published)
	}

	return Metrics{
		MessagesPublished: published,
		MessagesFailed:    p.metrics.MessagesFailed.Load(),
		RetriesTotal:      p.metrics.RetriesTotal.Load(),
		AvgPublishTime:    avg,
	}
}

func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return errors.New("producer already closed")
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
