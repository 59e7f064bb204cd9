// Package outbox delivers events written in the same transaction as
// registry changes.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/media-derivatives/internal/media/repository"
	"github.com/romariotrain/media-derivatives/internal/metrics"
)

// Sink delivers one message to a topic. kafka.Producer and
// queue.MemoryQueue both satisfy it.
type Sink interface {
	PublishTo(ctx context.Context, topic, key string, value []byte) error
}

// Publisher реализует Outbox паттерн: события пишутся в outbox в той же
// транзакции, что и изменения registry, и отсюда уходят в Kafka (или в
// in-memory очередь). Гарантирует at-least-once delivery семантику.
type Publisher struct {
	outboxRepo   repository.OutboxRepository
	sink         Sink
	defaultTopic string
	interval     time.Duration
	batchSize    int
	logger       zerolog.Logger
}

// PublisherConfig содержит конфигурацию для создания Publisher.
// DefaultTopic используется для записей без topic.
type PublisherConfig struct {
	OutboxRepo   repository.OutboxRepository
	Sink         Sink
	DefaultTopic string
	Interval     time.Duration
	BatchSize    int
	Logger       zerolog.Logger
}

// NewPublisher создаёт Publisher и валидирует конфигурацию
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.OutboxRepo == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %v", cfg.Interval)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got: %d", cfg.BatchSize)
	}

	return &Publisher{
		outboxRepo:   cfg.OutboxRepo,
		sink:         cfg.Sink,
		defaultTopic: cfg.DefaultTopic,
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
		logger:       cfg.Logger.With().Str("component", "outbox_publisher").Logger(),
	}, nil
}

// Start запускает polling outbox таблицы.
// Блокирует до тех пор, пока не будет отменён контекст.
//
// Процесс работы:
// 1. Каждые interval времени читает batch pending записей
// 2. Публикует каждую запись в её topic, ключ = id медиа
// 3. Помечает успешно опубликованные записи как processed
//
// Гарантии:
// - At-least-once delivery: запись может уйти повторно
// - Порядок событий одной медиа сохраняется внутри partition
// - Ошибка одной записи не останавливает batch
func (p *Publisher) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("interval", p.interval).
		Int("batch_size", p.batchSize).
		Msg("outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().
				Err(ctx.Err()).
				Msg("outbox publisher stopped")
			return ctx.Err()

		case <-ticker.C:
			if _, err := p.publishBatch(ctx); err != nil {
				p.logger.Error().
					Err(err).
					Msg("failed to publish batch")
				// Продолжаем работать, не падаем
			}
		}
	}
}

// publishBatch обрабатывает один batch и возвращает число опубликованных записей
func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	// 1. Читаем pending записи
	records, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending records: %w", err)
	}

	if len(records) == 0 {
		p.logger.Debug().Msg("no pending events to publish")
		return 0, nil
	}

	var (
		published int
		failed    int
		marked    int
	)

	// 2. Публикуем каждую запись
	for _, record := range records {
		topic := record.Topic
		if topic == "" {
			topic = p.defaultTopic
		}

		eventLogger := p.logger.With().
			Str("event_id", record.EventID).
			Str("event_type", record.EventType).
			Str("aggregate_id", record.AggregateID).
			Str("topic", topic).
			Int64("outbox_id", record.ID).
			Logger()

		if topic == "" {
			eventLogger.Error().Msg("outbox record has no topic")
			metrics.OutboxFailedTotal.Inc()
			failed++
			continue
		}

		// keyed by media so events of one media stay ordered within a partition
		key := record.AggregateID
		if key == "" {
			key = record.EventID
		}

		if err := p.sink.PublishTo(ctx, topic, key, record.Payload); err != nil {
			eventLogger.Error().
				Err(err).
				Msg("failed to publish event")
			metrics.OutboxFailedTotal.Inc()
			failed++
			continue // попробуем на следующем тике
		}

		published++
		metrics.OutboxPublishedTotal.WithLabelValues(topic).Inc()

		// 3. Помечаем как обработанное
		if err := p.outboxRepo.MarkProcessed(ctx, record.ID); err != nil {
			eventLogger.Warn().
				Err(err).
				Msg("failed to mark event as processed")
			// Запись опубликована, но не помечена: уйдёт повторно.
			// Consumer идемпотентен по (media, family)
		} else {
			marked++
		}
	}

	p.logger.Info().
		Int("total", len(records)).
		Int("published", published).
		Int("failed", failed).
		Int("marked", marked).
		Msg("batch processing completed")

	return published, nil
}
