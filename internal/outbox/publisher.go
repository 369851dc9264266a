// Package outbox relays slot lifecycle events from the slot_events table to
// Kafka.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/store"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

type Publisher struct {
	repo      store.OutboxRepository
	writer    MessageWriter
	logger    *slog.Logger
	topic     string
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(repo store.OutboxRepository, writer MessageWriter, logger *slog.Logger, cfg Config) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		repo:      repo,
		writer:    writer,
		logger:    logger,
		topic:     cfg.Topic,
		pollEvery: cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// NewKafkaWriter builds a writer that keeps events of one slot on one
// partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll so a backlog drains without waiting for the ticker.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			n, err := p.PublishOnce(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Error("outbox publish failed", slog.Any("err", err))
				}
				break
			}
			if n < p.batchSize {
				break
			}
		}
	}
}

// PublishOnce relays a single batch and reports how many events were marked
// published.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	n, err := p.repo.PublishBatch(ctx, p.batchSize, func(ctx context.Context, events []domain.SlotEvent) error {
		msgs := make([]kafka.Message, 0, len(events))
		for _, ev := range events {
			msgs = append(msgs, p.message(ctx, ev))
		}
		return p.writer.WriteMessages(ctx, msgs...)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Debug("outbox batch published", slog.Int("count", n))
	}
	return n, nil
}

func (p *Publisher) message(ctx context.Context, ev domain.SlotEvent) kafka.Message {
	msg := kafka.Message{
		Key:   []byte(ev.AggregateID.String()),
		Value: ev.Payload,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID.String())},
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "owner_id", Value: []byte(ev.OwnerID)},
		},
	}
	// The writer carries the topic when one is configured; kafka-go rejects
	// messages that set it twice.
	if p.topic == "" {
		msg.Topic = string(ev.EventType)
	}
	carrier := &headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.headers
	return msg
}

// HeaderValue returns the first header named key.
func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	return HeaderValue(c.headers, key)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
