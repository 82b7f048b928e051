package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultTopic is the topic trade events are written to.
const DefaultTopic = "ledger.transactions"

// KafkaConfig configures KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // Default: 10ms
	MaxAttempts  int           // Default: 3
}

// KafkaPublisher writes trade events to a Kafka topic. Messages are keyed by
// instrument name so events for one instrument land on one partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher for cfg.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		BatchTimeout:           cfg.BatchTimeout,
	}

	logger.Info("kafka publisher created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return &KafkaPublisher{
		writer: writer,
		topic:  cfg.Topic,
		logger: logger.Named("events"),
	}, nil
}

// Publish writes one event and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, event TradeEvent) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write trade event %d: %w", event.ID, err)
	}

	p.logger.Debug("trade event published",
		zap.String("topic", p.topic),
		zap.Int64("id", event.ID),
		zap.String("crypto_name", event.CryptoName))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message encodes event as a Kafka message keyed by instrument name.
func Message(event TradeEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal trade event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.CryptoName),
		Value: value,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.EventID)},
		},
	}, nil
}
