package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the channel needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configure the alert topic producer.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaWriter builds a synchronous writer keyed by symbol.
func NewKafkaWriter(opts KafkaOptions) (*kafka.Writer, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: timeout,
	}, nil
}

// KafkaChannel publishes each event as a JSON message keyed by symbol.
type KafkaChannel struct {
	writer MessageWriter
	logger zerolog.Logger
}

// NewKafkaChannel wraps a writer.
func NewKafkaChannel(writer MessageWriter, logger zerolog.Logger) *KafkaChannel {
	return &KafkaChannel{writer: writer, logger: logger.With().Str("component", "alert_kafka").Logger()}
}

// Name implements Channel.
func (k *KafkaChannel) Name() string { return "kafka" }

// Send implements Channel.
func (k *KafkaChannel) Send(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal alert event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Symbol),
			Value: value,
			Time:  ev.Timestamp,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	k.logger.Debug().Int("events", len(events)).Msg("alert events published")
	return nil
}

// Close releases the writer.
func (k *KafkaChannel) Close() error { return k.writer.Close() }

var _ Channel = (*KafkaChannel)(nil)
