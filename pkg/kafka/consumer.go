// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Producers serialise events as JSON; consumers hand
// each message to a MessageHandler and commit it once handled.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ippousyuga/search-lucene/pkg/config"
	"github.com/ippousyuga/search-lucene/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// ErrPoison marks a message that can never be handled. It is logged and
// committed instead of retried.
var ErrPoison = errors.New("unprocessable message")

// MessageHandler is invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic as a member of the configured consumer group.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:  r,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts: 5,
			Retryable:   func(err error) bool { return !errors.Is(err, ErrPoison) },
		},
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start fetches and handles messages until ctx is cancelled. Failed
// messages are retried with backoff; a message still failing afterwards is
// left uncommitted and redelivered after a rebalance.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
		log.Debug("message received", "value_size", len(msg.Value))

		err = resilience.Retry(ctx, "handle message", c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		switch {
		case errors.Is(err, ErrPoison):
			log.Error("skipping unprocessable message", "error", err)
		case err != nil:
			log.Error("failed to process message", "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("failed to commit message", "error", err)
		}
	}
}

// DecodeJSON unmarshals a message value into T. Decode failures wrap
// ErrPoison.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding kafka message: %v", ErrPoison, err)
	}
	return result, nil
}
