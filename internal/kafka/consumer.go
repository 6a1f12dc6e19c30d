package kafka

import (
	"context"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/segmentio/kafka-go"
)

type Message = kafka.Message

// Consumer reads one topic as part of a consumer group. Offsets are committed explicitly
// once a message has been applied.
type Consumer struct {
	r *kafka.Reader
}

// NewConsumer builds a group reader for topic from the shared Kafka settings.
func NewConsumer(cfg config.KafkaConfig, topic string) *Consumer {
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1 << 10
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	commit := time.Duration(cfg.CommitInterval) * time.Millisecond
	if commit <= 0 {
		commit = time.Second
	}

	return &Consumer{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID + "." + topic,
		Topic:          topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: commit,
		MaxWait:        50 * time.Millisecond,
	})}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }
