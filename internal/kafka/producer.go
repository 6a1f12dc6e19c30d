package kafka

import (
	"context"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/segmentio/kafka-go"
)

// Producer publishes keyed messages to a single topic. Messages with the same key land on
// the same partition.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
}

func (p *Producer) Close() error { return p.w.Close() }
