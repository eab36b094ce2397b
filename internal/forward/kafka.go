package forward

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"fleetguard/internal/config"
)

type kafkaSink struct {
	writer *kafka.Writer
}

func newKafkaSink(cfg config.ForwardKafkaConfig) (Sink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka forward requires brokers and topic")
	}
	return &kafkaSink{writer: &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}, nil
}

func (s *kafkaSink) Send(ctx context.Context, key string, payload []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}
