package forward

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"fleetguard/internal/config"
)

type redisSink struct {
	client  *redis.Client
	channel string
}

func newRedisSink(cfg config.ForwardRedisConfig) (Sink, error) {
	if cfg.Addr == "" || cfg.Channel == "" {
		return nil, errors.New("redis forward requires addr and channel")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisSink{client: client, channel: cfg.Channel}, nil
}

func (s *redisSink) Send(ctx context.Context, _ string, payload []byte) error {
	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
