package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
	"fleetguard/internal/stats"
)

// StartKafka consumes JSON positions from the configured topic as part of
// a consumer group and feeds them to the pipeline channel.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Position, logger *slog.Logger, st *stats.Store) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			rec, err := DecodePosition(m.Value)
			if err != nil {
				if st != nil {
					st.Inc(stats.PositionsInvalid)
				}
				if logger != nil {
					logger.Warn("kafka decode error", "err", err)
				}
				continue
			}
			pos, err := normalize.Normalize(rec, time.Now().UTC(), cfg.Get())
			if err != nil {
				if st != nil {
					st.Inc(stats.PositionsInvalid)
				}
				if logger != nil {
					logger.Warn("kafka normalize error", "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, pos, "kafka", logger, st)
		}
	}()
}
