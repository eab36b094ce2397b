package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/model"
	"fleetguard/internal/stats"
)

type Sink interface {
	Send(ctx context.Context, key string, payload []byte) error
	Close() error
}

type Envelope struct {
	ID              string          `json:"id"`
	EmittedAt       time.Time       `json:"emitted_at"`
	Event           model.Event     `json:"event"`
	Position        *model.Position `json:"position,omitempty"`
	Device          *model.Device   `json:"device,omitempty"`
	Geofence        *model.Geofence `json:"geofence,omitempty"`
	MaintenanceName string          `json:"maintenance_name,omitempty"`
}

type Forwarder struct {
	logger  *slog.Logger
	cache   *cache.Cache
	stats   *stats.Store
	sink    Sink
	timeout time.Duration
}

func NewForwarder(cfg *config.Config, logger *slog.Logger, cacheStore *cache.Cache, statsStore *stats.Store) (*Forwarder, error) {
	if !cfg.Forward.Enabled {
		return nil, nil
	}
	var sink Sink
	var err error
	switch strings.ToLower(cfg.Forward.Kind) {
	case "kafka":
		sink, err = newKafkaSink(cfg.Forward.Kafka)
	case "redis":
		sink, err = newRedisSink(cfg.Forward.Redis)
	case "nats":
		sink, err = newNATSSink(cfg.Forward.NATS)
	case "http":
		sink, err = newHTTPSink(cfg.Forward.HTTP)
	default:
		err = fmt.Errorf("unsupported forward kind %q", cfg.Forward.Kind)
	}
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Forward.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		logger:  logger,
		cache:   cacheStore,
		stats:   statsStore,
		sink:    sink,
		timeout: timeout,
	}, nil
}

func (f *Forwarder) Forward(event model.Event, position *model.Position) {
	go f.send(event, position)
}

func (f *Forwarder) send(event model.Event, position *model.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	envelope := Envelope{
		ID:        uuid.NewString(),
		EmittedAt: time.Now().UTC(),
		Event:     event,
		Position:  position,
	}
	if f.cache != nil {
		if device, err := f.cache.Device(ctx, event.DeviceID); err == nil {
			envelope.Device = device
		}
		if event.GeofenceID != 0 {
			if geofence, err := f.cache.Geofence(ctx, event.GeofenceID); err == nil {
				envelope.Geofence = geofence
			}
		}
	}
	if name, ok := event.Attributes.String("maintenanceName"); ok {
		envelope.MaintenanceName = name
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		if f.logger != nil {
			f.logger.Error("forward envelope encode failed", "err", err)
		}
		return
	}
	if err := f.sink.Send(ctx, strconv.FormatInt(event.DeviceID, 10), payload); err != nil {
		if f.stats != nil {
			f.stats.Inc(stats.ForwardsFailed)
		}
		if f.logger != nil {
			f.logger.Warn("event forward failed", "err", err, "type", event.Type, "device_id", event.DeviceID)
		}
		return
	}
	if f.stats != nil {
		f.stats.Inc(stats.ForwardsOK)
	}
	if f.logger != nil {
		f.logger.Debug("event forwarded", "type", event.Type, "device_id", event.DeviceID)
	}
}

func (f *Forwarder) Close() error {
	if f == nil || f.sink == nil {
		return nil
	}
	return f.sink.Close()
}
