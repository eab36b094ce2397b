package evaluator

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/model"
	"fleetguard/internal/radar"
	"fleetguard/internal/stats"
	"fleetguard/internal/storage"
)

const laneBuffer = 256

type Sink interface {
	Submit(ctx context.Context, event model.Event, position *model.Position)
}

type Evaluator struct {
	logger      *slog.Logger
	cache       *cache.Cache
	store       storage.Store
	stats       *stats.Store
	radars      *radar.Manager
	sink        Sink
	cooldown    *radar.Cooldown
	cfg         atomic.Value
	mu          sync.Mutex
	tireStates  map[int64]string
	oilNotified map[oilNotifyKey]string
}

func NewEvaluator(cfg *config.Config, logger *slog.Logger, cacheStore *cache.Cache, store storage.Store, statsStore *stats.Store, radars *radar.Manager, sink Sink) *Evaluator {
	e := &Evaluator{
		logger:      logger,
		cache:       cacheStore,
		store:       store,
		stats:       statsStore,
		radars:      radars,
		sink:        sink,
		cooldown:    radar.NewCooldown(),
		tireStates:  make(map[int64]string),
		oilNotified: make(map[oilNotifyKey]string),
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Evaluator) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Evaluator) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Evaluator) Start(ctx context.Context, in <-chan model.Position) {
	workers := e.config().Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	lanes := make([]chan model.Position, workers)
	for i := range lanes {
		lanes[i] = make(chan model.Position, laneBuffer)
		go func(lane <-chan model.Position) {
			for {
				select {
				case position := <-lane:
					e.ProcessPosition(position)
				case <-ctx.Done():
					return
				}
			}
		}(lanes[i])
	}
	go func() {
		for {
			select {
			case position := <-in:
				lane := lanes[int(position.DeviceID%int64(workers))]
				select {
				case lane <- position:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Evaluator) ProcessPosition(position model.Position) []model.Event {
	cfg := e.config()
	now := time.Now().UTC()
	position.FixTime = clampTimestamp(position.FixTime, now, time.Duration(cfg.Pipeline.MaxPastSkew), time.Duration(cfg.Pipeline.MaxFutureSkew))
	if position.ServerTime.IsZero() {
		position.ServerTime = now
	}

	ctx := context.Background()
	device, err := e.cache.Device(ctx, position.DeviceID)
	if err != nil {
		if e.stats != nil {
			e.stats.Inc(stats.PositionsUnknownDevice)
		}
		if e.logger != nil {
			e.logger.Debug("position for unknown device dropped", "device_id", position.DeviceID)
		}
		return nil
	}

	if e.store != nil {
		if err := e.store.SavePosition(ctx, &position); err != nil && e.logger != nil {
			e.logger.Warn("save position failed", "err", err, "device_id", position.DeviceID)
		}
	}

	previous, _ := e.cache.LastPosition(ctx, position.DeviceID)

	out := make([]model.Event, 0, 2)
	out = append(out, e.evaluateTransitions(&position, previous)...)
	if event := evaluateAlarm(&position); event != nil {
		out = append(out, *event)
	}
	if event := e.evaluateOverspeed(ctx, cfg, device, &position, previous); event != nil {
		out = append(out, *event)
	}
	if event := e.evaluateOil(device, &position, previous); event != nil {
		out = append(out, *event)
	}
	if event := e.evaluateTire(device, &position); event != nil {
		out = append(out, *event)
	}

	if previous == nil || !position.FixTime.Before(previous.FixTime) {
		e.cache.SetLastPosition(&position)
	}

	for i := range out {
		if e.stats != nil {
			e.stats.IncEvent(out[i].Type)
		}
		if e.sink != nil {
			e.sink.Submit(ctx, out[i], &position)
		}
	}
	if e.stats != nil {
		e.stats.Inc(stats.PositionsProcessed)
	}
	return out
}

func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.tireStates = make(map[int64]string)
	e.oilNotified = make(map[oilNotifyKey]string)
	e.mu.Unlock()
	e.cooldown.Reset()
}

// RemoveDevice clears per-device state after a device deletion signal.
func (e *Evaluator) RemoveDevice(id int64) {
	prefix := strconv.FormatInt(id, 10) + "|"
	e.mu.Lock()
	delete(e.tireStates, id)
	for key := range e.oilNotified {
		if strings.HasPrefix(key.cycle, prefix) {
			delete(e.oilNotified, key)
		}
	}
	e.mu.Unlock()
	e.cooldown.RemoveDevice(id)
	if e.cache != nil {
		e.cache.InvalidateDevice(id)
	}
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts
}
