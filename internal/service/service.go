package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleetguard/internal/api"
	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/evaluator"
	"fleetguard/internal/events"
	"fleetguard/internal/forward"
	"fleetguard/internal/ingest"
	"fleetguard/internal/model"
	"fleetguard/internal/notification"
	"fleetguard/internal/radar"
	"fleetguard/internal/schedule"
	"fleetguard/internal/stats"
	"fleetguard/internal/storage"
)

const configWatchInterval = 30 * time.Second

// Service owns every component of the pipeline and their lifecycle:
// ingest sources feed the position channel, the evaluator fans out to
// workers, events flow through the notification manager, and scheduled
// jobs run beside them.
type Service struct {
	cfg     *config.Manager
	logger  *slog.Logger
	version string

	store     storage.Store
	cache     *cache.Cache
	stats     *stats.Store
	ring      *events.Ring
	radars    *radar.Manager
	forwarder *forward.Forwarder
	manager   *notification.Manager
	evaluator *evaluator.Evaluator
	summary   *schedule.SummaryTask
	dedupe    *schedule.DedupeTask
	scheduler *schedule.Scheduler

	positions chan model.Position
	cancel    context.CancelFunc
}

func New(cfgMgr *config.Manager, logger *slog.Logger, version string) (*Service, error) {
	cfg := cfgMgr.Get()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	cacheStore := cache.New(store)
	statsStore := stats.NewStore()
	ring := events.NewRing(cfg.Events.StoreLimit)
	radars := radar.NewManager(cfg, logger)

	forwarder, err := forward.NewForwarder(cfg, logger, cacheStore, statsStore)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("build forwarder: %w", err)
	}

	senders := notification.BuildSenders(cfg, logger, ring)
	manager := notification.NewManager(cfg, logger, store, cacheStore, statsStore, forwarder, senders)
	eval := evaluator.NewEvaluator(cfg, logger, cacheStore, store, statsStore, radars, manager)

	push := notification.NewPushSender(cfg.Senders.Push, logger)
	summary := schedule.NewSummaryTask(cfg, logger, store, cacheStore, push, statsStore)
	dedupe := schedule.NewDedupeTask(logger, store, statsStore)

	buffer := cfg.Ingest.ChannelBuffer
	if buffer < 1 {
		buffer = 1
	}

	return &Service{
		cfg:       cfgMgr,
		logger:    logger,
		version:   version,
		store:     store,
		cache:     cacheStore,
		stats:     statsStore,
		ring:      ring,
		radars:    radars,
		forwarder: forwarder,
		manager:   manager,
		evaluator: eval,
		summary:   summary,
		dedupe:    dedupe,
		positions: make(chan model.Position, buffer),
	}, nil
}

// Start brings the pipeline up. Components shut themselves down when ctx
// is cancelled; Stop waits for the scheduled jobs.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	cfg := s.cfg.Get()

	if s.store != nil {
		initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
		err := s.store.Init(initCtx)
		initCancel()
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		if err := s.cache.Warm(ctx); err != nil && s.logger != nil {
			s.logger.Warn("cache warm failed", "err", err)
		}
		if cfg.Notifications.ProvisionDefaults {
			if err := schedule.ProvisionDefaults(ctx, s.logger, s.store, s.cache); err != nil && s.logger != nil {
				s.logger.Warn("default notification provisioning failed", "err", err)
			}
		}
	}

	s.evaluator.Start(ctx, s.positions)

	ingest.StartKafka(ctx, s.cfg, s.positions, s.logger, s.stats)
	ingest.StartREST(ctx, s.cfg, s.positions, s.logger, s.stats)
	ingest.StartFileTail(ctx, s.cfg, s.positions, s.logger, s.stats)

	api.Start(ctx, s.cfg, s.stats, s.ring, s.cache, s.radars, s.applyConfig, s.logger, s.version)

	s.scheduler = schedule.NewScheduler(s.logger)
	s.scheduler.Add("daily_summary", time.Minute, s.summary.Run)
	if cfg.Dedupe.Enabled {
		s.scheduler.Add("notification_dedupe", time.Duration(cfg.Dedupe.Interval), s.dedupe.Run)
	}
	if s.store != nil && cfg.Stats.PersistInterval > 0 {
		s.scheduler.Add("stats_persist", time.Duration(cfg.Stats.PersistInterval), s.persistStats)
	}
	s.scheduler.Start(ctx)

	go s.watchConfig(ctx)

	if s.logger != nil {
		s.logger.Info("service started",
			"version", s.version,
			"storage", cfg.Storage.Enabled,
			"workers", cfg.Pipeline.Workers,
			"buffer", cap(s.positions))
	}
	return nil
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.forwarder != nil {
		_ = s.forwarder.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.logger != nil {
		s.logger.Info("service stopped")
	}
}

// applyConfig fans a new snapshot out to every component that holds one.
func (s *Service) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.evaluator.UpdateConfig(cfg)
	s.radars.UpdateConfig(cfg)
	s.manager.UpdateConfig(cfg)
	s.summary.UpdateConfig(cfg)
	if s.logger != nil {
		s.logger.Info("configuration applied")
	}
}

func (s *Service) watchConfig(ctx context.Context) {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	s.cfg.Watch(configWatchInterval,
		func(cfg *config.Config) { s.applyConfig(cfg) },
		func(err error) {
			if s.logger != nil {
				s.logger.Warn("config reload failed", "err", err)
			}
		},
		stop)
}

func (s *Service) persistStats(ctx context.Context) {
	if err := s.store.SaveStats(ctx, s.stats.Snapshot()); err != nil && s.logger != nil {
		s.logger.Warn("stats persist failed", "err", err)
	}
}
