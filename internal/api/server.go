package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/events"
	"fleetguard/internal/radar"
	"fleetguard/internal/stats"
	"fleetguard/internal/storage"
)

const (
	minOverrideRadius = 5.0
	maxOverrideRadius = 200.0
)

// RadarControl is the slice of the radar manager the admin surface needs.
type RadarControl interface {
	Overrides() map[string]float64
	SetRadiusOverride(externalID string, radiusMeters float64) error
	SourceCount() int
	LoadedAt() time.Time
}

type Server struct {
	cfg      *config.Manager
	stats    *stats.Store
	ring     *events.Ring
	cache    *cache.Cache
	radars   RadarControl
	onReload func(cfg *config.Config)
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status        string           `json:"status"`
	Time          string           `json:"time"`
	Version       string           `json:"version"`
	ConfigPath    string           `json:"config_path"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Ingest        ingestStatus     `json:"ingest"`
	API           apiStatus        `json:"api"`
	Radars        radarStatus      `json:"radars"`
	Stats         map[string]int64 `json:"stats"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type radarStatus struct {
	Sources  int    `json:"sources"`
	LoadedAt string `json:"loaded_at,omitempty"`
}

// Start serves the operational API: liveness, stats, the recent-event
// ring, radar radius administration, device renames and config reload.
func Start(ctx context.Context, cfg *config.Manager, statsStore *stats.Store, ring *events.Ring, cacheStore *cache.Cache, radars RadarControl, onReload func(cfg *config.Config), logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		stats:    statsStore,
		ring:     ring,
		cache:    cacheStore,
		radars:   radars,
		onReload: onReload,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/stats", server.handleStats)
	mux.HandleFunc("/events/recent", server.handleRecentEvents)
	mux.HandleFunc("/admin/static-radars/radius", server.handleRadarRadius)
	mux.HandleFunc("/devices/", server.handleDevice)
	mux.HandleFunc("/config/reload", server.handleConfigReload)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	if s.stats != nil {
		resp.UptimeSeconds = int64(s.stats.Uptime().Seconds())
		resp.Stats = s.stats.Snapshot()
	}
	if s.radars != nil {
		resp.Radars.Sources = s.radars.SourceCount()
		if loaded := s.radars.LoadedAt(); !loaded.IsZero() {
			resp.Radars.LoadedAt = loaded.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{"stats": map[string]int64{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":          s.stats.Snapshot(),
		"started":        s.stats.Started().Format(time.RFC3339),
		"uptime_seconds": int64(s.stats.Uptime().Seconds()),
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	var list []events.Entry
	if s.ring != nil {
		list = s.ring.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleRadarRadius(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		overrides := map[string]float64{}
		if s.radars != nil {
			overrides = s.radars.Overrides()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"overrides": overrides,
			"count":     len(overrides),
		})
	case http.MethodPost:
		s.handleSetRadarRadius(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSetRadarRadius(w http.ResponseWriter, r *http.Request) {
	if s.radars == nil {
		writeError(w, http.StatusServiceUnavailable, "RADAR_DISABLED")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	var req struct {
		ExternalID   string   `json:"externalId"`
		RadiusMeters *float64 `json:"radiusMeters"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.RadiusMeters == nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_EXTERNAL_ID")
		return
	}
	radius := *req.RadiusMeters
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius < minOverrideRadius || radius > maxOverrideRadius {
		writeError(w, http.StatusBadRequest, "INVALID_RADIUS")
		return
	}
	radius = math.Round(radius*10) / 10

	if err := s.radars.SetRadiusOverride(externalID, radius); err != nil {
		switch {
		case errors.Is(err, radar.ErrInvalidExternalID):
			writeError(w, http.StatusBadRequest, "INVALID_EXTERNAL_ID")
		case errors.Is(err, radar.ErrInvalidRadius):
			writeError(w, http.StatusBadRequest, "INVALID_RADIUS")
		case errors.Is(err, radar.ErrOverridesDisabled):
			writeError(w, http.StatusConflict, "OVERRIDES_DISABLED")
		default:
			if s.logger != nil {
				s.logger.Error("radius override failed", "external_id", externalID, "err", err)
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"externalId":   externalID,
		"radiusMeters": radius,
	})
}

var deviceUpdateFields = map[string]bool{
	"id":       true,
	"name":     true,
	"category": true,
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cache == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/devices/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	for key := range fields {
		if !deviceUpdateFields[key] {
			writeError(w, http.StatusBadRequest, "unknown field: "+key)
			return
		}
	}
	if raw, ok := fields["id"]; ok {
		bodyID, ok := raw.(float64)
		if !ok || int64(bodyID) != id {
			writeError(w, http.StatusBadRequest, "id mismatch")
			return
		}
	}
	rawName, ok := fields["name"]
	if !ok {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	name, ok := rawName.(string)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	device, err := s.cache.Device(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	category := device.Category
	if raw, ok := fields["category"]; ok {
		value, ok := raw.(string)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid category")
			return
		}
		category = strings.TrimSpace(value)
	}

	if err := s.cache.UpdateDeviceFields(r.Context(), id, name, category); err != nil {
		if s.logger != nil {
			s.logger.Error("device update failed", "device_id", id, "err", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"name":     name,
		"category": category,
	})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg, err := s.cfg.Reload()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("config reload failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	if s.onReload != nil {
		s.onReload(cfg)
	}
	if s.logger != nil {
		s.logger.Info("config reloaded", "path", s.cfg.Path())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"config_path": s.cfg.Path(),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
