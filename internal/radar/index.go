package radar

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fleetguard/internal/config"
	"fleetguard/internal/geo"
	"fleetguard/internal/model"
)

const (
	gridCellDegrees   = 0.02
	minReloadInterval = 10 * time.Second
)

var (
	ErrOverridesDisabled = errors.New("radius overrides disabled")
	ErrInvalidExternalID = errors.New("invalid external id")
	ErrInvalidRadius     = errors.New("invalid radius")
)

type Source struct {
	ID            int64   `json:"id"`
	ExternalID    string  `json:"external_id"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	SpeedLimitKph float64 `json:"speed_limit_kph"`
	RadiusMeters  float64 `json:"radius_meters"`
}

type index struct {
	cells        map[int64][]*Source
	count        int
	maxRadius    float64
	latCellRange int64
	sourcePath   string
	sourceMod    time.Time
	loadedAt     time.Time
}

type Manager struct {
	logger *slog.Logger
	cfg    atomic.Value
	index  atomic.Value

	mu              sync.Mutex
	lastReloadCheck time.Time
	warnedMissing   bool
	overrides       map[string]float64
	overridesMod    time.Time
}

func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	m := &Manager{logger: logger}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.cfg.Store(cfg)
}

func (m *Manager) config() *config.Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (m *Manager) current() *index {
	if v := m.index.Load(); v != nil {
		return v.(*index)
	}
	return nil
}

func (m *Manager) EnsureFresh(now time.Time) {
	cfg := m.config().Radar
	if !cfg.Enabled {
		return
	}
	interval := time.Duration(cfg.ReloadInterval)
	if interval < minReloadInterval {
		interval = minReloadInterval
	}
	m.mu.Lock()
	if m.current() != nil && now.Sub(m.lastReloadCheck) < interval {
		m.mu.Unlock()
		return
	}
	m.lastReloadCheck = now
	m.mu.Unlock()
	m.reload(cfg, now, false)
}

func (m *Manager) reload(cfg config.RadarConfig, now time.Time, force bool) {
	overrides, overridesChanged := m.loadOverrides(cfg)

	info, err := os.Stat(cfg.File)
	if err != nil {
		m.mu.Lock()
		warned := m.warnedMissing
		m.warnedMissing = true
		m.mu.Unlock()
		if !warned && m.logger != nil {
			m.logger.Warn("static radar catalog missing", "path", cfg.File, "err", err)
		}
		if m.current() == nil {
			m.index.Store(&index{cells: map[int64][]*Source{}, sourcePath: cfg.File, loadedAt: now})
		}
		return
	}
	m.mu.Lock()
	m.warnedMissing = false
	m.mu.Unlock()

	current := m.current()
	if !force && current != nil && current.sourcePath == cfg.File &&
		current.sourceMod.Equal(info.ModTime()) && current.count > 0 && !overridesChanged {
		return
	}

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("static radar catalog read error", "path", cfg.File, "err", err)
		}
		return
	}
	idx, err := buildIndex(cfg, data, overrides)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("static radar catalog parse error", "path", cfg.File, "err", err)
		}
		return
	}
	idx.sourcePath = cfg.File
	idx.sourceMod = info.ModTime()
	idx.loadedAt = now
	m.index.Store(idx)
	if m.logger != nil {
		m.logger.Info("static radar index loaded",
			"sources", idx.count,
			"cells", len(idx.cells),
			"max_radius_m", idx.maxRadius,
		)
	}
}

func buildIndex(cfg config.RadarConfig, data []byte, overrides map[string]float64) (*index, error) {
	var catalog struct {
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	idx := &index{cells: make(map[int64][]*Source)}
	synthetic := int64(-1)
	for _, feature := range catalog.Features {
		if !strings.EqualFold(feature.Geometry.Type, "Point") || len(feature.Geometry.Coordinates) < 2 {
			continue
		}
		lon := feature.Geometry.Coordinates[0]
		lat := feature.Geometry.Coordinates[1]
		if !isFinite(lat) || !isFinite(lon) {
			continue
		}
		props := model.Attributes(feature.Properties)
		speed, ok := props.Float("speedKph")
		if !ok || !isFinite(speed) || speed < cfg.MinSpeedKph || speed > cfg.MaxSpeedKph {
			continue
		}
		radius := props.FloatOr("radiusMeters", 0)
		if !isFinite(radius) || radius <= 0 {
			radius = cfg.RadiusMeters
		}
		externalID := strings.TrimSpace(props.StringOr("externalId", ""))
		if externalID != "" {
			if override, ok := overrides[externalID]; ok {
				radius = override
			}
		}
		var id int64
		if externalID != "" {
			if parsed, err := strconv.ParseInt(externalID, 10, 64); err == nil && parsed != 0 {
				id = parsed
			}
		}
		if id == 0 {
			id = synthetic
			synthetic--
		}
		label := externalID
		if label == "" {
			label = strconv.FormatInt(id, 10)
		}
		source := &Source{
			ID:            id,
			ExternalID:    externalID,
			Name:          fmt.Sprintf("Radar %d km/h #%s", int64(math.Round(speed)), label),
			Latitude:      lat,
			Longitude:     lon,
			SpeedLimitKph: speed,
			RadiusMeters:  radius,
		}
		key := bucketKey(cellOf(lat+90), cellOf(lon+180))
		idx.cells[key] = append(idx.cells[key], source)
		idx.count++
		if radius > idx.maxRadius {
			idx.maxRadius = radius
		}
	}
	idx.latCellRange = 1
	if idx.maxRadius > 0 {
		delta := geo.LatitudeDelta(idx.maxRadius)
		if r := int64(math.Ceil(delta / gridCellDegrees)); r > idx.latCellRange {
			idx.latCellRange = r
		}
	}
	return idx, nil
}

func (m *Manager) Match(lat, lon float64) *Source {
	idx := m.current()
	if idx == nil || idx.count == 0 {
		return nil
	}
	latCell := cellOf(lat + 90)
	lonCell := cellOf(lon + 180)
	lonRange := int64(1)
	if idx.maxRadius > 0 {
		delta := geo.LongitudeDelta(idx.maxRadius, lat)
		if isFinite(delta) && delta > 0 {
			if r := int64(math.Ceil(delta / gridCellDegrees)); r > lonRange {
				lonRange = r
			}
		}
	}
	var best *Source
	bestDist := math.MaxFloat64
	for dLat := -idx.latCellRange; dLat <= idx.latCellRange; dLat++ {
		for dLon := -lonRange; dLon <= lonRange; dLon++ {
			for _, source := range idx.cells[bucketKey(latCell+dLat, lonCell+dLon)] {
				dist := geo.DistanceMeters(lat, lon, source.Latitude, source.Longitude)
				if dist <= source.RadiusMeters && dist < bestDist {
					best = source
					bestDist = dist
				}
			}
		}
	}
	return best
}

func (m *Manager) SourceCount() int {
	if idx := m.current(); idx != nil {
		return idx.count
	}
	return 0
}

func (m *Manager) LoadedAt() time.Time {
	if idx := m.current(); idx != nil {
		return idx.loadedAt
	}
	return time.Time{}
}

func (m *Manager) loadOverrides(cfg config.RadarConfig) (map[string]float64, bool) {
	path := strings.TrimSpace(cfg.OverrideFile)
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == "" {
		changed := len(m.overrides) > 0
		m.overrides = nil
		m.overridesMod = time.Time{}
		return nil, changed
	}
	info, err := os.Stat(path)
	if err != nil {
		changed := len(m.overrides) > 0
		m.overrides = nil
		m.overridesMod = time.Time{}
		return nil, changed
	}
	if info.ModTime().Equal(m.overridesMod) {
		return m.overrides, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m.overrides, false
	}
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		if m.logger != nil {
			m.logger.Warn("radius override file parse error", "path", path, "err", err)
		}
		return m.overrides, false
	}
	clean := make(map[string]float64, len(raw))
	for key, radius := range raw {
		key = strings.TrimSpace(key)
		if key == "" || !isFinite(radius) || radius <= 0 {
			continue
		}
		clean[key] = radius
	}
	m.overrides = clean
	m.overridesMod = info.ModTime()
	return clean, true
}

func (m *Manager) Overrides() map[string]float64 {
	cfg := m.config().Radar
	overrides, _ := m.loadOverrides(cfg)
	out := make(map[string]float64, len(overrides))
	for key, radius := range overrides {
		out[key] = radius
	}
	return out
}

func (m *Manager) SetRadiusOverride(externalID string, radiusMeters float64) error {
	cfg := m.config().Radar
	path := strings.TrimSpace(cfg.OverrideFile)
	if path == "" {
		return ErrOverridesDisabled
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrInvalidExternalID
	}
	if !isFinite(radiusMeters) || radiusMeters <= 0 {
		return ErrInvalidRadius
	}
	m.mu.Lock()
	merged := make(map[string]float64, len(m.overrides)+1)
	for key, radius := range m.overrides {
		merged[key] = radius
	}
	merged[externalID] = radiusMeters
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		m.mu.Unlock()
		return err
	}
	m.overrides = merged
	if info, err := os.Stat(path); err == nil {
		m.overridesMod = info.ModTime()
	}
	m.mu.Unlock()
	m.reload(cfg, time.Now().UTC(), true)
	return nil
}

func bucketKey(latCell, lonCell int64) int64 {
	return latCell<<32 | (lonCell & 0xffffffff)
}

func cellOf(v float64) int64 {
	return int64(math.Floor(v / gridCellDegrees))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
