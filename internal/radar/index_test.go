package radar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetguard/internal/config"
)

const catalogJSON = `{
	"type": "FeatureCollection",
	"features": [
		{
			"geometry": {"type": "Point", "coordinates": [-46.6333, -23.5505]},
			"properties": {"speedKph": 60, "externalId": "12345", "radiusMeters": 80}
		},
		{
			"geometry": {"type": "Point", "coordinates": [-46.6000, -23.5000]},
			"properties": {"speedKph": 80}
		},
		{
			"geometry": {"type": "Point", "coordinates": [-46.7000, -23.6000]},
			"properties": {"speedKph": 400, "externalId": "toofast"}
		},
		{
			"geometry": {"type": "LineString", "coordinates": [-46.0, -23.0]},
			"properties": {"speedKph": 60}
		}
	]
}`

func newTestManager(t *testing.T, withOverrides bool) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	catalog := filepath.Join(dir, "radars.geojson")
	if err := os.WriteFile(catalog, []byte(catalogJSON), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Radar.Enabled = true
	cfg.Radar.File = catalog
	cfg.Radar.RadiusMeters = 50
	if withOverrides {
		cfg.Radar.OverrideFile = filepath.Join(dir, "overrides.json")
	}
	m := NewManager(cfg, nil)
	m.EnsureFresh(time.Now().UTC())
	return m, dir
}

func TestMatchWithinRadius(t *testing.T) {
	m, _ := newTestManager(t, false)

	if m.SourceCount() != 2 {
		t.Fatalf("expected 2 indexed sources, got %d", m.SourceCount())
	}

	source := m.Match(-23.5505, -46.6333)
	if source == nil {
		t.Fatalf("expected match at radar location")
	}
	if source.ID != 12345 || source.SpeedLimitKph != 60 || source.RadiusMeters != 80 {
		t.Fatalf("unexpected source: %+v", source)
	}
	if source.Name != "Radar 60 km/h #12345" {
		t.Fatalf("unexpected name: %q", source.Name)
	}

	if m.Match(-23.5505+0.0005, -46.6333) == nil {
		t.Fatalf("expected match just inside radius")
	}
	if m.Match(-23.5505+0.005, -46.6333) != nil {
		t.Fatalf("expected no match outside radius")
	}
}

func TestDefaultRadiusAndSyntheticID(t *testing.T) {
	m, _ := newTestManager(t, false)

	source := m.Match(-23.5000, -46.6000)
	if source == nil {
		t.Fatalf("expected match for radar without externalId")
	}
	if source.ID >= 0 {
		t.Fatalf("expected synthetic negative id, got %d", source.ID)
	}
	if source.RadiusMeters != 50 {
		t.Fatalf("expected configured default radius, got %v", source.RadiusMeters)
	}

	if m.Match(-23.6000, -46.7000) != nil {
		t.Fatalf("expected over-limit feature to be skipped")
	}
}

func TestOverrideShrinksRadius(t *testing.T) {
	m, _ := newTestManager(t, true)

	if m.Match(-23.5505+0.0005, -46.6333) == nil {
		t.Fatalf("expected match before override")
	}

	if err := m.SetRadiusOverride("12345", 30); err != nil {
		t.Fatalf("set override: %v", err)
	}

	if m.Match(-23.5505+0.0005, -46.6333) != nil {
		t.Fatalf("expected no match after radius shrunk to 30 m")
	}
	source := m.Match(-23.5505, -46.6333)
	if source == nil || source.RadiusMeters != 30 {
		t.Fatalf("expected override applied at center, got %+v", source)
	}

	overrides := m.Overrides()
	if overrides["12345"] != 30 {
		t.Fatalf("override not visible: %v", overrides)
	}
}

func TestOverrideValidation(t *testing.T) {
	m, _ := newTestManager(t, true)

	if err := m.SetRadiusOverride("  ", 40); err != ErrInvalidExternalID {
		t.Fatalf("expected ErrInvalidExternalID, got %v", err)
	}
	if err := m.SetRadiusOverride("12345", 0); err != ErrInvalidRadius {
		t.Fatalf("expected ErrInvalidRadius, got %v", err)
	}

	disabled, _ := newTestManager(t, false)
	if err := disabled.SetRadiusOverride("12345", 40); err != ErrOverridesDisabled {
		t.Fatalf("expected ErrOverridesDisabled, got %v", err)
	}
}

func TestNearestSourceWins(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "radars.geojson")
	content := `{
		"features": [
			{"geometry": {"type": "Point", "coordinates": [-46.6333, -23.5505]},
			 "properties": {"speedKph": 60, "externalId": "100", "radiusMeters": 120}},
			{"geometry": {"type": "Point", "coordinates": [-46.6333, -23.5500]},
			 "properties": {"speedKph": 40, "externalId": "200", "radiusMeters": 120}}
		]
	}`
	if err := os.WriteFile(catalog, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Radar.Enabled = true
	cfg.Radar.File = catalog
	m := NewManager(cfg, nil)
	m.EnsureFresh(time.Now().UTC())

	source := m.Match(-23.5501, -46.6333)
	if source == nil || source.ID != 200 {
		t.Fatalf("expected nearest radar 200, got %+v", source)
	}
}

func TestCooldown(t *testing.T) {
	c := NewCooldown()
	t0 := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	if !c.Allow(1, 5, t0, time.Minute) {
		t.Fatalf("first alert must pass")
	}
	if c.Allow(1, 5, t0.Add(30*time.Second), time.Minute) {
		t.Fatalf("alert inside cooldown must be blocked")
	}
	if !c.Allow(1, 6, t0.Add(30*time.Second), time.Minute) {
		t.Fatalf("different source must not share cooldown")
	}
	if !c.Allow(2, 5, t0.Add(30*time.Second), time.Minute) {
		t.Fatalf("different device must not share cooldown")
	}
	if !c.Allow(1, 5, t0.Add(61*time.Second), time.Minute) {
		t.Fatalf("alert after cooldown must pass")
	}

	if !c.Allow(1, 5, t0, 0) || !c.Allow(1, 5, t0, 0) {
		t.Fatalf("zero cooldown must never block")
	}
}
