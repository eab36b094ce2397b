package normalize

import (
	"math"
	"testing"
	"time"

	"fleetguard/internal/config"
)

func TestParseTimestampLayouts(t *testing.T) {
	want := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		value string
	}{
		{"rfc3339", "2024-06-14T10:00:00Z"},
		{"rfc3339 offset", "2024-06-14T07:00:00-03:00"},
		{"space separated", "2024-06-14 10:00:00"},
		{"epoch seconds", "1718359200"},
		{"epoch millis", "1718359200000"},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.value)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.UTC().Equal(want) {
			t.Fatalf("%s: got %v, want %v", tc.name, got.UTC(), want)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "yesterday", "14/06/2024"} {
		if _, err := ParseTimestamp(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	now := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)

	pos, err := Normalize(Record{DeviceID: 7, Latitude: -23.5, Longitude: -46.6, Speed: 12}, now, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !pos.FixTime.Equal(now) || !pos.DeviceTime.Equal(now) || !pos.ServerTime.Equal(now) {
		t.Fatalf("times not defaulted: fix=%v device=%v server=%v", pos.FixTime, pos.DeviceTime, pos.ServerTime)
	}
	if !pos.Valid {
		t.Fatalf("validity should default to true")
	}
}

func TestNormalizeRejectsBadRecords(t *testing.T) {
	cfg := config.DefaultConfig()
	now := time.Now().UTC()
	cases := []struct {
		name string
		rec  Record
	}{
		{"missing device", Record{Latitude: 1, Longitude: 2}},
		{"latitude high", Record{DeviceID: 1, Latitude: 91, Longitude: 2}},
		{"longitude low", Record{DeviceID: 1, Latitude: 1, Longitude: -181}},
		{"latitude nan", Record{DeviceID: 1, Latitude: math.NaN(), Longitude: 2}},
		{"negative speed", Record{DeviceID: 1, Latitude: 1, Longitude: 2, Speed: -3}},
		{"speed inf", Record{DeviceID: 1, Latitude: 1, Longitude: 2, Speed: math.Inf(1)}},
		{"bad fix time", Record{DeviceID: 1, Latitude: 1, Longitude: 2, FixTime: "soon"}},
	}
	for _, tc := range cases {
		if _, err := Normalize(tc.rec, now, cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestNormalizeClampsSkewedFixTime(t *testing.T) {
	cfg := config.DefaultConfig()
	now := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)

	future := Record{DeviceID: 1, Latitude: 1, Longitude: 2, FixTime: now.Add(5 * time.Minute).Format(time.RFC3339)}
	pos, err := Normalize(future, now, cfg)
	if err != nil {
		t.Fatalf("future: %v", err)
	}
	if !pos.FixTime.Equal(now) {
		t.Fatalf("future fix time not clamped: %v", pos.FixTime)
	}

	stale := Record{DeviceID: 1, Latitude: 1, Longitude: 2, FixTime: now.Add(-31 * 24 * time.Hour).Format(time.RFC3339)}
	pos, err = Normalize(stale, now, cfg)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if !pos.FixTime.Equal(now) {
		t.Fatalf("stale fix time not clamped: %v", pos.FixTime)
	}

	recent := now.Add(-time.Hour)
	pos, err = Normalize(Record{DeviceID: 1, Latitude: 1, Longitude: 2, FixTime: recent.Format(time.RFC3339)}, now, cfg)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if !pos.FixTime.Equal(recent) {
		t.Fatalf("recent fix time altered: %v", pos.FixTime)
	}
}

func TestNormalizeDeviceTime(t *testing.T) {
	cfg := config.DefaultConfig()
	now := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	fix := now.Add(-2 * time.Minute)
	device := now.Add(-1 * time.Minute)

	rec := Record{
		DeviceID:   3,
		Latitude:   1,
		Longitude:  2,
		FixTime:    fix.Format(time.RFC3339),
		DeviceTime: device.Format(time.RFC3339),
	}
	pos, err := Normalize(rec, now, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !pos.DeviceTime.Equal(device) {
		t.Fatalf("device time = %v, want %v", pos.DeviceTime, device)
	}

	rec.DeviceTime = "not-a-time"
	pos, err = Normalize(rec, now, cfg)
	if err != nil {
		t.Fatalf("normalize fallback: %v", err)
	}
	if !pos.DeviceTime.Equal(fix) {
		t.Fatalf("device time fallback = %v, want %v", pos.DeviceTime, fix)
	}
}

func TestNormalizeExplicitValidity(t *testing.T) {
	cfg := config.DefaultConfig()
	invalid := false
	rec := Record{DeviceID: 2, Latitude: 1, Longitude: 2, Valid: &invalid}

	pos, err := Normalize(rec, time.Now().UTC(), cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if pos.Valid {
		t.Fatalf("validity flag lost")
	}
}
