package model

import (
	"testing"
	"time"
)

func TestAttributeConversions(t *testing.T) {
	attrs := Attributes{
		"name":    "radar",
		"limit":   "42.6",
		"count":   float64(7),
		"enabled": "true",
		"flag":    false,
		"when":    "2025-01-02T03:04:05Z",
	}
	if v, ok := attrs.String("name"); !ok || v != "radar" {
		t.Fatalf("string: got %q ok=%v", v, ok)
	}
	if v, ok := attrs.Float("limit"); !ok || v != 42.6 {
		t.Fatalf("float from string: got %v ok=%v", v, ok)
	}
	if v, ok := attrs.Int("limit"); !ok || v != 43 {
		t.Fatalf("int rounding: got %d ok=%v", v, ok)
	}
	if v, ok := attrs.Int("count"); !ok || v != 7 {
		t.Fatalf("int from number: got %d ok=%v", v, ok)
	}
	if v, ok := attrs.Bool("enabled"); !ok || !v {
		t.Fatalf("bool from string: got %v ok=%v", v, ok)
	}
	if !attrs.BoolOr("missing", true) {
		t.Fatalf("BoolOr fallback not applied")
	}
	if attrs.BoolOr("flag", true) {
		t.Fatalf("BoolOr ignored explicit false")
	}
	want := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if v, ok := attrs.Time("when"); !ok || !v.Equal(want) {
		t.Fatalf("time: got %v ok=%v", v, ok)
	}
	if _, ok := attrs.Time("name"); ok {
		t.Fatalf("time parsed from non-timestamp")
	}
}

func TestAttributeSection(t *testing.T) {
	attrs := Attributes{
		"maintenance": map[string]any{
			"oil": map[string]any{"intervalKm": float64(1000)},
		},
	}
	maintenance, ok := attrs.Section("maintenance")
	if !ok {
		t.Fatalf("maintenance section missing")
	}
	oil, ok := maintenance.Section("oil")
	if !ok {
		t.Fatalf("oil section missing")
	}
	if v, ok := oil.Int("intervalKm"); !ok || v != 1000 {
		t.Fatalf("nested int: got %d ok=%v", v, ok)
	}
	if _, ok := attrs.Section("absent"); ok {
		t.Fatalf("section reported for absent key")
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" push, mail ,,web ")
	if len(got) != 3 || got[0] != "push" || got[1] != "mail" || got[2] != "web" {
		t.Fatalf("unexpected parts: %v", got)
	}
	if SplitCSV("  ") != nil {
		t.Fatalf("blank input should yield nil")
	}
}

func TestOverspeedStateMapping(t *testing.T) {
	since := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	device := Device{OverspeedState: true, OverspeedTime: since, OverspeedGeofenceID: 9}
	state := OverspeedStateOf(device)
	if state.Phase != OverspeedExceeding || !state.Since.Equal(since) || state.GeofenceID != 9 {
		t.Fatalf("unexpected exceeding state: %+v", state)
	}

	flag, at, geofence := state.Columns()
	if !flag || !at.Equal(since) || geofence != 9 {
		t.Fatalf("unexpected exceeding columns: %v %v %d", flag, at, geofence)
	}

	state = OverspeedStateOf(Device{OverspeedState: true})
	if state.Phase != OverspeedReported {
		t.Fatalf("expected reported phase, got %+v", state)
	}
	flag, at, geofence = state.Columns()
	if !flag || !at.IsZero() || geofence != 0 {
		t.Fatalf("reported columns must clear time and geofence: %v %v %d", flag, at, geofence)
	}

	state = OverspeedStateOf(Device{})
	if state.Flag() {
		t.Fatalf("idle state must not flag")
	}
}
