package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/events"
	"fleetguard/internal/model"
	"fleetguard/internal/stats"
	"fleetguard/internal/storage"
)

type fakeStore struct {
	storage.Store

	mu      sync.Mutex
	devices map[int64]model.Device
}

func (f *fakeStore) GetDevice(_ context.Context, id int64) (*model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &device, nil
}

func (f *fakeStore) UpdateDeviceFields(_ context.Context, id int64, name, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[id]
	if !ok {
		return storage.ErrNotFound
	}
	device.Name = name
	device.Category = category
	f.devices[id] = device
	return nil
}

type fakeRadars struct {
	mu        sync.Mutex
	overrides map[string]float64
	err       error
	sources   int
}

func (f *fakeRadars) Overrides() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.overrides))
	for key, radius := range f.overrides {
		out[key] = radius
	}
	return out
}

func (f *fakeRadars) SetRadiusOverride(externalID string, radiusMeters float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.overrides == nil {
		f.overrides = map[string]float64{}
	}
	f.overrides[externalID] = radiusMeters
	return nil
}

func (f *fakeRadars) SourceCount() int { return f.sources }

func (f *fakeRadars) LoadedAt() time.Time { return time.Time{} }

func testManager(t *testing.T) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func newServerForTest(t *testing.T) (*Server, *fakeStore, *fakeRadars) {
	t.Helper()
	store := &fakeStore{devices: map[int64]model.Device{
		5: {ID: 5, Name: "Truck 5", Category: "truck"},
	}}
	radars := &fakeRadars{overrides: map[string]float64{"R1": 40}, sources: 2}
	server := &Server{
		cfg:    testManager(t),
		stats:  stats.NewStore(),
		ring:   events.NewRing(16),
		cache:  cache.New(store),
		radars: radars,
	}
	return server, store, radars
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHandleStatus(t *testing.T) {
	server, _, _ := newServerForTest(t)
	server.stats.Inc(stats.PositionsIngested)

	rr := httptest.NewRecorder()
	server.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
	if path, ok := body["config_path"].(string); !ok || path == "" {
		t.Fatalf("config path missing")
	}
	counters, ok := body["stats"].(map[string]any)
	if !ok || counters[stats.PositionsIngested] != float64(1) {
		t.Fatalf("stats snapshot missing: %v", body["stats"])
	}
	radars, ok := body["radars"].(map[string]any)
	if !ok || radars["sources"] != float64(2) {
		t.Fatalf("radar status missing: %v", body["radars"])
	}
}

func TestHandleRecentEvents(t *testing.T) {
	server, _, _ := newServerForTest(t)
	for i := 1; i <= 3; i++ {
		server.ring.Add(model.Event{Type: model.TypeIgnitionOn, DeviceID: int64(i)})
	}

	rr := httptest.NewRecorder()
	server.handleRecentEvents(rr, httptest.NewRequest(http.MethodGet, "/events/recent?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["count"] != float64(2) {
		t.Fatalf("count = %v", body["count"])
	}

	rr = httptest.NewRecorder()
	server.handleRecentEvents(rr, httptest.NewRequest(http.MethodGet, "/events/recent?limit=nope", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}
}

func TestHandleRadarRadiusValidation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing radius", `{"externalId":"R1"}`, "INVALID_REQUEST"},
		{"not json", `radius=60`, "INVALID_REQUEST"},
		{"blank id", `{"externalId":"  ","radiusMeters":60}`, "INVALID_EXTERNAL_ID"},
		{"radius low", `{"externalId":"R1","radiusMeters":4.9}`, "INVALID_RADIUS"},
		{"radius high", `{"externalId":"R1","radiusMeters":200.1}`, "INVALID_RADIUS"},
	}
	for _, tc := range cases {
		server, _, _ := newServerForTest(t)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/static-radars/radius", strings.NewReader(tc.body))
		server.handleRadarRadius(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.name, rr.Code)
		}
		if body := decodeBody(t, rr); body["error"] != tc.wantErr {
			t.Fatalf("%s: error = %v, want %s", tc.name, body["error"], tc.wantErr)
		}
	}
}

func TestHandleRadarRadiusRoundsAndPersists(t *testing.T) {
	server, _, radars := newServerForTest(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/static-radars/radius", strings.NewReader(`{"externalId":"R2","radiusMeters":62.57}`))
	server.handleRadarRadius(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["radiusMeters"] != 62.6 {
		t.Fatalf("radius = %v, want 62.6", body["radiusMeters"])
	}
	if radars.overrides["R2"] != 62.6 {
		t.Fatalf("override not persisted: %v", radars.overrides)
	}

	rr = httptest.NewRecorder()
	server.handleRadarRadius(rr, httptest.NewRequest(http.MethodGet, "/admin/static-radars/radius", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	overrides, ok := decodeBody(t, rr)["overrides"].(map[string]any)
	if !ok || overrides["R2"] != 62.6 {
		t.Fatalf("overrides = %v", overrides)
	}
}

func TestHandleDevicePatch(t *testing.T) {
	server, store, _ := newServerForTest(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/devices/5", strings.NewReader(`{"id":5,"name":"  Truck 5B ","category":"van"}`))
	server.handleDevice(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	store.mu.Lock()
	device := store.devices[5]
	store.mu.Unlock()
	if device.Name != "Truck 5B" || device.Category != "van" {
		t.Fatalf("device not updated: %+v", device)
	}
}

func TestHandleDevicePatchValidation(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
		code int
	}{
		{"unknown field", "/devices/5", `{"name":"A","color":"red"}`, http.StatusBadRequest},
		{"missing name", "/devices/5", `{"category":"van"}`, http.StatusBadRequest},
		{"blank name", "/devices/5", `{"name":"   "}`, http.StatusBadRequest},
		{"id mismatch", "/devices/5", `{"id":6,"name":"A"}`, http.StatusBadRequest},
		{"bad id", "/devices/zero", `{"name":"A"}`, http.StatusBadRequest},
		{"not found", "/devices/404", `{"name":"A"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		server, _, _ := newServerForTest(t)
		rr := httptest.NewRecorder()
		server.handleDevice(rr, httptest.NewRequest(http.MethodPatch, tc.path, strings.NewReader(tc.body)))
		if rr.Code != tc.code {
			t.Fatalf("%s: status = %d, want %d", tc.name, rr.Code, tc.code)
		}
	}

	server, _, _ := newServerForTest(t)
	rr := httptest.NewRecorder()
	server.handleDevice(rr, httptest.NewRequest(http.MethodGet, "/devices/5", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("get status = %d", rr.Code)
	}
}

func TestHandleConfigReload(t *testing.T) {
	server, _, _ := newServerForTest(t)
	reloaded := false
	server.onReload = func(cfg *config.Config) {
		if cfg == nil {
			t.Fatalf("nil config on reload")
		}
		reloaded = true
	}

	rr := httptest.NewRecorder()
	server.handleConfigReload(rr, httptest.NewRequest(http.MethodPost, "/config/reload", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if !reloaded {
		t.Fatalf("listener not called")
	}

	rr = httptest.NewRecorder()
	server.handleConfigReload(rr, httptest.NewRequest(http.MethodGet, "/config/reload", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("get status = %d", rr.Code)
	}
}
