package forward

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/model"
	"fleetguard/internal/stats"
)

type captureSink struct {
	mu       sync.Mutex
	keys     []string
	payloads [][]byte
	err      error
}

func (s *captureSink) Send(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, key)
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *captureSink) Close() error { return nil }

func TestForwardEnvelope(t *testing.T) {
	c := cache.New(nil)
	c.PutDevice(&model.Device{ID: 1, Name: "truck-01"})
	c.PutGeofence(&model.Geofence{ID: 7, Name: "depot"})
	sink := &captureSink{}
	f := &Forwarder{cache: c, stats: stats.NewStore(), sink: sink, timeout: time.Second}

	position := model.Position{DeviceID: 1, FixTime: time.Now().UTC(), Latitude: -23.5, Longitude: -46.6}
	event := model.NewEvent(model.TypeOilChangeDue, position)
	event.GeofenceID = 7
	event.Attributes["maintenanceName"] = "Troca de oleo"

	f.send(event, &position)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(sink.payloads))
	}
	if sink.keys[0] != "1" {
		t.Fatalf("expected device key 1, got %q", sink.keys[0])
	}
	var envelope Envelope
	if err := json.Unmarshal(sink.payloads[0], &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.ID == "" {
		t.Fatalf("expected envelope id")
	}
	if envelope.Event.Type != model.TypeOilChangeDue {
		t.Fatalf("expected event type, got %q", envelope.Event.Type)
	}
	if envelope.Device == nil || envelope.Device.ID != 1 {
		t.Fatalf("expected device context, got %+v", envelope.Device)
	}
	if envelope.Geofence == nil || envelope.Geofence.ID != 7 {
		t.Fatalf("expected geofence context, got %+v", envelope.Geofence)
	}
	if envelope.MaintenanceName != "Troca de oleo" {
		t.Fatalf("expected maintenance name, got %q", envelope.MaintenanceName)
	}
	if got := f.stats.Get(stats.ForwardsOK); got != 1 {
		t.Fatalf("expected 1 forward counted, got %d", got)
	}
}

func TestForwardFailureCounted(t *testing.T) {
	sink := &captureSink{err: errors.New("broker down")}
	f := &Forwarder{stats: stats.NewStore(), sink: sink, timeout: time.Second}

	event := model.NewEvent(model.TypeAlarm, model.Position{DeviceID: 2, FixTime: time.Now().UTC()})
	f.send(event, nil)

	if got := f.stats.Get(stats.ForwardsFailed); got != 1 {
		t.Fatalf("expected 1 failure counted, got %d", got)
	}
	if got := f.stats.Get(stats.ForwardsOK); got != 0 {
		t.Fatalf("expected no success counted, got %d", got)
	}
}

func TestNewForwarderDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	f, err := NewForwarder(cfg, nil, nil, nil)
	if err != nil || f != nil {
		t.Fatalf("expected nil forwarder when disabled, got %v %v", f, err)
	}
}

func TestNewForwarderUnsupportedKind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Forward.Enabled = true
	cfg.Forward.Kind = "carrier-pigeon"
	if _, err := NewForwarder(cfg, nil, nil, nil); err == nil {
		t.Fatalf("expected error for unsupported kind")
	}
}

func TestHTTPSinkDelivers(t *testing.T) {
	received := make(chan Envelope, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var envelope Envelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- envelope
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Forward.Enabled = true
	cfg.Forward.Kind = "http"
	cfg.Forward.HTTP.URL = server.URL
	cfg.Forward.HTTP.Token = "secret"
	f, err := NewForwarder(cfg, nil, nil, stats.NewStore())
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}

	event := model.NewEvent(model.TypeGeofenceEnter, model.Position{DeviceID: 3, FixTime: time.Now().UTC()})
	f.send(event, nil)

	select {
	case envelope := <-received:
		if envelope.Event.DeviceID != 3 {
			t.Fatalf("expected device 3, got %d", envelope.Event.DeviceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected delivery to http sink")
	}
	if got := f.stats.Get(stats.ForwardsOK); got != 1 {
		t.Fatalf("expected forward counted, got %d", got)
	}
}

func TestHTTPSinkRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink, err := newHTTPSink(config.ForwardHTTPConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Send(context.Background(), "1", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}
