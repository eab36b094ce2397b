package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fleetguard/internal/config"
)

func TestServiceLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `log_level: error
storage:
  enabled: false
ingest:
  rest:
    enabled: false
api:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	svc, err := New(mgr, nil, "test")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	svc.applyConfig(nil)
	svc.applyConfig(mgr.Get())

	cancel()
	svc.Stop()
}
