package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetguard/internal/model"
	"fleetguard/internal/stats"
)

func TestTailFileReplaysPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.ndjson")
	now := time.Now().UTC().Format(time.RFC3339)
	lines := fmt.Sprintf(`{"deviceId":1,"fixTime":%q,"latitude":1,"longitude":2,"speed":5}
not json

{"deviceId":2,"fixTime":%q,"latitude":3,"longitude":4,"speed":0}
`, now, now)
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	out := make(chan model.Position, 8)
	st := stats.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tailFile(ctx, path, false, testManager(t), out, nil, st)

	var got []model.Position
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case pos := <-out:
			got = append(got, pos)
		case <-deadline:
			t.Fatalf("timed out after %d positions", len(got))
		}
	}
	if got[0].DeviceID != 1 || got[1].DeviceID != 2 {
		t.Fatalf("devices = %d,%d", got[0].DeviceID, got[1].DeviceID)
	}
	if st.Get(stats.PositionsInvalid) != 1 {
		t.Fatalf("invalid = %d", st.Get(stats.PositionsInvalid))
	}
}

func TestTailFileStartAtEndSkipsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.ndjson")
	now := time.Now().UTC().Format(time.RFC3339)
	old := fmt.Sprintf(`{"deviceId":1,"fixTime":%q,"latitude":1,"longitude":2,"speed":5}`+"\n", now)
	if err := os.WriteFile(path, []byte(old), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	out := make(chan model.Position, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tailFile(ctx, path, true, testManager(t), out, nil, stats.NewStore())

	// Keep appending until the tail catches the live stream; the first
	// delivery must be an appended position, never the pre-existing one.
	appended := fmt.Sprintf(`{"deviceId":9,"fixTime":%q,"latitude":3,"longitude":4,"speed":1}`+"\n", now)
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatalf("open append: %v", err)
		}
		if _, err := f.WriteString(appended); err != nil {
			t.Fatalf("append: %v", err)
		}
		_ = f.Close()

		select {
		case pos := <-out:
			if pos.DeviceID != 9 {
				t.Fatalf("device = %d, want only appended positions", pos.DeviceID)
			}
			return
		case <-time.After(100 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatalf("appended position never delivered")
			}
		}
	}
}
