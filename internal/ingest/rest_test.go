package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetguard/internal/model"
	"fleetguard/internal/stats"
)

type intakeResponse struct {
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
}

func postPositions(t *testing.T, s *RESTServer, body string) (*httptest.ResponseRecorder, intakeResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/positions", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.handlePositions(rr, req)
	var resp intakeResponse
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rr, resp
}

func TestHandlePositionsSingleObject(t *testing.T) {
	out := make(chan model.Position, 4)
	server := &RESTServer{cfg: testManager(t), out: out, stats: stats.NewStore()}
	now := time.Now().UTC().Format(time.RFC3339)

	body := fmt.Sprintf(`{"deviceId":5,"fixTime":%q,"latitude":-23.5,"longitude":-46.6,"speed":10}`, now)
	rr, resp := postPositions(t, server, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp.Accepted != 1 || resp.Failed != 0 {
		t.Fatalf("accepted=%d failed=%d", resp.Accepted, resp.Failed)
	}

	select {
	case pos := <-out:
		if pos.DeviceID != 5 || pos.Speed != 10 {
			t.Fatalf("unexpected position: %+v", pos)
		}
	default:
		t.Fatalf("position not queued")
	}
}

func TestHandlePositionsArrayCountsFailures(t *testing.T) {
	out := make(chan model.Position, 4)
	st := stats.NewStore()
	server := &RESTServer{cfg: testManager(t), out: out, stats: st}
	now := time.Now().UTC().Format(time.RFC3339)

	body := fmt.Sprintf(`[
		{"deviceId":5,"fixTime":%q,"latitude":1,"longitude":2,"speed":3},
		{"fixTime":%q,"latitude":1,"longitude":2}
	]`, now, now)
	rr, resp := postPositions(t, server, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp.Accepted != 1 || resp.Failed != 1 {
		t.Fatalf("accepted=%d failed=%d", resp.Accepted, resp.Failed)
	}
	if st.Get(stats.PositionsInvalid) != 1 {
		t.Fatalf("invalid = %d", st.Get(stats.PositionsInvalid))
	}
	if len(out) != 1 {
		t.Fatalf("queued = %d", len(out))
	}
}

func TestHandlePositionsRejectsBadRequests(t *testing.T) {
	out := make(chan model.Position, 1)
	server := &RESTServer{cfg: testManager(t), out: out, stats: stats.NewStore()}

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	rr := httptest.NewRecorder()
	server.handlePositions(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("get status = %d", rr.Code)
	}

	for _, body := range []string{"", "   ", "not json", "[{]"} {
		rr, _ := postPositions(t, server, body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, rr.Code)
		}
	}
}
