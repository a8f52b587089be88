//nolint:hugeParam // test only
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"hotcold/pkg/clock"
	"hotcold/pkg/hotcold"
	"hotcold/pkg/leveled"
	"hotcold/pkg/metrics"
	"hotcold/pkg/policy"
	"hotcold/pkg/table"
	"hotcold/pkg/types"
)

type fakeSink struct {
	err error
}

func (f *fakeSink) Dump(*table.Table) error { return f.err }

// newTestServer wires a real system with small bounds: 1-byte keys and
// values make 10 byte entries, so the fifth distinct key overflows staging.
func newTestServer(t *testing.T, sink *fakeSink) (*Server, chan []types.Record, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	ix, err := leveled.New(nil, []int{1, 2}, 20, sink, leveled.WithMetrics(reg))
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	sys, err := hotcold.New(ix, policy.AllCold{}, 45, hotcold.WithMetrics(reg))
	if err != nil {
		t.Fatalf("failed to create system: %v", err)
	}
	cold := make(chan []types.Record, 8)
	return NewServer(sys, clock.New(0), cold, reg, ""), cold, reg
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response JSON: %v, body=%s", err, rr.Body.String())
	}
	return resp
}

func put(t *testing.T, s *Server, key, value string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	form.Set("key", key)
	form.Set("value", value)
	req := httptest.NewRequest(http.MethodPut, "/api/record", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	return rr
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSink{})

	rr := get(s, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	resp := decodeResp(t, rr)
	if resp.Status != StatusOK {
		t.Fatalf("expected status %s, got %s", StatusOK, resp.Status)
	}
}

func TestPutGetDeleteFlow(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSink{})

	// PUT
	rr := put(t, s, "f", "b")
	if rr.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resp := decodeResp(t, rr)
	if resp.Status != StatusSuccess || resp.SeqN != 1 {
		t.Fatalf("put: unexpected response %+v", resp)
	}

	// GET
	rr = get(s, "/api/record?key=f")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resp = decodeResp(t, rr)
	if resp.Value != "b" || resp.Tier != hotcold.TierStaging {
		t.Fatalf("get: unexpected response %+v", resp)
	}

	// DELETE
	req := httptest.NewRequest(http.MethodDelete, "/api/record?key=f", nil)
	rr = httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if resp = decodeResp(t, rr); resp.SeqN != 2 {
		t.Fatalf("delete: expected seqn 2, got %d", resp.SeqN)
	}

	// GET after delete -> 404
	rr = get(s, "/api/record?key=f")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete: expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestColdRecordsGoToFlusher(t *testing.T) {
	s, cold, _ := newTestServer(t, &fakeSink{})

	for _, k := range []string{"a", "b", "c", "d"} {
		if rr := put(t, s, k, "v"); rr.Code != http.StatusOK {
			t.Fatalf("put %s: got %d", k, rr.Code)
		}
	}
	if len(cold) != 0 {
		t.Fatalf("expected no cold batch yet, got %d", len(cold))
	}

	rr := put(t, s, "e", "v")
	if resp := decodeResp(t, rr); resp.Cold != 5 {
		t.Fatalf("expected 5 cold records, got %+v", resp)
	}

	batch := <-cold
	if len(batch) != 5 || string(batch[0].Key) != "a" || string(batch[4].Key) != "e" {
		t.Fatalf("unexpected cold batch %v", batch)
	}

	rr = get(s, "/metrics")
	if !strings.Contains(rr.Body.String(), metrics.ColdRecords+" 5") {
		t.Fatalf("metrics missing cold counter:\n%s", rr.Body.String())
	}
}

func TestLevelsHandler(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSink{})
	put(t, s, "a", "v")

	rr := get(s, "/api/levels")
	if rr.Code != http.StatusOK {
		t.Fatalf("levels: expected 200, got %d", rr.Code)
	}
	var st hotcold.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if st.StagingEntries != 1 || len(st.Levels) != 2 || st.Levels[1].Capacity != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestWriteErrors(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSink{})

	rr := put(t, s, "k", strings.Repeat("x", 64))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("too-large: expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}

	if got := statusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestMissingParamsAndMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSink{})

	// PUT missing params
	req := httptest.NewRequest(http.MethodPut, "/api/record", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("put-missing: expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}

	// GET missing key
	rr = get(s, "/api/record")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("get-missing: expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}

	// DELETE missing key
	req = httptest.NewRequest(http.MethodDelete, "/api/record", nil)
	rr = httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("delete-missing: expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Method not allowed: POST to /health
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	rr = httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method-not-allowed: expected 405, got %d body=%s", rr.Code, rr.Body.String())
	}
}
