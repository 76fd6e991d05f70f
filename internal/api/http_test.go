package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

type historyStub struct {
	target string
	limit  int
	err    error
}

func (h *historyStub) MineTarget(_ context.Context, target string, limit int) (models.HistorySummary, error) {
	h.target, h.limit = target, limit
	if h.err != nil {
		return models.HistorySummary{}, h.err
	}
	return models.HistorySummary{Target: target, Cycles: 4, Flaps: 1}, nil
}

func testMux(history HistoryMiner) *http.ServeMux {
	return newMux(prometheus.NewRegistry(), nil, history, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestHistoryEndpoint(t *testing.T) {
	stub := &historyStub{}
	rec := httptest.NewRecorder()
	testMux(stub).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?target=example.com&limit=25", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if stub.target != "example.com" || stub.limit != 25 {
		t.Fatalf("unexpected miner call: %+v", stub)
	}
	var summary models.HistorySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Cycles != 4 || summary.Flaps != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestHistoryEndpointErrors(t *testing.T) {
	cases := []struct {
		name string
		url  string
		err  error
		want int
	}{
		{name: "missing target", url: "/history", want: http.StatusBadRequest},
		{name: "bad limit", url: "/history?target=a&limit=-1", want: http.StatusBadRequest},
		{name: "miner failure", url: "/history?target=a", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			testMux(&historyStub{err: tc.err}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.url, nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestHistoryNotMountedWithoutMiner(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?target=a", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
