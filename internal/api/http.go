package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/ws"
)

const defaultHistoryLimit = 200

// HistoryMiner summarises a target's audit trail.
type HistoryMiner interface {
	MineTarget(ctx context.Context, target string, limit int) (models.HistorySummary, error)
}

// NewHTTPServer serves /metrics and /healthz. The operator audit feed on /ws
// and the /history summary are mounted when hub and history are set.
func NewHTTPServer(addr string, gatherer prometheus.Gatherer, hub *ws.Hub, history HistoryMiner, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newMux(gatherer, hub, history, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newMux(gatherer prometheus.Gatherer, hub *ws.Hub, history HistoryMiner, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if hub != nil {
		mux.Handle("/ws", ws.Handler(hub, logger))
	}
	if history != nil {
		mux.Handle("/history", historyHandler(history, logger))
	}
	return mux
}

func historyHandler(history HistoryMiner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		target := r.URL.Query().Get("target")
		if target == "" {
			http.Error(w, "target is required", http.StatusBadRequest)
			return
		}
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		summary, err := history.MineTarget(r.Context(), target, limit)
		if err != nil {
			logger.Error("history mining failed", slog.String("target", target), slog.Any("error", err))
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summary)
	})
}
