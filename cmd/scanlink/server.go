// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/scanlink/internal/capture"
	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/framesource"
	"github.com/ManuGH/scanlink/internal/history"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/ManuGH/scanlink/internal/ui"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const (
	maxFrameUpload     = 16 << 20
	defaultHistorySize = 20
	maxHistorySize     = 500
)

type sessionView interface {
	SessionID() string
	State(ctx context.Context) (capture.State, error)
}

type frameFeed interface {
	Publish(f *frame.Frame) bool
	Stats() framesource.Stats
}

type scanView interface {
	Last() *ui.Scan
	Count() int
}

type historyReader interface {
	Get(ctx context.Context, id int64) (*history.Entry, error)
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Count(ctx context.Context) (int, error)
}

type routerConfig struct {
	Session sessionView
	Frames  frameFeed
	Scans   scanView
	// History is optional; the /history routes answer 404 without it.
	History historyReader

	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit   int
	ServiceName string
}

type statusResponse struct {
	SessionID string       `json:"session_id"`
	State     string       `json:"state"`
	Scans     int          `json:"scans"`
	Source    sourceStatus `json:"source"`
	Last      *ui.Scan     `json:"last,omitempty"`
}

type sourceStatus struct {
	Previewing bool   `json:"previewing"`
	Published  uint64 `json:"published"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	LastSeq    uint64 `json:"last_seq"`
	Pending    bool   `json:"pending"`
}

type historyEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Format    string    `json:"format"`
	Seq       uint64    `json:"seq"`
	ScannedAt time.Time `json:"scanned_at"`
	ElapsedMS float64   `json:"elapsed_ms"`
}

func toHistoryEntry(e history.Entry) historyEntry {
	return historyEntry{
		ID:        e.ID,
		SessionID: e.SessionID,
		Text:      e.Text,
		Format:    e.Format,
		Seq:       e.Seq,
		ScannedAt: e.ScannedAt,
		ElapsedMS: float64(e.Elapsed) / float64(time.Millisecond),
	}
}

// newRouter builds the status and metrics API.
func newRouter(cfg routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	if cfg.RateLimit > 0 {
		r.Use(rateLimit(cfg.RateLimit, time.Minute))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		state, err := cfg.Session.State(req.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "state_unavailable", err)
			return
		}
		st := cfg.Frames.Stats()
		writeJSON(w, http.StatusOK, statusResponse{
			SessionID: cfg.Session.SessionID(),
			State:     string(state),
			Scans:     cfg.Scans.Count(),
			Source: sourceStatus{
				Previewing: st.Previewing,
				Published:  st.Published,
				Delivered:  st.Delivered,
				Dropped:    st.Dropped,
				LastSeq:    st.LastSeq,
				Pending:    st.Pending,
			},
			Last: cfg.Scans.Last(),
		})
	})

	r.Get("/scans/last", func(w http.ResponseWriter, _ *http.Request) {
		last := cfg.Scans.Last()
		if last == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, last)
	})

	// Frames posted here feed the same source as the drop folder.
	r.Post("/frames", func(w http.ResponseWriter, req *http.Request) {
		body := http.MaxBytesReader(w, req.Body, maxFrameUpload)
		f, err := framesource.ReadFrame(body, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_image", err)
			return
		}
		if !cfg.Frames.Publish(f) {
			writeError(w, http.StatusConflict, "frame_dropped", errors.New("frame not accepted"))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	if cfg.History != nil {
		h := cfg.History
		r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
			limit := defaultHistorySize
			if v := req.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 || n > maxHistorySize {
					writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Errorf("limit must be 1..%d", maxHistorySize))
					return
				}
				limit = n
			}
			entries, err := h.Recent(req.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "history_failed", err)
				return
			}
			total, err := h.Count(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "history_failed", err)
				return
			}
			out := make([]historyEntry, 0, len(entries))
			for _, e := range entries {
				out = append(out, toHistoryEntry(e))
			}
			writeJSON(w, http.StatusOK, map[string]any{"total": total, "scans": out})
		})
		r.Get("/history/{id}", func(w http.ResponseWriter, req *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_id", err)
				return
			}
			e, err := h.Get(req.Context(), id)
			if errors.Is(err, history.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "history_failed", err)
				return
			}
			writeJSON(w, http.StatusOK, toHistoryEntry(*e))
		})
	}

	service := cfg.ServiceName
	if service == "" {
		service = "scanlink"
	}
	return otelhttp.NewHandler(r, service,
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithFilter(shouldTrace),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.Method + " " + r.URL.Path
		}),
	)
}

// shouldTrace skips health and metrics scrapes.
func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return false
	}
	return true
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", errors.New("too many requests"))
		}),
	)
}

func accessLog(next http.Handler) http.Handler {
	logger := xglog.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug().
			Str("method", r.Method).
			Str(xglog.FieldPath, r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}
