package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storewatch/backend/internal/circuitbreaker"
	"github.com/storewatch/backend/internal/config"
	"github.com/storewatch/backend/internal/events"
	"github.com/storewatch/backend/internal/pipeline"
	"github.com/storewatch/backend/internal/store"
)

// syncWait is how long the analyze handler waits for the frame's result
// before answering 202 and letting it finish in the background.
const syncWait = 15 * time.Second

// Server is the analyzer's HTTP surface.
type Server struct {
	cfg      *config.Config
	manager  *pipeline.Manager
	files    *store.FileStore
	breakers *circuitbreaker.PipelineBreakers
	stream   *Stream

	httpSrv *http.Server
}

// NewServer wires the HTTP surface. files and breakers may be nil;
// stream is created when bus is non-nil.
func NewServer(cfg *config.Config, manager *pipeline.Manager, files *store.FileStore, breakers *circuitbreaker.PipelineBreakers, bus events.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  manager,
		files:    files,
		breakers: breakers,
	}
	if bus != nil {
		s.stream = NewStream(bus)
	}
	return s
}

// Router builds the route table. The CORS layer wraps the router rather
// than registering as mux middleware: mux only runs middleware on
// matched routes, so a preflight OPTIONS would otherwise 405 before the
// headers are set.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/statistics", s.handleStatistics).Methods("GET")
	r.HandleFunc("/config", s.handleConfig).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.stream != nil {
		r.Handle("/ws/violations", s.stream).Methods("GET")
	}
	return corsHandler(r)
}

func corsHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	slog.Info("[API] Listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the WebSocket stream.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stream != nil {
		s.stream.Close()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type analyzeRequest struct {
	FrameID     string         `json:"frame_id"`
	SessionID   string         `json:"session_id"`
	Timestamp   string         `json:"timestamp"`
	JPEGBase64  string         `json:"jpeg_bytes"`
	FrameNumber int            `json:"frame_number"`
	SourceInfo  map[string]any `json:"source_info"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FrameID == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "frame_id and session_id are required")
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be ISO-8601")
			return
		}
		ts = parsed
	}

	var jpeg []byte
	if req.JPEGBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.JPEGBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "jpeg_bytes must be base64")
			return
		}
		jpeg = decoded
	}

	out, err := s.manager.Submit(pipeline.Frame{
		FrameID:     req.FrameID,
		SessionID:   req.SessionID,
		Timestamp:   ts,
		JPEG:        jpeg,
		FrameNumber: req.FrameNumber,
		SourceInfo:  req.SourceInfo,
	})
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "session queue full")
		return
	case errors.Is(err, pipeline.ErrSessionHalted):
		writeError(w, http.StatusServiceUnavailable, "session halted")
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "analyzer unavailable")
		return
	}

	select {
	case outcome := <-out:
		if outcome.Err != nil {
			slog.Error("[API] Frame processing failed",
				"session_id", req.SessionID, "frame_id", req.FrameID, "error", outcome.Err)
			writeError(w, http.StatusInternalServerError, "frame processing failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "completed",
			"summary": outcome.Result,
		})
	case <-time.After(syncWait):
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "queued",
			"frame_id": req.FrameID,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "HEALTHY"
	services := map[string]string{}
	if s.breakers != nil {
		status, services = s.breakers.HealthStatus()
	}

	code := http.StatusOK
	if status != "HEALTHY" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"services": services,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	sessions := s.manager.Stats()

	totalViolationKeys := 0
	activeSequences := 0
	for _, st := range sessions {
		totalViolationKeys += st.CooldownEntries
		activeSequences += st.ActiveSequences
	}

	payload := map[string]any{
		"sessions":         sessions,
		"active_sequences": activeSequences,
		"cooldown_entries": totalViolationKeys,
	}
	if s.files != nil {
		if st, err := s.files.Stats(); err == nil {
			payload["storage"] = st
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"policy": s.cfg.Policy,
		"services": map[string]string{
			"detector":        s.cfg.Services.DetectorURL,
			"roi_manager":     s.cfg.Services.ROIManagerURL,
			"violation_store": s.cfg.Services.ViolationStoreURL,
		},
		"events_backend": s.cfg.Events.Backend,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("[API] Response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
