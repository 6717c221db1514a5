/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the engine over HTTP: status, tempo override,
// now-playing pushes, viewer websockets and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/logbuffer"
	"github.com/friendsincode/beatsync/internal/models"
	"github.com/friendsincode/beatsync/internal/playback"
	"github.com/friendsincode/beatsync/internal/telemetry"
	"github.com/friendsincode/beatsync/internal/tempo"
	"github.com/friendsincode/beatsync/internal/version"
)

// Engine is the part of the playback engine the API drives.
type Engine interface {
	Status() playback.Status
	SetBPM(bpm float64) error
}

// TempoLister lists persisted tempos.
type TempoLister interface {
	Recent(ctx context.Context, limit int) ([]models.TempoRecord, error)
}

// Options wires the server to the rest of the process. Only Engine is
// required; routes backed by a nil dependency are not mounted.
type Options struct {
	Engine     Engine
	Bus        *events.Bus
	Frames     http.Handler
	NowPlaying tempo.NowPlaying
	OnTrack    func(ctx context.Context, track tempo.Track) error
	Tempos     TempoLister
	Logs       *logbuffer.Buffer

	// Invalidators back DELETE /api/v1/tempos, in lookup order.
	Invalidators []tempo.Invalidator
}

// Server bundles the HTTP router and listener.
type Server struct {
	addr       string
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	opts       Options
}

// New constructs the server and its routes.
func New(addr string, opts Options, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware(version.ServiceName))
	router.Use(telemetry.MetricsMiddleware)
	// Websockets are long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	s := &Server{
		addr:   addr,
		logger: logger.With().Str("component", "http").Logger(),
		router: router,
		opts:   opts,
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Frame streams write indefinitely; handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown. http.ErrServerClosed is not reported.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/bpm", s.handleSetBPM)
		if s.opts.NowPlaying != nil {
			r.Get("/now-playing", s.handleGetNowPlaying)
		}
		if s.opts.OnTrack != nil {
			r.Post("/now-playing", s.handlePushNowPlaying)
		}
		if s.opts.Tempos != nil {
			r.Get("/tempos", s.handleListTempos)
		}
		if len(s.opts.Invalidators) > 0 {
			r.Delete("/tempos", s.handleInvalidateTempo)
		}
		if s.opts.Logs != nil {
			r.Get("/logs", s.handleLogs)
			r.Get("/logs/stats", s.handleLogStats)
		}
	})

	if s.opts.Frames != nil {
		s.router.Handle("/ws/frames", s.opts.Frames)
	}
	if s.opts.Bus != nil {
		s.router.HandleFunc("/ws/events", s.handleEvents)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Engine.Status()
	status := http.StatusOK
	body := map[string]any{"status": "ok", "state": st.State, "version": version.Version}
	if st.State == playback.StateFailed {
		status = http.StatusServiceUnavailable
		body["status"] = "failed"
		body["error"] = st.LastError
	}
	writeJSON(w, status, body)
}

type statusResponse struct {
	playback.Status
	NowPlaying *tempo.Track `json:"now_playing,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.opts.Engine.Status()}
	if s.opts.NowPlaying != nil {
		if track, err := s.opts.NowPlaying.CurrentTrack(r.Context()); err == nil {
			resp.NowPlaying = track
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type setBPMRequest struct {
	BPM float64 `json:"bpm"`
}

func (s *Server) handleSetBPM(w http.ResponseWriter, r *http.Request) {
	var req setBPMRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := s.opts.Engine.SetBPM(req.BPM); err != nil {
		if errors.Is(err, playback.ErrInvalidTempo) {
			writeError(w, http.StatusBadRequest, "invalid_bpm")
			return
		}
		s.logger.Error().Err(err).Msg("set bpm failed")
		writeError(w, http.StatusInternalServerError, "set_bpm_failed")
		return
	}
	s.logger.Info().Float64("bpm", req.BPM).Msg("tempo overridden via API")
	writeJSON(w, http.StatusOK, map[string]any{"bpm": req.BPM})
}

func (s *Server) handleGetNowPlaying(w http.ResponseWriter, r *http.Request) {
	track, err := s.opts.NowPlaying.CurrentTrack(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "now_playing_unavailable")
		return
	}
	if track == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handlePushNowPlaying(w http.ResponseWriter, r *http.Request) {
	var track tempo.Track
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&track); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	track.Artist = strings.TrimSpace(track.Artist)
	track.Title = strings.TrimSpace(track.Title)
	if track.Artist == "" || track.Title == "" {
		writeError(w, http.StatusBadRequest, "artist_and_title_required")
		return
	}

	// A lookup miss is not a push failure; the previous tempo stays.
	if err := s.opts.OnTrack(r.Context(), track); err != nil && !errors.Is(err, tempo.ErrNotFound) {
		s.logger.Warn().Err(err).Str("artist", track.Artist).Str("title", track.Title).Msg("now-playing push not applied")
	}
	writeJSON(w, http.StatusAccepted, track)
}

func (s *Server) handleListTempos(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.opts.Tempos.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list tempos failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tempos": recs})
}

// handleInvalidateTempo drops the stored tempo of one track from every cache
// layer. The track is named by the artist and title query parameters.
func (s *Server) handleInvalidateTempo(w http.ResponseWriter, r *http.Request) {
	id := tempo.Identity{
		Artist: strings.TrimSpace(r.URL.Query().Get("artist")),
		Title:  strings.TrimSpace(r.URL.Query().Get("title")),
	}
	if id.Artist == "" || id.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_track")
		return
	}

	for _, inv := range s.opts.Invalidators {
		if err := inv.InvalidateTempo(r.Context(), id); err != nil {
			s.logger.Error().Err(err).Str("artist", id.Artist).Str("title", id.Title).Msg("invalidate tempo failed")
			writeError(w, http.StatusInternalServerError, "cache_error")
			return
		}
	}

	s.logger.Info().Str("artist", id.Artist).Str("title", id.Title).Msg("tempo invalidated")
	writeJSON(w, http.StatusOK, map[string]any{"artist": id.Artist, "title": id.Title, "invalidated": true})
}

// handleLogs serves recent log lines, newest first unless order=asc.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := logbuffer.Query{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		Search:    q.Get("search"),
		Limit:     200,
		Newest:    q.Get("order") != "asc",
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = t
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		params.Limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.opts.Logs.Query(params)})
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Logs.Stats())
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' blob: data:; connect-src 'self' ws: wss:; frame-ancestors 'none'; base-uri 'self'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
