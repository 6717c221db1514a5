/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Playback engine
	PlaybackPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_playback_passes_total",
		Help: "Decode passes by result (completed, cancelled, no_video, error, fatal).",
	}, []string{"result"})

	PlaybackFramesPresented = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatsync_playback_frames_presented_total",
		Help: "Frames presented to the surface.",
	})

	PlaybackFramesLate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatsync_playback_frames_late_total",
		Help: "Frames presented after their paced deadline.",
	})

	PlaybackFrameWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "beatsync_playback_frame_wait_seconds",
		Help:    "Time spent holding frames until their deadline.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.5, 1},
	})

	PlaybackRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_playback_rate",
		Help: "Playback rate multiplier applied to the current pass.",
	})

	PlaybackState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "beatsync_playback_state",
		Help: "Engine state (1 for the active state).",
	}, []string{"state"})

	// Tempo
	TempoBPM = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_tempo_bpm",
		Help: "Tempo currently driving playback.",
	})

	TempoLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_tempo_lookups_total",
		Help: "Tempo lookups by source and result (found, not_found, error).",
	}, []string{"source", "result"})

	TempoLookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beatsync_tempo_lookup_duration_seconds",
		Help:    "Tempo lookup latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	TempoCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_tempo_cache_total",
		Help: "Tempo cache lookups by layer and result (hit, miss, error).",
	}, []string{"layer", "result"})

	TrackChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatsync_track_changes_total",
		Help: "Distinct now-playing tracks observed.",
	})

	NowPlayingPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_nowplaying_polls_total",
		Help: "Now-playing polls by provider and result.",
	}, []string{"provider", "result"})

	// Surface
	SurfaceViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_surface_viewers",
		Help: "Connected frame viewers.",
	})

	SurfaceFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatsync_surface_frames_dropped_total",
		Help: "Frames skipped by the encoder or not delivered to a slow viewer.",
	})

	// API
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beatsync_api_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_api_requests_total",
		Help: "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	// Leader election
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_leader_status",
		Help: "1 while this instance holds the now-playing leadership lease.",
	})

	LeaderChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_leader_changes_total",
		Help: "Leadership transitions.",
	}, []string{"transition"})

	// Database
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beatsync_database_query_duration_seconds",
		Help:    "Database operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_database_errors_total",
		Help: "Database operation errors.",
	}, []string{"operation", "type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_database_connections_active",
		Help: "Open database connections.",
	})
)

// SetPlaybackState marks state as the only active engine state.
func SetPlaybackState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		PlaybackState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
