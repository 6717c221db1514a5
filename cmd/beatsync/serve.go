/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/beatsync/internal/cache"
	"github.com/friendsincode/beatsync/internal/config"
	"github.com/friendsincode/beatsync/internal/db"
	"github.com/friendsincode/beatsync/internal/eventbus"
	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/leadership"
	"github.com/friendsincode/beatsync/internal/media"
	"github.com/friendsincode/beatsync/internal/media/gstreamer"
	"github.com/friendsincode/beatsync/internal/nowplaying"
	"github.com/friendsincode/beatsync/internal/playback"
	"github.com/friendsincode/beatsync/internal/server"
	"github.com/friendsincode/beatsync/internal/speed"
	"github.com/friendsincode/beatsync/internal/surface"
	"github.com/friendsincode/beatsync/internal/telemetry"
	"github.com/friendsincode/beatsync/internal/tempo"
	"github.com/friendsincode/beatsync/internal/tempo/lastfm"
	"github.com/friendsincode/beatsync/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BeatSync player",
	Long:  "Start video playback, the tempo bridge and the HTTP/gRPC endpoints",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := cfg.RequireLocator(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Str("locator", cfg.VideoLocator).Msg("BeatSync starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    version.ServiceName,
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn().Err(err).Msg("shutdown cleanup failed")
			}
		}
	}()

	bus := events.NewBus()

	var database *gorm.DB
	if cfg.DBBackend != config.DatabaseNone {
		database, err = db.Connect(cfg, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		closers = append(closers, func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	// Playback
	opener := media.NewOpener(newResolver(), media.NewDiscoverer(cfg.DiscovererBin, logger), gstreamer.Open(logger), logger)
	engine := playback.New(playback.Config{
		Locator:        cfg.VideoLocator,
		Bounds:         speed.Bounds{Min: cfg.MinSpeed, Max: cfg.MaxSpeed},
		DefaultBPM:     cfg.DefaultBPM,
		DequeueTimeout: cfg.DequeueTimeout,
		RetryDelay:     cfg.RetryDelay,
		LateThreshold:  cfg.LateThreshold,
	}, opener, media.RawDecoders{}, logger, playback.WithEventBus(bus))
	hub := surface.NewHub(cfg.FrameQuality, logger)
	closers = append(closers, hub.Close)

	// Tempo
	tracker := nowplaying.NewTracker(nowplaying.TrackerConfig{
		Interval:   cfg.NowPlayingPollInterval,
		RetryDelay: cfg.LoginRetryInterval,
	}, newFetcher(), logger)

	var (
		bridge *tempo.Bridge
		store  *db.TempoStore
		caches []tempo.Cache
	)
	if database != nil {
		store = db.NewTempoStore(database)
		caches = []tempo.Cache{store}
	}
	if cfg.BridgeEnabled() {
		source, layers, closeCache, err := newTempoSource(store)
		if err != nil {
			return err
		}
		closers = append(closers, closeCache)
		caches = layers
		bridge = tempo.NewBridge(source, tracker, engine, logger,
			tempo.WithEvents(bus),
			tempo.WithInterval(cfg.TempoPollInterval),
		)
	}

	onTrack := func(ctx context.Context, track tempo.Track) error {
		if !tracker.Set(&track) || bridge == nil {
			return nil
		}
		return bridge.OnTrackObserved(ctx, &track)
	}

	// Messaging
	var nb *eventbus.NATSBus
	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Prefix = cfg.NATSSubject
		natsCfg.NodeID = cfg.InstanceID
		nb, err = eventbus.NewNATSBus(natsCfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS unavailable, continuing without it")
		} else {
			closers = append(closers, nb.Close)
			if err := nb.SubscribeNowPlaying(func(track tempo.Track) {
				if err := onTrack(ctx, track); err != nil {
					logger.Debug().Err(err).Msg("pushed track not applied")
				}
			}); err != nil {
				return fmt.Errorf("subscribe now-playing: %w", err)
			}
			go nb.Relay(ctx, bus)
		}
	}

	var election *leadership.Election
	if cfg.LeaderElection {
		if nb == nil {
			logger.Warn().Msg("leader election needs NATS, polling now-playing locally")
		} else {
			locker, err := leadership.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				return fmt.Errorf("leader election: %w", err)
			}
			closers = append(closers, locker.Close)
			election = leadership.New(locker, leadership.Config{
				Lease:         cfg.LeaderLease,
				RetryInterval: cfg.LeaderLease / 3,
				InstanceID:    cfg.InstanceID,
			}, logger)
			tracker.OnChange(func(track tempo.Track) {
				if err := nb.PublishNowPlaying(track); err != nil {
					logger.Warn().Err(err).Msg("failed to broadcast now-playing")
				}
			})
		}
	}

	opts := server.Options{
		Engine:     engine,
		Bus:        bus,
		Frames:     hub,
		NowPlaying: tracker,
		OnTrack:    onTrack,
		Logs:       logs,
	}
	if store != nil {
		opts.Tempos = store
	}
	for _, c := range caches {
		if inv, ok := c.(tempo.Invalidator); ok {
			opts.Invalidators = append(opts.Invalidators, inv)
		}
	}
	srv := server.New(cfg.HTTPAddr(), opts, logger)

	if cfg.TempoProvider == config.TempoFixed && cfg.FixedBPM > 0 {
		if err := engine.SetBPM(cfg.FixedBPM); err != nil {
			return fmt.Errorf("fixed tempo: %w", err)
		}
	}

	if err := engine.Start(ctx, hub); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if election != nil {
		run(election.Run)
		run(func(ctx context.Context) { leadership.WhileLeader(ctx, election, tracker.Run) })
	} else {
		run(tracker.Run)
	}
	if bridge != nil {
		run(bridge.Run)
	}
	if database != nil {
		run(func(ctx context.Context) { db.ReportConnections(ctx, database, 15*time.Second) })
	}
	run(func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-engine.Done():
			if err := engine.Err(); err != nil {
				logger.Error().Err(err).Msg("playback ended")
			}
		}
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	if addr := cfg.GRPCAddr(); addr != "" {
		grpcSrv := server.NewGRPCServer(addr, engine, logger)
		go func() {
			errCh <- grpcSrv.Serve(ctx, 5*time.Second)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully...")
	case err := <-errCh:
		if err != nil {
			runErr = err
			logger.Error().Err(err).Msg("server error")
		}
	}

	engine.Stop()

	timeoutCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	cancel()
	wg.Wait()

	logger.Info().Msg("BeatSync stopped")
	return runErr
}

// newFetcher returns the now-playing poller for the configured provider, or
// nil when tracks only arrive by push.
func newFetcher() nowplaying.Fetcher {
	switch cfg.NowPlayingProvider {
	case config.NowPlayingSpotify:
		token := cfg.SpotifyToken
		return nowplaying.NewSpotify(cfg.SpotifyBaseURL, func() string { return token })
	case config.NowPlayingStatic:
		return nowplaying.Static{Track: tempo.Track{Artist: cfg.StaticArtist, Title: cfg.StaticTitle}}
	default:
		return nil
	}
}

// newTempoSource builds the tempo lookup chain: caches first, then the
// configured provider. It also returns the cache layers in lookup order and a
// func closing the Redis cache.
func newTempoSource(store *db.TempoStore) (tempo.Source, []tempo.Cache, func() error, error) {
	noop := func() error { return nil }

	var src tempo.Source
	switch cfg.TempoProvider {
	case config.TempoLastFM:
		src = lastfm.New(cfg.LastFMAPIKey, logger, lastfm.WithBaseURL(cfg.LastFMBaseURL))
		if cfg.FixedBPM > 0 {
			src = tempo.FirstOf(src, tempo.Fixed(cfg.FixedBPM))
		}
	case config.TempoFixed:
		src = tempo.Fixed(cfg.FixedBPM)
	default:
		return nil, nil, noop, fmt.Errorf("unsupported tempo provider %q", cfg.TempoProvider)
	}

	var caches []tempo.Cache
	closeCache := noop
	if cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		cacheCfg.TempoTTL = cfg.TempoCacheTTL
		c, err := cache.New(cacheCfg, logger)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("tempo cache: %w", err)
		}
		caches = append(caches, c)
		closeCache = c.Close
	}
	if store != nil {
		caches = append(caches, store)
	}
	return tempo.WithCache(src, caches...), caches, closeCache, nil
}
