/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/friendsincode/beatsync/internal/playback"
	"github.com/friendsincode/beatsync/internal/version"
)

// GRPCServer serves the standard health service, reporting the playback
// engine state for orchestrators that probe over gRPC.
type GRPCServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	engine Engine
	logger zerolog.Logger
}

// NewGRPCServer builds the server; Serve starts it.
func NewGRPCServer(addr string, engine Engine, logger zerolog.Logger) *GRPCServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ConnectionTimeout(30*time.Second),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &GRPCServer{
		addr:   addr,
		server: srv,
		health: hs,
		engine: engine,
		logger: logger.With().Str("component", "grpc").Logger(),
	}
}

// HealthStatus maps an engine state to a serving status.
func HealthStatus(state playback.State) healthpb.HealthCheckResponse_ServingStatus {
	if state.Active() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Sync publishes the current engine state to the health service.
func (g *GRPCServer) Sync() {
	st := HealthStatus(g.engine.Status().State)
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(version.ServiceName, st)
}

// Serve listens on addr and keeps the health status in step with the engine
// every interval until ctx ends.
func (g *GRPCServer) Serve(ctx context.Context, interval time.Duration) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.addr, err)
	}
	return g.serve(ctx, lis, interval)
}

func (g *GRPCServer) serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	g.Sync()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.Sync()
			}
		}
	}()

	g.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
