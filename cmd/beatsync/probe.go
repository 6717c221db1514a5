/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/beatsync/internal/media"
)

var probeCmd = &cobra.Command{
	Use:   "probe <locator>",
	Short: "Print the duration and tracks of a video source",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.FetchTimeout+30*time.Second)
	defer cancel()

	path, err := newResolver().Resolve(ctx, args[0])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}
	info, err := media.NewDiscoverer(cfg.DiscovererBin, logger).Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}
	return writeInfo(cmd.OutOrStdout(), info)
}

func writeInfo(w io.Writer, info media.Info) error {
	fmt.Fprintf(w, "path:     %s\n", info.Path)
	fmt.Fprintf(w, "duration: %.0f ms\n", info.DurationMs())
	video := 0
	for _, t := range info.Tracks {
		if !t.IsVideo() {
			continue
		}
		video++
		fmt.Fprintf(w, "track %d:  %s %dx%d\n", t.Index, t.MIME, t.Width, t.Height)
	}
	if video == 0 {
		_, err := fmt.Fprintln(w, "no video track")
		return err
	}
	return nil
}

func newResolver() *media.Resolver {
	return media.NewResolver(media.ResolverConfig{
		CacheDir:          cfg.MediaCacheDir,
		S3Region:          cfg.S3Region,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3UsePathStyle:    cfg.S3UsePathStyle,
		HTTPTimeout:       cfg.FetchTimeout,
	}, logger)
}
