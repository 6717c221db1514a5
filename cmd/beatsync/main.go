/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/beatsync/internal/config"
	"github.com/friendsincode/beatsync/internal/logbuffer"
	"github.com/friendsincode/beatsync/internal/logging"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logs   = logbuffer.New(logbuffer.DefaultCapacity)
)

var rootCmd = &cobra.Command{
	Use:   "beatsync",
	Short: "BeatSync - tempo-locked looping video",
	Long:  "BeatSync loops a video so that every pass lasts a whole number of beats at the current music tempo.",
}

func init() {
	rootCmd.AddCommand(serveCmd, solveCmd, probeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.SetupFormat(cfg.Environment, cfg.LogLevel, cfg.LogFormat, logbuffer.NewWriter(logs))
	return nil
}
