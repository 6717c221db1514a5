/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/beatsync/internal/speed"
)

var solveFlags struct {
	durationMs float64
	bpm        float64
	min        float64
	max        float64
}

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Show the playback rate chosen for a clip and tempo",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := solveFlags
		if f.durationMs <= 0 {
			return fmt.Errorf("--duration-ms must be positive")
		}
		if f.bpm <= 0 {
			return fmt.Errorf("--bpm must be positive")
		}
		return writeSolution(cmd.OutOrStdout(), f.durationMs, f.bpm, f.min, f.max)
	},
}

func init() {
	def := speed.DefaultBounds()
	solveCmd.Flags().Float64Var(&solveFlags.durationMs, "duration-ms", 0, "intrinsic clip duration in milliseconds")
	solveCmd.Flags().Float64Var(&solveFlags.bpm, "bpm", 0, "music tempo in beats per minute")
	solveCmd.Flags().Float64Var(&solveFlags.min, "min", def.Min, "slowest allowed playback rate")
	solveCmd.Flags().Float64Var(&solveFlags.max, "max", def.Max, "fastest allowed playback rate")
}

// writeSolution prints the candidate table followed by the chosen rate.
func writeSolution(w io.Writer, durationMs, bpm, minSpeed, maxSpeed float64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BEATS\tTARGET_MS\tSPEED\tIN_RANGE\tDISTANCE")
	for _, c := range speed.Candidates(durationMs, bpm, minSpeed, maxSpeed) {
		fmt.Fprintf(tw, "%g\t%.1f\t%.4f\t%t\t%.4f\n", c.Beats, c.TargetMs, c.Speed, c.InRange, c.Distance)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nrate: %.4f\n", speed.Solve(durationMs, bpm, minSpeed, maxSpeed))
	return err
}
