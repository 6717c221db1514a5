/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Info is the probe result for a local media file.
type Info struct {
	Path     string
	Duration time.Duration
	Tracks   []Track
}

// DurationMs returns the duration in milliseconds.
func (i Info) DurationMs() float64 {
	return float64(i.Duration) / float64(time.Millisecond)
}

// DefaultProbeWaitDelay bounds how long a cancelled probe waits for its
// output pipe to close.
const DefaultProbeWaitDelay = 500 * time.Millisecond

// Discoverer probes media files with gst-discoverer-1.0 and memoizes results
// per path.
type Discoverer struct {
	bin       string
	waitDelay time.Duration
	logger    zerolog.Logger

	mu    sync.Mutex
	cache map[string]Info
}

// NewDiscoverer creates a prober. An empty bin uses gst-discoverer-1.0 from PATH.
func NewDiscoverer(bin string, logger zerolog.Logger) *Discoverer {
	if bin == "" {
		bin = "gst-discoverer-1.0"
	}
	return &Discoverer{
		bin:       bin,
		waitDelay: DefaultProbeWaitDelay,
		logger:    logger.With().Str("component", "discoverer").Logger(),
		cache:     make(map[string]Info),
	}
}

// Probe returns duration and track layout for a local file.
func (d *Discoverer) Probe(ctx context.Context, path string) (Info, error) {
	d.mu.Lock()
	if info, ok := d.cache[path]; ok {
		d.mu.Unlock()
		return info, nil
	}
	d.mu.Unlock()

	cmd := exec.CommandContext(ctx, d.bin, "-v", path)
	// Children of a killed discoverer may hold the output pipe open.
	cmd.WaitDelay = d.waitDelay
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Info{}, fmt.Errorf("gst-discoverer interrupted: %w", ctxErr)
		}
		return Info{}, fmt.Errorf("gst-discoverer failed: %w", err)
	}

	info := ParseDiscovererOutput(string(output))
	info.Path = path

	d.logger.Debug().
		Str("path", path).
		Dur("duration", info.Duration).
		Int("tracks", len(info.Tracks)).
		Msg("probe complete")

	d.mu.Lock()
	d.cache[path] = info
	d.mu.Unlock()
	return info, nil
}

var (
	// gst-discoverer prints fractional seconds with variable precision (often nanoseconds, 9 digits).
	durationRegex = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)(?:\.(\d+))?`)
	streamRegex   = regexp.MustCompile(`^\s*(video|audio|subtitles|container|unknown)(?:\s*#(\d+))?:\s*(.*)$`)
	capsMIMERegex = regexp.MustCompile(`\b(video/[A-Za-z0-9.+-]+)`)
	widthRegex    = regexp.MustCompile(`^\s*Width:\s*(\d+)`)
	heightRegex   = regexp.MustCompile(`^\s*Height:\s*(\d+)`)
)

// ParseDiscovererOutput extracts the duration and stream list from
// gst-discoverer-1.0 -v output.
func ParseDiscovererOutput(output string) Info {
	var info Info
	var current *Track
	streamIndex := 0

	flush := func() {
		if current != nil {
			current.Duration = info.Duration
			if current.MIME == "" {
				current.MIME = "video/unknown"
			}
			info.Tracks = append(info.Tracks, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		if matches := durationRegex.FindStringSubmatch(line); matches != nil && info.Duration == 0 {
			hours, _ := strconv.Atoi(matches[1])
			minutes, _ := strconv.Atoi(matches[2])
			seconds, _ := strconv.Atoi(matches[3])
			ms := fracToMilliseconds(matches[4])
			info.Duration = time.Duration(int64(hours)*3600000+int64(minutes)*60000+int64(seconds)*1000+ms) * time.Millisecond
			continue
		}

		if matches := streamRegex.FindStringSubmatch(line); matches != nil {
			flush()
			kind := matches[1]
			if kind == "container" {
				continue
			}
			if kind == "video" {
				current = &Track{Index: streamIndex, MIME: mimeFromDescription(matches[3])}
			}
			streamIndex++
			continue
		}

		if current == nil {
			continue
		}
		if current.MIME == "" || current.MIME == "video/unknown" {
			if m := capsMIMERegex.FindStringSubmatch(line); m != nil {
				current.MIME = m[1]
			}
		}
		if m := widthRegex.FindStringSubmatch(line); m != nil {
			current.Width, _ = strconv.Atoi(m[1])
		}
		if m := heightRegex.FindStringSubmatch(line); m != nil {
			current.Height, _ = strconv.Atoi(m[1])
		}
	}
	flush()

	for i := range info.Tracks {
		info.Tracks[i].Duration = info.Duration
	}
	return info
}

func mimeFromDescription(desc string) string {
	if m := capsMIMERegex.FindStringSubmatch(desc); m != nil {
		return m[1]
	}
	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "h.264"), strings.Contains(d, "avc"):
		return "video/x-h264"
	case strings.Contains(d, "h.265"), strings.Contains(d, "hevc"):
		return "video/x-h265"
	case strings.Contains(d, "vp8"):
		return "video/x-vp8"
	case strings.Contains(d, "vp9"):
		return "video/x-vp9"
	case strings.Contains(d, "av1"):
		return "video/x-av1"
	case strings.Contains(d, "mpeg-4"), strings.Contains(d, "mpeg-2"):
		return "video/mpeg"
	}
	return ""
}

func fracToMilliseconds(frac string) int64 {
	// frac is the digits after the decimal point in seconds, variable precision (e.g. "12", "004", "345000000").
	if frac == "" {
		return 0
	}
	fracInt, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || fracInt < 0 {
		return 0
	}
	denom := int64(1)
	for i := 0; i < len(frac); i++ {
		denom *= 10
		if denom <= 0 {
			return 0
		}
	}
	return (fracInt * 1000) / denom
}
