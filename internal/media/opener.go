/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// LocatorResolver maps a locator to a readable local path.
type LocatorResolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// Prober reports the track layout of a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// DemuxerFunc opens a demuxer over a resolved, probed file.
type DemuxerFunc func(info Info) (Demuxer, error)

// ProbingOpener resolves the locator, probes the file and hands both to a
// backend demuxer constructor.
type ProbingOpener struct {
	resolver LocatorResolver
	prober   Prober
	open     DemuxerFunc
	logger   zerolog.Logger
}

var _ Opener = (*ProbingOpener)(nil)

// NewOpener creates an Opener.
func NewOpener(resolver LocatorResolver, prober Prober, open DemuxerFunc, logger zerolog.Logger) *ProbingOpener {
	return &ProbingOpener{
		resolver: resolver,
		prober:   prober,
		open:     open,
		logger:   logger.With().Str("component", "opener").Logger(),
	}
}

// Open implements Opener. A file the prober exits nonzero on is reported as
// ErrInvalidSource. A missing probe binary, a killed probe and a cancelled
// context are not.
func (o *ProbingOpener) Open(ctx context.Context, locator string) (Demuxer, error) {
	path, err := o.resolver.Resolve(ctx, locator)
	if err != nil {
		return nil, err
	}

	info, err := o.prober.Probe(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("probe %s: %w", path, ctxErr)
		}
		if rejectedByProber(err) {
			return nil, fmt.Errorf("%w: probe %s: %v", ErrInvalidSource, path, err)
		}
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	if len(info.Tracks) == 0 && info.Duration == 0 {
		return nil, fmt.Errorf("%w: %s has no readable streams", ErrInvalidSource, path)
	}
	if info.Path == "" {
		info.Path = path
	}

	o.logger.Debug().
		Str("locator", locator).
		Str("path", path).
		Dur("duration", info.Duration).
		Int("tracks", len(info.Tracks)).
		Msg("source opened")
	return o.open(info)
}

// rejectedByProber reports whether err is a normal nonzero exit of the probe
// process. Signal deaths report an exit code of -1.
func rejectedByProber(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() > 0
}
