/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/media"
	"github.com/friendsincode/beatsync/internal/pacer"
	"github.com/friendsincode/beatsync/internal/speed"
	"github.com/friendsincode/beatsync/internal/telemetry"
)

// runPass plays the source once from the start. The demuxer and decoder it
// opens are closed before it returns, whatever the outcome.
func (e *Engine) runPass(ctx context.Context, surface media.Surface) (err error) {
	passID := uuid.NewString()
	n := e.passes.Add(1)

	ctx, span := telemetry.StartSpan(ctx, "beatsync/playback", "playback.pass",
		attribute.String("pass_id", passID),
		attribute.Int64("pass", int64(n)),
	)
	defer func() {
		if ctx.Err() != nil {
			span.End()
			return
		}
		telemetry.EndSpan(span, err)
	}()

	e.mu.Lock()
	e.passID = passID
	e.mu.Unlock()
	e.setState(StateResolving)

	demux, err := e.opener.Open(ctx, e.cfg.Locator)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.cfg.Locator, err)
	}
	defer e.closeQuietly("demuxer", demux.Close)

	track, ok := media.FirstVideoTrack(demux.Tracks())
	if !ok {
		e.rate.Store(speed.Natural)
		return media.ErrNoVideoTrack
	}
	if err := demux.SelectTrack(track.Index); err != nil {
		return fmt.Errorf("select track %d: %w", track.Index, err)
	}

	// The rate is fixed for the whole pass; tempo changes land on the next one.
	durationMs := e.learnDuration(track)
	bpm := e.tempo.Get()
	rate := speed.Solve(durationMs, bpm, e.cfg.Bounds.Min, e.cfg.Bounds.Max)
	e.rate.Store(rate)
	telemetry.PlaybackRate.Set(rate)

	span.SetAttributes(
		attribute.Float64("bpm", bpm),
		attribute.Float64("rate", rate),
		attribute.Float64("duration_ms", durationMs),
		attribute.String("track_mime", track.MIME),
	)

	logger := e.logger.With().Str("pass_id", passID).Logger()
	logger.Debug().
		Float64("bpm", bpm).
		Float64("rate", rate).
		Float64("duration_ms", durationMs).
		Msg("pass starting")
	e.publish(events.EventPassStarted, events.Payload{
		"pass_id":     passID,
		"pass":        n,
		"bpm":         bpm,
		"rate":        rate,
		"duration_ms": durationMs,
	})

	dec, err := e.decoders.NewDecoder(track)
	if err != nil {
		return fmt.Errorf("create decoder for %s: %w", track.MIME, err)
	}
	defer e.closeQuietly("decoder", dec.Close)

	if err := dec.Configure(track); err != nil {
		return fmt.Errorf("configure decoder: %w", err)
	}
	if err := dec.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	e.setState(StateDecoding)
	frames, err := e.drain(ctx, demux, dec, pacer.New(rate), surface)
	if err != nil {
		return err
	}

	logger.Debug().Int("frames", frames).Msg("pass complete")
	e.publish(events.EventPassCompleted, events.Payload{"pass_id": passID, "frames": frames})
	return nil
}

// drain feeds samples into the decoder and presents its output until the
// decoder reports end of stream. It returns the number of presented frames.
func (e *Engine) drain(ctx context.Context, demux media.Demuxer, dec media.Decoder, pc *pacer.Pacer, surface media.Surface) (int, error) {
	var (
		pending   *media.Sample
		inputDone bool
		frames    int
	)

	for {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		if !inputDone {
			if pending == nil {
				s, err := demux.ReadSample(ctx)
				switch {
				case errors.Is(err, io.EOF):
					s = media.Sample{EOS: true}
				case err != nil:
					return frames, fmt.Errorf("read sample: %w", err)
				}
				pending = &s
			}

			err := dec.QueueInput(ctx, *pending, e.cfg.DequeueTimeout)
			switch {
			case err == nil:
				if pending.EOS {
					inputDone = true
					e.setState(StateDraining)
				}
				pending = nil
			case errors.Is(err, media.ErrTryAgain):
				// input buffers full; drain output and retry the same sample
			default:
				return frames, fmt.Errorf("queue input: %w", err)
			}
		}

		f, err := dec.DequeueOutput(ctx, e.cfg.DequeueTimeout)
		switch {
		case errors.Is(err, media.ErrTryAgain):
			continue
		case err != nil:
			return frames, fmt.Errorf("dequeue output: %w", err)
		}

		if f.EOS {
			e.release(dec, f)
			return frames, nil
		}
		if err := e.present(ctx, dec, pc, surface, f); err != nil {
			return frames, err
		}
		frames++
	}
}

// present holds f until its paced deadline, hands it to the surface and
// returns the buffer to the decoder. Late frames are shown, never dropped.
func (e *Engine) present(ctx context.Context, dec media.Decoder, pc *pacer.Pacer, surface media.Surface, f media.Frame) error {
	defer e.release(dec, f)

	wait, err := pc.Wait(ctx, f.PTS)
	if err != nil {
		return err
	}
	if wait > 0 {
		telemetry.PlaybackFrameWait.Observe(wait.Seconds())
	} else if -wait > e.cfg.LateThreshold {
		e.late.Add(1)
		telemetry.PlaybackFramesLate.Inc()
	}

	if err := surface.Present(ctx, f); err != nil {
		e.logger.Debug().Err(err).Dur("pts", f.PTS).Msg("surface rejected frame")
	}
	e.presented.Add(1)
	telemetry.PlaybackFramesPresented.Inc()
	return nil
}

func (e *Engine) release(dec media.Decoder, f media.Frame) {
	if err := dec.ReleaseFrame(f); err != nil {
		e.logger.Debug().Err(err).Msg("release frame failed")
	}
}
