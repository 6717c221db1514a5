/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gstreamer is the GStreamer decode backend. Its demuxer runs a
// filesrc ! decodebin ! videoconvert ! appsink pipeline and yields raw RGBA
// samples, which media.RawDecoder turns into frames.
package gstreamer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/friendsincode/beatsync/internal/media"
)

const (
	srcName      = "src"
	sinkName     = "frames"
	pullInterval = 50 * time.Millisecond
)

var initOnce sync.Once

// Init initializes GStreamer once per process.
func Init() {
	initOnce.Do(func() { gst.Init(nil) })
}

// Demuxer pulls raw frames of the selected video track out of a decode
// pipeline. It is single-use: one Demuxer per playback pass.
type Demuxer struct {
	info   media.Info
	logger zerolog.Logger

	pipeline *gst.Pipeline
	sink     *app.Sink
	capsSent bool
	closed   bool
}

var _ media.Demuxer = (*Demuxer)(nil)

// Open returns a media.DemuxerFunc creating GStreamer demuxers.
func Open(logger zerolog.Logger) media.DemuxerFunc {
	logger = logger.With().Str("component", "gst-demuxer").Logger()
	return func(info media.Info) (media.Demuxer, error) {
		Init()
		return &Demuxer{info: info, logger: logger}, nil
	}
}

// Tracks implements media.Demuxer.
func (d *Demuxer) Tracks() []media.Track {
	return d.info.Tracks
}

// SelectTrack builds and starts the pipeline for the given video track.
func (d *Demuxer) SelectTrack(index int) error {
	if d.pipeline != nil {
		return fmt.Errorf("track already selected")
	}
	found := false
	for _, t := range d.info.Tracks {
		if t.Index == index && t.IsVideo() {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no video track %d", index)
	}

	launch := PipelineString()
	d.logger.Debug().Str("pipeline", launch).Str("path", d.info.Path).Msg("creating pipeline")

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	d.pipeline = pipeline

	src, err := pipeline.GetElementByName(srcName)
	if err != nil {
		return fmt.Errorf("find filesrc: %w", err)
	}
	if err := src.SetProperty("location", d.info.Path); err != nil {
		return fmt.Errorf("set location: %w", err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return fmt.Errorf("find appsink: %w", err)
	}
	d.sink = app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	return nil
}

// PipelineString returns the gst-launch description of the decode pipeline.
// The file location is set on the source element after parsing.
func PipelineString() string {
	return fmt.Sprintf(
		"filesrc name=%s ! decodebin ! videoconvert ! video/x-raw,format=RGBA ! "+
			"appsink name=%s sync=false max-buffers=4 drop=false emit-signals=false",
		srcName, sinkName,
	)
}

// ReadSample implements media.Demuxer. It returns io.EOF once the pipeline
// has drained.
func (d *Demuxer) ReadSample(ctx context.Context) (media.Sample, error) {
	if d.sink == nil {
		return media.Sample{}, fmt.Errorf("no track selected")
	}

	for {
		if err := ctx.Err(); err != nil {
			return media.Sample{}, err
		}
		if err := d.busError(); err != nil {
			return media.Sample{}, err
		}

		sample := d.sink.TryPullSample(pullInterval)
		if sample == nil {
			if d.sink.IsEOS() {
				return media.Sample{}, io.EOF
			}
			continue
		}
		return d.convert(sample)
	}
}

func (d *Demuxer) convert(sample *gst.Sample) (media.Sample, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return media.Sample{}, fmt.Errorf("sample without buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	// The pipeline reuses the buffer; frames outlive it.
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()

	s := media.Sample{
		Data: out,
		PTS:  time.Duration(buffer.PresentationTimestamp()),
	}
	if !d.capsSent {
		if caps := sample.GetCaps(); caps != nil {
			s.Caps = caps.String()
			d.capsSent = true
		}
	}
	return s, nil
}

func (d *Demuxer) busError() error {
	bus := d.pipeline.GetPipelineBus()
	msg := bus.TimedPop(0)
	if msg == nil {
		return nil
	}
	if msg.Type() == gst.MessageError {
		gerr := msg.ParseError()
		d.logger.Warn().Str("debug", gerr.DebugString()).Msg("pipeline error")
		if isNotFound(gerr.Error()) {
			return fmt.Errorf("%w: %s", media.ErrInvalidSource, gerr.Error())
		}
		return fmt.Errorf("pipeline error: %s", gerr.Error())
	}
	return nil
}

func isNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not found") || strings.Contains(m, "no such file") || strings.Contains(m, "could not open")
}

// Close stops the pipeline. It is safe to call more than once.
func (d *Demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.pipeline == nil {
		return nil
	}
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("stop pipeline: %w", err)
	}
	return nil
}
