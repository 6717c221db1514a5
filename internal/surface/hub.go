/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package surface presents decoded frames to websocket viewers as JPEG
// images.
package surface

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/beatsync/internal/media"
	"github.com/friendsincode/beatsync/internal/telemetry"
)

// ErrUnsupportedFormat is returned for frames the hub cannot encode.
var ErrUnsupportedFormat = errors.New("unsupported frame format")

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 75

const viewerBuffer = 2

type viewer struct {
	frames chan []byte
}

// Hub fans frames out to connected viewers. Frames are encoded only while at
// least one viewer is connected, on a single encoder goroutine that keeps
// only the newest pending frame. Slow viewers and a busy encoder lose frames
// instead of blocking playback.
type Hub struct {
	quality int
	logger  zerolog.Logger

	pending   chan media.Frame
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	latest  []byte
}

var _ media.Surface = (*Hub)(nil)

// NewHub creates a hub encoding at the given JPEG quality (1-100).
func NewHub(quality int, logger zerolog.Logger) *Hub {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	h := &Hub{
		quality: quality,
		logger:  logger.With().Str("component", "surface").Logger(),
		pending: make(chan media.Frame, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		viewers: make(map[*viewer]struct{}),
	}
	go h.encodeLoop()
	return h
}

// Close stops the encoder goroutine. Frames presented afterwards are dropped.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.stop) })
	<-h.done
	return nil
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Latest returns the most recently encoded frame, or nil.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Present implements media.Surface. It validates and copies the frame, then
// returns without waiting for the encoder; the decoder may reuse f.Data as
// soon as it returns.
func (h *Hub) Present(ctx context.Context, f media.Frame) error {
	if h.Viewers() == 0 {
		return nil
	}
	if _, err := toImage(f); err != nil {
		return err
	}

	f.Data = append([]byte(nil), f.Data...)
	select {
	case h.pending <- f:
		return nil
	default:
	}

	// Replace the frame the encoder has not picked up yet.
	select {
	case <-h.pending:
		telemetry.SurfaceFramesDropped.Inc()
	default:
	}
	select {
	case h.pending <- f:
	default:
		telemetry.SurfaceFramesDropped.Inc()
	}
	return nil
}

func (h *Hub) encodeLoop() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case f := <-h.pending:
			data, err := h.encode(f)
			if err != nil {
				h.logger.Debug().Err(err).Dur("pts", f.PTS).Msg("frame not encoded")
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) encode(f media.Frame) ([]byte, error) {
	img, err := toImage(f)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: h.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	for v := range h.viewers {
		select {
		case v.frames <- data:
		default:
			telemetry.SurfaceFramesDropped.Inc()
		}
	}
}

func (h *Hub) add() *viewer {
	v := &viewer{frames: make(chan []byte, viewerBuffer)}
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	n := len(h.viewers)
	h.mu.Unlock()
	telemetry.SurfaceViewers.Set(float64(n))
	return v
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	delete(h.viewers, v)
	n := len(h.viewers)
	if n == 0 {
		h.latest = nil
	}
	h.mu.Unlock()
	telemetry.SurfaceViewers.Set(float64(n))
}

// ServeHTTP upgrades the request to a websocket and streams frames as
// binary JPEG messages until the viewer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Viewers never send; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	v := h.add()
	defer h.remove(v)
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("viewer connected")

	if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"init","content_type":"image/jpeg"}`)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case frame := <-v.frames:
			if err := conn.Write(ctx, ws.MessageBinary, frame); err != nil {
				h.logger.Debug().Err(err).Msg("viewer write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func toImage(f media.Frame) (image.Image, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedFormat, f.Width, f.Height)
	}
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case "RGBA", "":
		if len(f.Data) < f.Width*f.Height*4 {
			return nil, fmt.Errorf("%w: short RGBA buffer (%d bytes for %dx%d)", ErrUnsupportedFormat, len(f.Data), f.Width, f.Height)
		}
		return &image.RGBA{Pix: f.Data, Stride: f.Width * 4, Rect: rect}, nil
	case "GRAY8":
		if len(f.Data) < f.Width*f.Height {
			return nil, fmt.Errorf("%w: short GRAY8 buffer", ErrUnsupportedFormat)
		}
		return &image.Gray{Pix: f.Data, Stride: f.Width, Rect: rect}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
}
