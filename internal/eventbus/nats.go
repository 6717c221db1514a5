/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to NATS: now-playing
// pushes arrive on "<prefix>.nowplaying" and local events leave on
// "<prefix>.events.<type>".
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/tempo"
)

// ErrEmptyTrack rejects now-playing pushes without artist or title.
var ErrEmptyTrack = errors.New("now-playing push missing artist or title")

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL    string
	Prefix string // subject prefix, e.g. "beatsync"
	NodeID string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Prefix:        "beatsync",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBus relays events between this instance and NATS.
type NATSBus struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) (*NATSBus, error) {
	def := DefaultNATSConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger = logger.With().Str("component", "nats").Logger()

	conn, err := nats.Connect(cfg.URL,
		nats.Name("beatsync-"+cfg.NodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Str("prefix", cfg.Prefix).Msg("NATS event bus connected")
	return &NATSBus{conn: conn, pub: conn, prefix: cfg.Prefix, nodeID: cfg.NodeID, logger: logger}, nil
}

// NowPlayingSubject is the subject now-playing pushes arrive on.
func (nb *NATSBus) NowPlayingSubject() string {
	return nb.prefix + ".nowplaying"
}

// EventSubject is the subject local events of type t are published on.
func (nb *NATSBus) EventSubject(t events.EventType) string {
	return nb.prefix + ".events." + string(t)
}

// SubscribeNowPlaying delivers every valid now-playing push to handle.
func (nb *NATSBus) SubscribeNowPlaying(handle func(tempo.Track)) error {
	_, err := nb.conn.Subscribe(nb.NowPlayingSubject(), func(m *nats.Msg) {
		nb.handleNowPlaying(m.Data, handle)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", nb.NowPlayingSubject(), err)
	}
	return nil
}

func (nb *NATSBus) handleNowPlaying(data []byte, handle func(tempo.Track)) {
	track, err := DecodeNowPlaying(data)
	if err != nil {
		nb.logger.Warn().Err(err).Msg("dropping now-playing push")
		return
	}
	nb.logger.Debug().Str("artist", track.Artist).Str("title", track.Title).Msg("now-playing push")
	handle(track)
}

// PublishNowPlaying broadcasts track on the now-playing subject, where every
// instance, this one included, receives it as a push.
func (nb *NATSBus) PublishNowPlaying(track tempo.Track) error {
	if strings.TrimSpace(track.Artist) == "" || strings.TrimSpace(track.Title) == "" {
		return ErrEmptyTrack
	}
	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("encode now-playing: %w", err)
	}
	if err := nb.pub.Publish(nb.NowPlayingSubject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", nb.NowPlayingSubject(), err)
	}
	return nil
}

// DecodeNowPlaying parses a now-playing push body.
func DecodeNowPlaying(data []byte) (tempo.Track, error) {
	var track tempo.Track
	if err := json.Unmarshal(data, &track); err != nil {
		return tempo.Track{}, fmt.Errorf("decode now-playing push: %w", err)
	}
	track.Artist = strings.TrimSpace(track.Artist)
	track.Title = strings.TrimSpace(track.Title)
	if track.Artist == "" || track.Title == "" {
		return tempo.Track{}, ErrEmptyTrack
	}
	return track, nil
}

// Message is the envelope of relayed events.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Relay publishes every event from bus to NATS until ctx ends.
func (nb *NATSBus) Relay(ctx context.Context, bus *events.Bus) {
	sub := bus.SubscribeBuffered(events.EventAll, 64)
	defer bus.Unsubscribe(events.EventAll, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			nb.publish(payload)
		}
	}
}

func (nb *NATSBus) publish(payload events.Payload) {
	name, _ := payload["type"].(string)
	if name == "" {
		return
	}
	eventType := events.EventType(name)
	data, err := json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nb.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}
	if err := nb.pub.Publish(nb.EventSubject(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event to NATS")
	}
}

// Close drains subscriptions and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}
