/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/beatsync/internal/events"
)

const eventsPingInterval = 15 * time.Second

// handleEvents streams bus events as JSON text messages. The optional
// "types" query parameter is a comma-separated filter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	ctx := conn.CloseRead(r.Context())
	filter := parseEventTypes(r.URL.Query().Get("types"))

	sub := s.opts.Bus.SubscribeBuffered(events.EventAll, 32)
	defer s.opts.Bus.Unsubscribe(events.EventAll, sub)

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			name, _ := payload["type"].(string)
			if len(filter) > 0 && !filter[events.EventType(name)] {
				continue
			}
			if err := writeEvent(ctx, conn, name, payload); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType string, payload events.Payload) error {
	body := make(events.Payload, len(payload))
	for k, v := range payload {
		if k != "type" {
			body[k] = v
		}
	}
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": body,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func parseEventTypes(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	out := make(map[events.EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[events.EventType(part)] = true
		}
	}
	return out
}
