/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/beatsync/internal/tempo"
)

// DefaultSpotifyBaseURL is the Spotify Web API root.
const DefaultSpotifyBaseURL = "https://api.spotify.com"

// ErrUnauthorized means the access token was rejected or has expired.
var ErrUnauthorized = errors.New("spotify: access token rejected")

// Spotify polls the Web API player endpoint. Token acquisition happens
// elsewhere; Spotify only presents the bearer token it is given.
type Spotify struct {
	baseURL string
	http    *http.Client
	token   func() string
}

// NewSpotify creates a Spotify fetcher. token is called for every request so
// refreshed tokens are picked up.
func NewSpotify(baseURL string, token func() string) *Spotify {
	if baseURL == "" {
		baseURL = DefaultSpotifyBaseURL
	}
	return &Spotify{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		token: token,
	}
}

// Name implements Fetcher.
func (s *Spotify) Name() string { return "spotify" }

type currentlyPlaying struct {
	IsPlaying bool `json:"is_playing"`
	Item      *struct {
		Name    string `json:"name"`
		URI     string `json:"uri"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"item"`
}

// Fetch returns the currently playing track, or nil when nothing (or a
// non-track item such as an ad) is playing.
func (s *Spotify) Fetch(ctx context.Context) (*tempo.Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/me/player/currently-playing", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token())

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("currently-playing: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("currently-playing: unexpected status %d", resp.StatusCode)
	}

	var body currentlyPlaying
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode currently-playing: %w", err)
	}
	if body.Item == nil || body.Item.Name == "" {
		return nil, nil
	}

	track := &tempo.Track{
		Title: body.Item.Name,
		ID:    TrackID(body.Item.URI),
	}
	if len(body.Item.Artists) > 0 {
		track.Artist = body.Item.Artists[0].Name
	}
	return track, nil
}

// TrackID returns the last ':'-separated segment of a Spotify URI.
func TrackID(uri string) string {
	if i := strings.LastIndexByte(uri, ':'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
