/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lastfm looks up track tempos from Last.fm tags and wiki text.
package lastfm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/beatsync/internal/tempo"
)

// DefaultBaseURL is the Last.fm REST endpoint.
const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

const userAgent = "BeatSync/1.0"

// errorTrackNotFound is the Last.fm API error code for an unknown track.
const errorTrackNotFound = 6

var bpmPattern = regexp.MustCompile(`(?i)(\d{2,3})\s?(bpm|beats per minute)`)

// Client queries Last.fm. It implements tempo.Source.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint, for tests and proxies.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a Last.fm client.
func New(apiKey string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "lastfm").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements tempo.Named.
func (c *Client) Name() string { return "lastfm" }

// FetchBPM looks for a tempo in the track's top tags first, then in its wiki
// summary and content. It returns tempo.ErrNotFound when neither mentions one.
func (c *Client) FetchBPM(ctx context.Context, artist, title string) (float64, error) {
	bpm, tagErr := c.fromTopTags(ctx, artist, title)
	if tagErr == nil {
		return bpm, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if !errors.Is(tagErr, tempo.ErrNotFound) {
		c.logger.Debug().Err(tagErr).Str("artist", artist).Str("title", title).Msg("top tags lookup failed")
	}

	bpm, infoErr := c.fromTrackInfo(ctx, artist, title)
	if infoErr == nil {
		return bpm, nil
	}
	if errors.Is(infoErr, tempo.ErrNotFound) && !errors.Is(tagErr, tempo.ErrNotFound) {
		// nothing found in the wiki, but tags were never checked
		return 0, tagErr
	}
	return 0, infoErr
}

type topTagsResponse struct {
	TopTags struct {
		Tag []struct {
			Name string `json:"name"`
		} `json:"tag"`
	} `json:"toptags"`
}

type trackInfoResponse struct {
	Track struct {
		Wiki struct {
			Summary string `json:"summary"`
			Content string `json:"content"`
		} `json:"wiki"`
	} `json:"track"`
}

type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

func (c *Client) fromTopTags(ctx context.Context, artist, title string) (float64, error) {
	var resp topTagsResponse
	if err := c.call(ctx, "track.getTopTags", artist, title, &resp); err != nil {
		return 0, err
	}
	for _, tag := range resp.TopTags.Tag {
		if bpm, ok := ExtractBPM(tag.Name); ok {
			return bpm, nil
		}
	}
	return 0, tempo.ErrNotFound
}

func (c *Client) fromTrackInfo(ctx context.Context, artist, title string) (float64, error) {
	var resp trackInfoResponse
	if err := c.call(ctx, "track.getInfo", artist, title, &resp); err != nil {
		return 0, err
	}
	if bpm, ok := ExtractBPM(resp.Track.Wiki.Summary); ok {
		return bpm, nil
	}
	if bpm, ok := ExtractBPM(resp.Track.Wiki.Content); ok {
		return bpm, nil
	}
	return 0, tempo.ErrNotFound
}

func (c *Client) call(ctx context.Context, method, artist, title string, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("method", method)
	q.Set("artist", artist)
	q.Set("track", title)
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return tempo.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}

	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != 0 {
		if apiErr.Error == errorTrackNotFound {
			return tempo.ErrNotFound
		}
		return fmt.Errorf("%s: api error %d: %s", method, apiErr.Error, apiErr.Message)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

// ExtractBPM finds the first "<2-3 digits> bpm" or "... beats per minute"
// mention in text.
func ExtractBPM(text string) (float64, bool) {
	m := bpmPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return float64(n), true
}
