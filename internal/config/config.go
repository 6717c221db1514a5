/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabaseNone     DatabaseBackend = "none"
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Tempo providers.
const (
	TempoLastFM = "lastfm"
	TempoFixed  = "fixed"
	TempoNone   = "none"
)

// Now-playing providers. "none" disables the tempo bridge entirely.
const (
	NowPlayingSpotify = "spotify"
	NowPlayingStatic  = "static"
	NowPlayingPush    = "push" // HTTP and NATS pushes only
	NowPlayingNone    = "none"
)

// ErrNoLocator is returned by RequireLocator when no video is configured.
var ErrNoLocator = errors.New("BEATSYNC_VIDEO_LOCATOR must be provided")

// Config covers process level configuration. Values come from built-in
// defaults, then the optional YAML file named by BEATSYNC_CONFIG_FILE, then
// environment variables.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // console or json
	InstanceID  string `yaml:"instance_id"`

	HTTPBind string `yaml:"http_bind"`
	HTTPPort int    `yaml:"http_port"`
	GRPCPort int    `yaml:"grpc_port"` // 0 disables the gRPC health server

	// Playback
	VideoLocator   string        `yaml:"video_locator"`
	MinSpeed       float64       `yaml:"min_speed"`
	MaxSpeed       float64       `yaml:"max_speed"`
	DefaultBPM     float64       `yaml:"default_bpm"`
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	LateThreshold  time.Duration `yaml:"late_threshold"`
	FrameQuality   int           `yaml:"frame_quality"` // JPEG quality for viewers

	// Media
	MediaCacheDir     string        `yaml:"media_cache_dir"`
	DiscovererBin     string        `yaml:"discoverer_bin"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	S3AccessKeyID     string        `yaml:"s3_access_key_id"`
	S3SecretAccessKey string        `yaml:"s3_secret_access_key"`
	S3Region          string        `yaml:"s3_region"`
	S3Endpoint        string        `yaml:"s3_endpoint"`
	S3UsePathStyle    bool          `yaml:"s3_use_path_style"`

	// Tempo lookup
	TempoProvider     string        `yaml:"tempo_provider"`
	FixedBPM          float64       `yaml:"fixed_bpm"`
	TempoPollInterval time.Duration `yaml:"tempo_poll_interval"`
	LastFMAPIKey      string        `yaml:"lastfm_api_key"`
	LastFMBaseURL     string        `yaml:"lastfm_base_url"`
	TempoCacheTTL     time.Duration `yaml:"tempo_cache_ttl"`

	// Now playing
	NowPlayingProvider     string        `yaml:"nowplaying_provider"`
	NowPlayingPollInterval time.Duration `yaml:"nowplaying_poll_interval"`
	LoginRetryInterval     time.Duration `yaml:"login_retry_interval"`
	SpotifyToken           string        `yaml:"spotify_token"`
	SpotifyBaseURL         string        `yaml:"spotify_base_url"`
	StaticArtist           string        `yaml:"static_artist"`
	StaticTitle            string        `yaml:"static_title"`

	// Persistence and messaging
	DBBackend     DatabaseBackend `yaml:"db_backend"`
	DBDSN         string          `yaml:"db_dsn"`
	RedisAddr     string          `yaml:"redis_addr"` // empty disables the redis tempo cache
	RedisPassword string          `yaml:"redis_password"`
	RedisDB       int             `yaml:"redis_db"`
	NATSURL       string          `yaml:"nats_url"` // empty disables NATS
	NATSSubject   string          `yaml:"nats_subject_prefix"`

	// Only the elected instance polls the now-playing provider.
	LeaderElection bool          `yaml:"leader_election"`
	LeaderLease    time.Duration `yaml:"leader_lease"`

	// Tracing
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	ConfigFile string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Environment: "development",
		LogFormat:   "console",
		HTTPBind:    "0.0.0.0",
		HTTPPort:    8080,
		GRPCPort:    9091,

		MinSpeed:       0.5,
		MaxSpeed:       2.0,
		DefaultBPM:     120,
		DequeueTimeout: 10 * time.Millisecond,
		RetryDelay:     time.Second,
		LateThreshold:  10 * time.Millisecond,
		FrameQuality:   75,

		MediaCacheDir: "./media-cache",
		DiscovererBin: "gst-discoverer-1.0",
		FetchTimeout:  2 * time.Minute,
		S3Region:      "us-east-1",

		TempoProvider:     TempoLastFM,
		TempoPollInterval: 5 * time.Second,
		LastFMBaseURL:     "https://ws.audioscrobbler.com/2.0/",
		TempoCacheTTL:     30 * 24 * time.Hour,

		NowPlayingProvider:     NowPlayingNone,
		NowPlayingPollInterval: 5 * time.Second,
		LoginRetryInterval:     5 * time.Second,
		SpotifyBaseURL:         "https://api.spotify.com",

		DBBackend:   DatabaseNone,
		NATSSubject: "beatsync",
		LeaderLease: 15 * time.Second,

		OTLPEndpoint:      "localhost:4317",
		TracingSampleRate: 1.0,
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnvAny([]string{"BEATSYNC_CONFIG_FILE"}, ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnvAny([]string{"BEATSYNC_ENV"}, c.Environment)
	c.LogLevel = getEnvAny([]string{"BEATSYNC_LOG_LEVEL"}, c.LogLevel)
	c.LogFormat = getEnvAny([]string{"BEATSYNC_LOG_FORMAT"}, c.LogFormat)
	c.InstanceID = getEnvAny([]string{"BEATSYNC_INSTANCE_ID", "HOSTNAME"}, c.InstanceID)

	c.HTTPBind = getEnvAny([]string{"BEATSYNC_HTTP_BIND"}, c.HTTPBind)
	c.HTTPPort = getEnvIntAny([]string{"BEATSYNC_HTTP_PORT"}, c.HTTPPort)
	c.GRPCPort = getEnvIntAny([]string{"BEATSYNC_GRPC_PORT"}, c.GRPCPort)

	c.VideoLocator = getEnvAny([]string{"BEATSYNC_VIDEO_LOCATOR"}, c.VideoLocator)
	c.MinSpeed = getEnvFloatAny([]string{"BEATSYNC_MIN_SPEED"}, c.MinSpeed)
	c.MaxSpeed = getEnvFloatAny([]string{"BEATSYNC_MAX_SPEED"}, c.MaxSpeed)
	c.DefaultBPM = getEnvFloatAny([]string{"BEATSYNC_DEFAULT_BPM"}, c.DefaultBPM)
	c.DequeueTimeout = getEnvDurationAny([]string{"BEATSYNC_DEQUEUE_TIMEOUT"}, c.DequeueTimeout)
	c.RetryDelay = getEnvDurationAny([]string{"BEATSYNC_RETRY_DELAY"}, c.RetryDelay)
	c.LateThreshold = getEnvDurationAny([]string{"BEATSYNC_LATE_THRESHOLD"}, c.LateThreshold)
	c.FrameQuality = getEnvIntAny([]string{"BEATSYNC_FRAME_QUALITY"}, c.FrameQuality)

	c.MediaCacheDir = getEnvAny([]string{"BEATSYNC_MEDIA_CACHE_DIR"}, c.MediaCacheDir)
	c.DiscovererBin = getEnvAny([]string{"BEATSYNC_DISCOVERER_BIN"}, c.DiscovererBin)
	c.FetchTimeout = getEnvDurationAny([]string{"BEATSYNC_FETCH_TIMEOUT"}, c.FetchTimeout)
	c.S3AccessKeyID = getEnvAny([]string{"BEATSYNC_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, c.S3AccessKeyID)
	c.S3SecretAccessKey = getEnvAny([]string{"BEATSYNC_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, c.S3SecretAccessKey)
	c.S3Region = getEnvAny([]string{"BEATSYNC_S3_REGION", "AWS_REGION"}, c.S3Region)
	c.S3Endpoint = getEnvAny([]string{"BEATSYNC_S3_ENDPOINT", "S3_ENDPOINT"}, c.S3Endpoint)
	c.S3UsePathStyle = getEnvBoolAny([]string{"BEATSYNC_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, c.S3UsePathStyle)

	c.TempoProvider = strings.ToLower(getEnvAny([]string{"BEATSYNC_TEMPO_PROVIDER"}, c.TempoProvider))
	c.FixedBPM = getEnvFloatAny([]string{"BEATSYNC_FIXED_BPM"}, c.FixedBPM)
	c.TempoPollInterval = getEnvDurationAny([]string{"BEATSYNC_TEMPO_POLL_INTERVAL"}, c.TempoPollInterval)
	c.LastFMAPIKey = getEnvAny([]string{"BEATSYNC_LASTFM_API_KEY", "LASTFM_API_KEY"}, c.LastFMAPIKey)
	c.LastFMBaseURL = getEnvAny([]string{"BEATSYNC_LASTFM_BASE_URL"}, c.LastFMBaseURL)
	c.TempoCacheTTL = getEnvDurationAny([]string{"BEATSYNC_TEMPO_CACHE_TTL"}, c.TempoCacheTTL)

	c.NowPlayingProvider = strings.ToLower(getEnvAny([]string{"BEATSYNC_NOWPLAYING_PROVIDER"}, c.NowPlayingProvider))
	c.NowPlayingPollInterval = getEnvDurationAny([]string{"BEATSYNC_NOWPLAYING_POLL_INTERVAL"}, c.NowPlayingPollInterval)
	c.LoginRetryInterval = getEnvDurationAny([]string{"BEATSYNC_LOGIN_RETRY_INTERVAL"}, c.LoginRetryInterval)
	c.SpotifyToken = getEnvAny([]string{"BEATSYNC_SPOTIFY_TOKEN", "SPOTIFY_TOKEN"}, c.SpotifyToken)
	c.SpotifyBaseURL = getEnvAny([]string{"BEATSYNC_SPOTIFY_BASE_URL"}, c.SpotifyBaseURL)
	c.StaticArtist = getEnvAny([]string{"BEATSYNC_STATIC_ARTIST"}, c.StaticArtist)
	c.StaticTitle = getEnvAny([]string{"BEATSYNC_STATIC_TITLE"}, c.StaticTitle)

	c.DBBackend = DatabaseBackend(strings.ToLower(getEnvAny([]string{"BEATSYNC_DB_BACKEND"}, string(c.DBBackend))))
	c.DBDSN = getEnvAny([]string{"BEATSYNC_DB_DSN"}, c.DBDSN)
	c.RedisAddr = getEnvAny([]string{"BEATSYNC_REDIS_ADDR"}, c.RedisAddr)
	c.RedisPassword = getEnvAny([]string{"BEATSYNC_REDIS_PASSWORD"}, c.RedisPassword)
	c.RedisDB = getEnvIntAny([]string{"BEATSYNC_REDIS_DB"}, c.RedisDB)
	c.NATSURL = getEnvAny([]string{"BEATSYNC_NATS_URL", "NATS_URL"}, c.NATSURL)
	c.NATSSubject = getEnvAny([]string{"BEATSYNC_NATS_SUBJECT_PREFIX"}, c.NATSSubject)
	c.LeaderElection = getEnvBoolAny([]string{"BEATSYNC_LEADER_ELECTION"}, c.LeaderElection)
	c.LeaderLease = getEnvDurationAny([]string{"BEATSYNC_LEADER_LEASE"}, c.LeaderLease)

	c.TracingEnabled = getEnvBoolAny([]string{"BEATSYNC_TRACING_ENABLED"}, c.TracingEnabled)
	c.OTLPEndpoint = getEnvAny([]string{"BEATSYNC_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, c.OTLPEndpoint)
	c.TracingSampleRate = getEnvFloatAny([]string{"BEATSYNC_TRACING_SAMPLE_RATE"}, c.TracingSampleRate)
}

// Validate checks ranges and enumerations. The video locator is checked
// separately by RequireLocator since only the daemon needs it.
func (c *Config) Validate() error {
	if c.MinSpeed <= 0 || c.MaxSpeed < c.MinSpeed {
		return fmt.Errorf("invalid speed bounds [%g, %g]: need 0 < min <= max", c.MinSpeed, c.MaxSpeed)
	}
	if c.DefaultBPM <= 0 {
		return fmt.Errorf("default BPM must be positive, got %g", c.DefaultBPM)
	}
	if c.DequeueTimeout <= 0 || c.RetryDelay <= 0 {
		return fmt.Errorf("dequeue timeout and retry delay must be positive")
	}
	if c.TempoPollInterval <= 0 || c.NowPlayingPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.FrameQuality < 1 || c.FrameQuality > 100 {
		return fmt.Errorf("frame quality must be within 1..100, got %d", c.FrameQuality)
	}

	switch c.TempoProvider {
	case TempoLastFM:
		if c.LastFMAPIKey == "" && c.BridgeEnabled() {
			return fmt.Errorf("BEATSYNC_LASTFM_API_KEY must be provided for the lastfm tempo provider")
		}
	case TempoFixed:
		if c.FixedBPM <= 0 {
			return fmt.Errorf("BEATSYNC_FIXED_BPM must be positive for the fixed tempo provider")
		}
	case TempoNone:
	default:
		return fmt.Errorf("unsupported tempo provider %q", c.TempoProvider)
	}

	switch c.NowPlayingProvider {
	case NowPlayingSpotify:
		if c.SpotifyToken == "" {
			return fmt.Errorf("BEATSYNC_SPOTIFY_TOKEN must be provided for the spotify now-playing provider")
		}
	case NowPlayingStatic:
		if c.StaticTitle == "" {
			return fmt.Errorf("BEATSYNC_STATIC_TITLE must be provided for the static now-playing provider")
		}
	case NowPlayingPush, NowPlayingNone:
	default:
		return fmt.Errorf("unsupported now-playing provider %q", c.NowPlayingProvider)
	}

	if c.LeaderElection {
		if c.RedisAddr == "" || c.NATSURL == "" {
			return fmt.Errorf("leader election needs BEATSYNC_REDIS_ADDR and BEATSYNC_NATS_URL")
		}
		if c.LeaderLease <= 0 {
			return fmt.Errorf("leader lease must be positive")
		}
	}

	switch c.DBBackend {
	case DatabaseNone:
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
		if c.DBDSN == "" {
			return fmt.Errorf("BEATSYNC_DB_DSN must be provided for database backend %q", c.DBBackend)
		}
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	return nil
}

// RequireLocator reports ErrNoLocator when no video is configured.
func (c *Config) RequireLocator() error {
	if strings.TrimSpace(c.VideoLocator) == "" {
		return ErrNoLocator
	}
	return nil
}

// BridgeEnabled reports whether now-playing driven tempo lookups run.
func (c *Config) BridgeEnabled() bool {
	return c.NowPlayingProvider != NowPlayingNone && c.TempoProvider != TempoNone
}

// HTTPAddr returns the listen address of the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// GRPCAddr returns the listen address of the gRPC health server, or "" when
// it is disabled.
func (c *Config) GRPCAddr() string {
	if c.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.GRPCPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("250ms") or bare
// milliseconds ("5000").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
