/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ResolverConfig configures locator resolution.
type ResolverConfig struct {
	CacheDir string // where remote sources are materialized

	S3Region          string
	S3Endpoint        string // for S3-compatible services (MinIO, Spaces, etc.)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	HTTPTimeout time.Duration
}

// Resolver maps locators (plain paths, file://, http(s)://, s3://) to local
// files. Remote objects are fetched once into the cache directory.
type Resolver struct {
	cfg    ResolverConfig
	logger zerolog.Logger
	http   *http.Client
	cache  *FilesystemCache

	s3Once sync.Once
	s3     *s3.Client
	s3Err  error

	mu       sync.Mutex
	resolved map[string]string
}

// NewResolver creates a locator resolver.
func NewResolver(cfg ResolverConfig, logger zerolog.Logger) *Resolver {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "beatsync-media")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	return &Resolver{
		cfg:      cfg,
		logger:   logger.With().Str("component", "resolver").Logger(),
		http:     &http.Client{Timeout: cfg.HTTPTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		cache:    NewFilesystemCache(cfg.CacheDir, logger),
		resolved: make(map[string]string),
	}
}

// WithS3Client injects a preconfigured S3 client.
func (r *Resolver) WithS3Client(client *s3.Client) *Resolver {
	r.s3Once.Do(func() {})
	r.s3 = client
	return r
}

// Resolve returns a readable local path for locator. Errors wrapping
// ErrInvalidSource are permanent.
func (r *Resolver) Resolve(ctx context.Context, locator string) (string, error) {
	if strings.TrimSpace(locator) == "" {
		return "", fmt.Errorf("%w: empty locator", ErrInvalidSource)
	}

	r.mu.Lock()
	cached, ok := r.resolved[locator]
	r.mu.Unlock()
	if ok {
		if _, err := os.Stat(cached); err == nil {
			return cached, nil
		}
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: parse locator: %v", ErrInvalidSource, err)
	}

	var local string
	switch u.Scheme {
	case "", "file":
		local, err = r.resolveFile(locator, u)
	case "http", "https":
		local, err = r.resolveHTTP(ctx, locator)
	case "s3":
		local, err = r.resolveS3(ctx, locator, u)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, u.Scheme)
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.resolved[locator] = local
	r.mu.Unlock()
	return local, nil
}

func (r *Resolver) resolveFile(locator string, u *url.URL) (string, error) {
	p := locator
	if u.Scheme == "file" {
		p = u.Path
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrInvalidSource, p)
		}
		return "", fmt.Errorf("stat %s: %w", p, err)
	}
	if st.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidSource, p)
	}
	return p, nil
}

func (r *Resolver) resolveHTTP(ctx context.Context, locator string) (string, error) {
	if cached, ok := r.cache.Lookup(locator); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	req.Header.Set("User-Agent", "BeatSync/1.0")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%w: %s returned %d", ErrInvalidSource, locator, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("fetch %s: unexpected status %d", locator, resp.StatusCode)
	}

	dest, err := r.cache.Store(locator, resp.Body)
	if err != nil {
		return "", err
	}
	r.logger.Info().Str("locator", locator).Str("path", dest).Msg("remote source cached")
	return dest, nil
}

func (r *Resolver) resolveS3(ctx context.Context, locator string, u *url.URL) (string, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("%w: s3 locator needs bucket and key", ErrInvalidSource)
	}

	if cached, ok := r.cache.Lookup(locator); ok {
		return cached, nil
	}

	client, err := r.s3Client(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		var noBucket *s3types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidSource, locator, err)
		}
		return "", fmt.Errorf("get s3 object %s: %w", locator, err)
	}
	defer out.Body.Close()

	dest, err := r.cache.Store(locator, out.Body)
	if err != nil {
		return "", err
	}
	r.logger.Info().Str("bucket", bucket).Str("key", key).Str("path", dest).Msg("s3 source cached")
	return dest, nil
}

func (r *Resolver) s3Client(ctx context.Context) (*s3.Client, error) {
	r.s3Once.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(r.cfg.S3Region),
		}
		if r.cfg.S3AccessKeyID != "" && r.cfg.S3SecretAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(r.cfg.S3AccessKeyID, r.cfg.S3SecretAccessKey, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			r.s3Err = fmt.Errorf("load aws config: %w", err)
			return
		}

		r.s3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if r.cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(r.cfg.S3Endpoint)
			}
			o.UsePathStyle = r.cfg.S3UsePathStyle
		})
	})
	return r.s3, r.s3Err
}
