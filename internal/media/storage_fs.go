/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FilesystemCache keeps local copies of remote sources, one file per
// locator, named by a hash of the locator.
type FilesystemCache struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemCache creates a cache rooted at rootDir. The directory is
// created on first write.
func NewFilesystemCache(rootDir string, logger zerolog.Logger) *FilesystemCache {
	return &FilesystemCache{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "media-cache").Logger(),
	}
}

// Path returns where locator is (or would be) cached. The locator's file
// extension is kept so demuxers can sniff the container.
func (fs *FilesystemCache) Path(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	ext := path.Ext(strings.SplitN(locator, "?", 2)[0])
	if len(ext) > 6 {
		ext = ""
	}
	return filepath.Join(fs.rootDir, hex.EncodeToString(sum[:12])+ext)
}

// Lookup returns the cached path for locator if present.
func (fs *FilesystemCache) Lookup(locator string) (string, bool) {
	p := fs.Path(locator)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}

// Store writes body as the cached copy of locator. The file appears
// atomically: readers never see a partial download.
func (fs *FilesystemCache) Store(locator string, body io.Reader) (string, error) {
	dest := fs.Path(locator)
	if err := os.MkdirAll(fs.rootDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(fs.rootDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move into cache: %w", err)
	}

	fs.logger.Debug().Str("locator", locator).Str("path", dest).Int64("bytes", n).Msg("source cached")
	return dest, nil
}

// Delete removes the cached copy of locator.
func (fs *FilesystemCache) Delete(locator string) error {
	if err := os.Remove(fs.Path(locator)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached file: %w", err)
	}
	return nil
}

// CheckAccess verifies the cache directory is usable, creating it if needed.
func (fs *FilesystemCache) CheckAccess() error {
	if err := os.MkdirAll(fs.rootDir, 0o755); err != nil {
		return fmt.Errorf("cannot create media cache: %w", err)
	}
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		return fmt.Errorf("cannot access media cache: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media cache is not a directory: %s", fs.rootDir)
	}
	return nil
}
