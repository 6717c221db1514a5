/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFilesystemCacheStoreLookupDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	fc := NewFilesystemCache(root, zerolog.Nop())
	const locator = "https://cdn.example.com/loops/spin.mp4?sig=abc"

	if _, ok := fc.Lookup(locator); ok {
		t.Fatal("empty cache reported a hit")
	}

	p, err := fc.Store(locator, strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if filepath.Ext(p) != ".mp4" {
		t.Fatalf("cached path %q lost the container extension", p)
	}
	if got, ok := fc.Lookup(locator); !ok || got != p {
		t.Fatalf("lookup = %q, %v", got, ok)
	}
	data, err := os.ReadFile(p)
	if err != nil || string(data) != "payload" {
		t.Fatalf("cached data = %q, %v", data, err)
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}

	if err := fc.Delete(locator); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := fc.Delete(locator); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok := fc.Lookup(locator); ok {
		t.Fatal("entry survived delete")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestFilesystemCacheStoreFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	fc := NewFilesystemCache(root, zerolog.Nop())

	if _, err := fc.Store("s3://b/k.webm", failingReader{}); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := fc.Lookup("s3://b/k.webm"); ok {
		t.Fatal("partial download visible in cache")
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("left %d files behind", len(entries))
	}
	if err := fc.CheckAccess(); err != nil {
		t.Fatalf("check access: %v", err)
	}
}
