/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		env, level string
		want       zerolog.Level
	}{
		{"production", "", zerolog.InfoLevel},
		{"development", "", zerolog.DebugLevel},
		{"production", "warn", zerolog.WarnLevel},
		{"development", "ERROR", zerolog.ErrorLevel},
		{"production", "loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.env, tt.level); got != tt.want {
			t.Errorf("ParseLevel(%q, %q) = %v, want %v", tt.env, tt.level, got, tt.want)
		}
	}
}

func TestSetupWithWriterFiltersAndEncodesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", "info", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "engine").Msg("visible")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "visible" || entry["component"] != "engine" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupFormatCopiesToCapture(t *testing.T) {
	var capture bytes.Buffer
	logger := SetupFormat("production", "warn", "json", &capture)

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	if !bytes.Contains(capture.Bytes(), []byte(`"message":"kept"`)) {
		t.Fatalf("capture missing warn line: %q", capture.String())
	}
	if bytes.Contains(capture.Bytes(), []byte("dropped")) {
		t.Fatalf("capture has filtered line: %q", capture.String())
	}
}
