/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process and returns the root logger.
//
// Development environments log at debug level to a console writer; anything
// else logs JSON at info level. A non-empty level overrides the default.
func Setup(environment, level string) zerolog.Logger {
	return SetupFormat(environment, level, "")
}

// SetupFormat is Setup with an explicit output format, "console" or "json".
// An empty format picks by environment. Every JSON event is also copied to
// each capture writer.
func SetupFormat(environment, level, format string, capture ...io.Writer) zerolog.Logger {
	var out io.Writer = os.Stdout
	switch strings.ToLower(format) {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	default:
		if environment == "development" {
			out = zerolog.ConsoleWriter{Out: os.Stdout}
		}
	}
	if len(capture) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, capture...)...)
	}
	return SetupWithWriter(environment, level, out)
}

// SetupWithWriter is Setup with an explicit destination.
func SetupWithWriter(environment, level string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(out).With().Timestamp().Logger().Level(ParseLevel(environment, level))
	log.Logger = logger
	return logger
}

// ParseLevel resolves the effective level. Unknown names fall back to the
// environment default.
func ParseLevel(environment, level string) zerolog.Level {
	def := zerolog.InfoLevel
	if environment == "development" {
		def = zerolog.DebugLevel
	}
	if strings.TrimSpace(level) == "" {
		return def
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return def
	}
	return parsed
}
