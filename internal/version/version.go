/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build metadata.
package version

import "fmt"

// Version and Commit are set at build time via ldflags:
//
//	-X github.com/friendsincode/beatsync/internal/version.Version=X.Y.Z
//	-X github.com/friendsincode/beatsync/internal/version.Commit=abc123
var (
	Version = "0.4.0"
	Commit  = "unknown"
)

// ServiceName identifies the process in traces and logs.
const ServiceName = "beatsync"

// String formats the version for display.
func String() string {
	return fmt.Sprintf("%s %s (%s)", ServiceName, Version, Commit)
}
