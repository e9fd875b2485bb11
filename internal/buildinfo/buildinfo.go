// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buildinfo reports the version information stamped into the binary
// by the Go toolchain.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// shortHashLen is the common display length of a git commit hash.
const shortHashLen = 7

var readOnce = sync.OnceValue(read)

// VersionString returns a formatted string containing the version and build
// information of the application.
func VersionString() string {
	v := readOnce()

	built := "------"
	if !v.time.IsZero() {
		built = v.time.Format(time.UnixDate)
	}

	return fmt.Sprintf("Version: %s\nCode Revision %s from %s built with %s\n",
		v.version, v.revision, built, v.goVersion)
}

type version struct {
	version   string
	revision  string
	time      time.Time
	goVersion string
}

func read() version {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return version{version: "unknown", revision: "unknown", goVersion: "unknown"}
	}

	return version{
		version:   bi.Main.Version,
		revision:  shortHash(setting(bi, "vcs.revision")),
		time:      buildTime(setting(bi, "vcs.time")),
		goVersion: bi.GoVersion,
	}
}

func setting(bi *debug.BuildInfo, key string) string {
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}

	return ""
}

func shortHash(revision string) string {
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return "unset"
	}

	if len(revision) > shortHashLen {
		revision = revision[:shortHashLen]
	}

	return revision
}

// buildTime parses the RFC3339 timestamp exported by the toolchain.
func buildTime(stamp string) time.Time {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return time.Time{}
	}

	return t
}
