// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package printer

import (
	"log"
	"regexp"
	"strings"
)

// DefaultFirmwareVersion is reported for firmware that does not announce a
// protocol version in its identification banner.
const DefaultFirmwareVersion = "V4.13"

var m114Fix = regexp.MustCompile(`C: `)

// respFixer normalizes known quirks in firmware responses so that callers
// see a consistent protocol.
type respFixer struct {
	firmware string
	logged   map[string]bool
}

func newRespFixer(firmware string) *respFixer {
	if firmware == "" {
		firmware = DefaultFirmwareVersion
	}

	return &respFixer{
		firmware: firmware,
		logged:   make(map[string]bool),
	}
}

// Fix cleans up a raw response. The original response is never needed by
// callers, diagnostics keep the raw text from the exchange Result.
func (f *respFixer) Fix(resp string) string {
	if resp == "" {
		return resp
	}

	resp = stripUnprintable(resp)

	// Some boards report "wait" while busy instead of the usual echo.
	if strings.HasPrefix(resp, "wait") {
		fixed := "echo:busy processing"
		f.logReplacement("wait", resp, fixed)

		return fixed
	}

	// CBD and ZWLF boards answer M115 with a bare "make it" banner that
	// lacks the FIRMWARE_NAME / PROTOCOL_VERSION fields.
	if strings.Contains(resp, "CBD make it") {
		fixed := strings.ReplaceAll(resp, "CBD make it",
			"FIRMWARE_NAME:CBD made it PROTOCOL_VERSION:"+f.firmware)
		f.logReplacement("identifier", resp, fixed)

		return fixed
	}

	if strings.Contains(resp, "ZWLF make it") {
		fixed := strings.ReplaceAll(resp, "ZWLF make it",
			"FIRMWARE_NAME:ZWLF made it PROTOCOL_VERSION:"+f.firmware)
		f.logReplacement("identifier", resp, fixed)

		return fixed
	}

	// M114 position reports carry a stray "C: " prefix on some firmware.
	if strings.Contains(resp, "C: X:") {
		fixed := m114Fix.ReplaceAllString(resp, "")
		f.logReplacement("M114", resp, fixed)

		return fixed
	}

	// The start command is acknowledged with the version string only.
	if strings.HasPrefix(resp, "ok V") {
		fixed := "ok start" + resp
		f.logReplacement("start", resp, fixed)

		return fixed
	}

	return resp
}

// logReplacement logs each replacement kind once to avoid flooding the log
// during status polling.
func (f *respFixer) logReplacement(kind, original, replacement string) {
	if f.logged[kind] {
		return
	}

	log.Printf("printer: replacing %s response %q -> %q", kind, original, replacement)
	f.logged[kind] = true
}

// stripUnprintable removes control characters other than CR, LF and TAB.
// Binary garbage shows up on the line when the printer resets mid-response.
func stripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 || r == '\r' || r == '\n' || r == '\t' {
			return r
		}

		return -1
	}, s)
}
