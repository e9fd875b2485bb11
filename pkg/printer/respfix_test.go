// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package printer

import "testing"

func TestRespFix(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want string
	}{
		{
			name: "empty response unchanged",
			resp: "",
			want: "",
		},
		{
			name: "plain ok unchanged",
			resp: "ok",
			want: "ok",
		},
		{
			name: "wait replaced with busy echo",
			resp: "wait",
			want: "echo:busy processing",
		},
		{
			name: "wait prefix replaced with busy echo",
			resp: "wait a moment",
			want: "echo:busy processing",
		},
		{
			name: "CBD banner gains firmware fields",
			resp: "CBD make it",
			want: "FIRMWARE_NAME:CBD made it PROTOCOL_VERSION:V4.13",
		},
		{
			name: "ZWLF banner gains firmware fields",
			resp: "ZWLF make it",
			want: "FIRMWARE_NAME:ZWLF made it PROTOCOL_VERSION:V4.13",
		},
		{
			name: "M114 stray prefix removed",
			resp: "C: X:0.0 Y:0.0 Z:32.5",
			want: "X:0.0 Y:0.0 Z:32.5",
		},
		{
			name: "start command response normalized",
			resp: "ok V4.13",
			want: "ok startok V4.13",
		},
		{
			name: "control characters stripped",
			resp: "ok\x00\x01 T:25\r\n",
			want: "ok T:25\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRespFixer("")

			if got := f.Fix(tt.resp); got != tt.want {
				t.Errorf("Fix(%q) = %q, want %q", tt.resp, got, tt.want)
			}
		})
	}
}

func TestRespFixCustomFirmware(t *testing.T) {
	f := newRespFixer("V5.0")

	want := "FIRMWARE_NAME:CBD made it PROTOCOL_VERSION:V5.0"
	if got := f.Fix("CBD make it"); got != want {
		t.Errorf("Fix() = %q, want %q", got, want)
	}
}

func TestParseFirmwareVersion(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want string
	}{
		{
			name: "full banner",
			resp: "ok FIRMWARE_NAME:CBD made it PROTOCOL_VERSION:V4.13 MACHINE_TYPE:default",
			want: "V4.13",
		},
		{
			name: "missing protocol version",
			resp: "ok FIRMWARE_NAME:CBD made it",
			want: "",
		},
		{
			name: "missing firmware name",
			resp: "ok",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseFirmwareVersion(tt.resp); got != tt.want {
				t.Errorf("parseFirmwareVersion(%q) = %q, want %q", tt.resp, got, tt.want)
			}
		})
	}
}
