// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recordedRequest captures what the agent would have received.
type recordedRequest struct {
	method string
	path   string
	body   string
}

func newTestApp(t *testing.T, status int, response string) (*application, *recordedRequest, *bytes.Buffer) {
	t.Helper()

	var rec recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec = recordedRequest{method: r.Method, path: r.URL.Path, body: string(raw)}

		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer

	app := &application{
		stdout:     &stdout,
		stderr:     io.Discard,
		serverAddr: u.Host,
		client:     srv.Client(),
	}

	return app, &rec, &stdout
}

func TestDispatchRoutes(t *testing.T) {
	tests := []struct {
		name       string
		cmd        string
		args       []string
		wantMethod string
		wantPath   string
		wantBody   string
	}{
		{name: "status", cmd: "status", wantMethod: http.MethodGet, wantPath: "/api/status"},
		{name: "connect", cmd: "connect", wantMethod: http.MethodPost, wantPath: "/api/connect"},
		{name: "send", cmd: "send", args: []string{"M114"}, wantMethod: http.MethodPost, wantPath: "/api/command", wantBody: `{"command":"M114"}`},
		{name: "print start", cmd: "print", args: []string{"start", "benchy.ctb"}, wantMethod: http.MethodPost, wantPath: "/api/print/start", wantBody: `{"file":"benchy.ctb"}`},
		{name: "print pause", cmd: "print", args: []string{"pause"}, wantMethod: http.MethodPost, wantPath: "/api/print/pause"},
		{name: "move", cmd: "move", args: []string{"2.5"}, wantMethod: http.MethodPost, wantPath: "/api/move", wantBody: `{"distance":2.5}`},
		{name: "reboot", cmd: "reboot", wantMethod: http.MethodPost, wantPath: "/api/reboot"},
		{name: "files", cmd: "files", wantMethod: http.MethodGet, wantPath: "/api/files"},
		{name: "files delete", cmd: "files", args: []string{"delete", "benchy.ctb"}, wantMethod: http.MethodDelete, wantPath: "/api/files/benchy.ctb"},
		{name: "files info", cmd: "files", args: []string{"info", "benchy.ctb"}, wantMethod: http.MethodGet, wantPath: "/api/files/benchy.ctb/info"},
		{name: "settings", cmd: "settings", wantMethod: http.MethodGet, wantPath: "/api/settings"},
		{name: "settings reset", cmd: "settings", args: []string{"reset"}, wantMethod: http.MethodPost, wantPath: "/api/settings/reset"},
		{name: "addon run", cmd: "addon", args: []string{"relay", "on", "light"}, wantMethod: http.MethodPost, wantPath: "/api/addons/relay/run", wantBody: `{"args":["on","light"]}`},
		{name: "macro run", cmd: "macro", args: []string{"raise", "height=50"}, wantMethod: http.MethodPost, wantPath: "/api/macros/raise/run", wantBody: `{"args":{"height":"50"}}`},
		{name: "usb recover", cmd: "usb", args: []string{"recover"}, wantMethod: http.MethodPost, wantPath: "/api/usb/recover"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, rec, _ := newTestApp(t, http.StatusOK, `{"success":true}`)

			if err := app.dispatch(tt.cmd, tt.args); err != nil {
				t.Fatalf("dispatch failed: %v", err)
			}

			if rec.method != tt.wantMethod || rec.path != tt.wantPath {
				t.Errorf("request = %s %s, want %s %s", rec.method, rec.path, tt.wantMethod, tt.wantPath)
			}

			if tt.wantBody != "" && strings.TrimSpace(rec.body) != tt.wantBody {
				t.Errorf("body = %s, want %s", rec.body, tt.wantBody)
			}
		})
	}
}

func TestDispatchInvalid(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args []string
	}{
		{name: "unknown command", cmd: "frobnicate"},
		{name: "send without gcode", cmd: "send"},
		{name: "move without distance", cmd: "move"},
		{name: "print without action", cmd: "print"},
		{name: "usb unknown action", cmd: "usb", args: []string{"eject"}},
		{name: "files unknown action", cmd: "files", args: []string{"rename", "a.ctb"}},
		{name: "settings unknown action", cmd: "settings", args: []string{"purge"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _, _ := newTestApp(t, http.StatusOK, `{}`)

			if err := app.dispatch(tt.cmd, tt.args); !errors.Is(err, errInvalidCmdline) {
				t.Errorf("dispatch = %v, want errInvalidCmdline", err)
			}
		})
	}
}

func TestRenderErrorStatus(t *testing.T) {
	app, _, stdout := newTestApp(t, http.StatusBadGateway, `{"error":"no printer"}`)

	err := app.dispatch("status", nil)
	if err == nil {
		t.Fatal("dispatch returned no error for error status")
	}

	if !strings.Contains(stdout.String(), "no printer") {
		t.Errorf("stdout = %q, want error body printed", stdout.String())
	}
}

func TestExitNilError(t *testing.T) {
	var (
		stderr bytes.Buffer
		codes  []int
	)

	app := &application{
		stdout:   io.Discard,
		stderr:   &stderr,
		exitFunc: func(code int) { codes = append(codes, code) },
	}

	app.exit(nil)

	if want := []int{0}; !cmp.Equal(codes, want) {
		t.Errorf("exit codes = %v, want %v", codes, want)
	}

	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty", stderr.String())
	}
}

func TestExitError(t *testing.T) {
	var (
		stderr bytes.Buffer
		codes  []int
	)

	app := &application{
		stdout:   io.Discard,
		stderr:   &stderr,
		exitFunc: func(code int) { codes = append(codes, code) },
	}

	app.exit(errors.New("agent unreachable"))

	if want := []int{1}; !cmp.Equal(codes, want) {
		t.Errorf("exit codes = %v, want %v", codes, want)
	}

	if !strings.Contains(stderr.String(), "agent unreachable") {
		t.Errorf("stderr = %q, want the error printed", stderr.String())
	}
}

func TestKeyValues(t *testing.T) {
	got := keyValues([]string{"height=50", "speed=600", "ignored"})

	want := map[string]string{"height": "50", "speed": "600"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("keyValues mismatch (-want +got):\n%s", diff)
	}
}
