// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api serves the HTTP/JSON interface of the agent. Every browser
// and CLI interaction goes through these handlers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/xmodpt/resinctl/internal/camera"
	"github.com/xmodpt/resinctl/internal/macro"
	"github.com/xmodpt/resinctl/internal/settings"
	"github.com/xmodpt/resinctl/internal/store"
	"github.com/xmodpt/resinctl/internal/thumb"
	"github.com/xmodpt/resinctl/internal/usbgadget"
	"github.com/xmodpt/resinctl/pkg/portal"
	"github.com/xmodpt/resinctl/pkg/printer"
)

// Printer is the controller surface the API needs. *printer.Controller
// satisfies it.
type Printer interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Firmware() string
	SelectedFile() string
	Command(ctx context.Context, text string) (string, printer.Result, error)
	Status(ctx context.Context) printer.Status
	ZPosition(ctx context.Context) (float64, error)
	StartPrint(ctx context.Context, name string) error
	PausePrint(ctx context.Context) error
	ResumePrint(ctx context.Context) error
	StopPrint(ctx context.Context) error
	Home(ctx context.Context) error
	MoveBy(ctx context.Context, distance float64) error
	Reboot() error
}

var _ Printer = (*printer.Controller)(nil)

// Server bundles the agent subsystems behind the HTTP API.
type Server struct {
	Controller Printer
	Store      *store.Store
	Thumbs     *thumb.Manager
	USB        *usbgadget.Manager
	Camera     *camera.Camera
	Settings   *settings.Manager
	Addons     portal.Addonlist
	Macros     *macro.Set
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/command", s.handleCommand)

	mux.HandleFunc("POST /api/print/start", s.handlePrintStart)
	mux.HandleFunc("POST /api/print/pause", s.handlePrintPause)
	mux.HandleFunc("POST /api/print/resume", s.handlePrintResume)
	mux.HandleFunc("POST /api/print/stop", s.handlePrintStop)
	mux.HandleFunc("POST /api/move", s.handleMove)
	mux.HandleFunc("POST /api/home", s.handleHome)
	mux.HandleFunc("POST /api/reboot", s.handleReboot)

	mux.HandleFunc("GET /api/files", s.handleFilesList)
	mux.HandleFunc("POST /api/files", s.handleFileUpload)
	mux.HandleFunc("DELETE /api/files/{name}", s.handleFileDelete)
	mux.HandleFunc("GET /api/files/{name}/info", s.handleFileInfo)
	mux.HandleFunc("GET /api/files/{name}/thumbnail", s.handleFileThumbnail)

	mux.HandleFunc("GET /api/settings", s.handleSettingsGet)
	mux.HandleFunc("POST /api/settings", s.handleSettingsUpdate)
	mux.HandleFunc("POST /api/settings/reset", s.handleSettingsReset)

	mux.HandleFunc("GET /api/addons", s.handleAddonsList)
	mux.HandleFunc("POST /api/addons/{name}/run", s.handleAddonRun)

	mux.HandleFunc("GET /api/macros", s.handleMacrosList)
	mux.HandleFunc("POST /api/macros/{name}/run", s.handleMacroRun)

	mux.HandleFunc("GET /api/usb/status", s.handleUSBStatus)
	mux.HandleFunc("POST /api/usb/start", s.handleUSBStart)
	mux.HandleFunc("POST /api/usb/stop", s.handleUSBStop)
	mux.HandleFunc("POST /api/usb/recover", s.handleUSBRecover)

	mux.HandleFunc("GET /api/camera", s.handleCamera)

	return mux
}

// writeJSON sends v with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// errorBody is the uniform error envelope of the API.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("api: request failed: %s", msg)

	writeJSON(w, status, errorBody{Error: msg})
}

// okBody acknowledges state-changing requests without a richer payload.
type okBody struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, okBody{Success: true, Message: message})
}

// decode reads a JSON request body into v. An empty body leaves v at its
// zero value.
func decode(r *http.Request, v any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse request body: %w", err)
	}

	return nil
}

// runSession captures addon output for the HTTP response.
type runSession struct {
	buf bytes.Buffer
}

func (s *runSession) Print(a ...any)                 { fmt.Fprint(&s.buf, a...) }
func (s *runSession) Printf(format string, a ...any) { fmt.Fprintf(&s.buf, format, a...) }
func (s *runSession) Console() io.Writer             { return &s.buf }
