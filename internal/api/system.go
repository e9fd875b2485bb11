// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"

	"github.com/xmodpt/resinctl/internal/macro"
	"github.com/xmodpt/resinctl/internal/settings"
	"github.com/xmodpt/resinctl/pkg/portal"
)

func (s *Server) handleSettingsGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Settings.Get())
}

func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var body settings.Settings
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	if err := s.Settings.Update(body); err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, "%v", err)

			return
		}

		writeError(w, http.StatusInternalServerError, "save settings: %v", err)

		return
	}

	writeOK(w, "settings saved")
}

func (s *Server) handleSettingsReset(w http.ResponseWriter, _ *http.Request) {
	defaults, err := s.Settings.Reset()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reset settings: %v", err)

		return
	}

	writeJSON(w, http.StatusOK, defaults)
}

// addonInfo describes one configured addon to the client.
type addonInfo struct {
	Name string `json:"name"`
	Help string `json:"help"`
}

func (s *Server) handleAddonsList(w http.ResponseWriter, _ *http.Request) {
	infos := make([]addonInfo, 0, len(s.Addons))

	for _, a := range s.Addons {
		infos = append(infos, addonInfo{Name: a.Config.Name, Help: a.Help()})
	}

	writeJSON(w, http.StatusOK, infos)
}

// addonRunBody carries the runtime arguments of an addon invocation.
type addonRunBody struct {
	Args []string `json:"args"`
}

// addonRunResult returns the captured addon output.
type addonRunResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

func (s *Server) handleAddonRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	a, err := s.Addons.Find(name)
	if err != nil {
		if errors.Is(err, portal.ErrAddonNotFound) {
			writeError(w, http.StatusNotFound, "%v: %q", err, name)

			return
		}

		writeError(w, http.StatusInternalServerError, "%v", err)

		return
	}

	var body addonRunBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	sesh := &runSession{}

	if err := a.Run(r.Context(), sesh, body.Args...); err != nil {
		writeError(w, http.StatusBadRequest, "addon %q: %v", name, err)

		return
	}

	writeJSON(w, http.StatusOK, addonRunResult{Success: true, Output: sesh.buf.String()})
}

func (s *Server) handleMacrosList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Macros.Names())
}

// macroRunBody carries the macro arguments by placeholder name.
type macroRunBody struct {
	Args map[string]string `json:"args"`
}

func (s *Server) handleMacroRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var body macroRunBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	gcode, err := s.Macros.Expand(name, body.Args)
	if err != nil {
		if errors.Is(err, macro.ErrMacroNotFound) {
			writeError(w, http.StatusNotFound, "%v", err)

			return
		}

		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	fixed, res, err := s.Controller.Command(r.Context(), gcode)
	if err != nil {
		writeError(w, http.StatusBadGateway, "macro %q: %v", name, err)

		return
	}

	writeJSON(w, http.StatusOK, commandResult{
		Success:  res.OK,
		Response: fixed,
		Acks:     res.Acks,
		Kind:     res.Kind.String(),
	})
}

func (s *Server) handleUSBStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.USB.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "usb status: %v", err)

		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status       any `json:"status"`
		Installation any `json:"installation"`
	}{Status: status, Installation: s.USB.CheckInstallation()})
}

func (s *Server) handleUSBStart(w http.ResponseWriter, r *http.Request) {
	if err := s.USB.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)

		return
	}

	writeOK(w, "usb gadget started")
}

func (s *Server) handleUSBStop(w http.ResponseWriter, r *http.Request) {
	if err := s.USB.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)

		return
	}

	writeOK(w, "usb gadget stopped")
}

func (s *Server) handleUSBRecover(w http.ResponseWriter, r *http.Request) {
	if err := s.USB.Recover(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)

		return
	}

	writeOK(w, "usb gadget recovered")
}

// cameraBody describes the streamer endpoints and its liveness.
type cameraBody struct {
	Enabled     bool   `json:"enabled"`
	Alive       bool   `json:"alive"`
	StreamURL   string `json:"stream_url,omitempty"`
	SnapshotURL string `json:"snapshot_url,omitempty"`
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	if s.Camera == nil {
		writeJSON(w, http.StatusOK, cameraBody{})

		return
	}

	writeJSON(w, http.StatusOK, cameraBody{
		Enabled:     true,
		Alive:       s.Camera.Alive(r.Context()),
		StreamURL:   s.Camera.StreamURL(),
		SnapshotURL: s.Camera.SnapshotURL(),
	})
}
