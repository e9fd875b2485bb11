// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strings"

	"github.com/xmodpt/resinctl/pkg/printer"
)

// statusBody is the full agent status snapshot.
type statusBody struct {
	Connected    bool           `json:"connected"`
	Firmware     string         `json:"firmware,omitempty"`
	SelectedFile string         `json:"selected_file,omitempty"`
	ZPosition    float64        `json:"z_position"`
	Print        printer.Status `json:"print"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := statusBody{
		Connected:    s.Controller.Connected(),
		Firmware:     s.Controller.Firmware(),
		SelectedFile: s.Controller.SelectedFile(),
		Print:        s.Controller.Status(r.Context()),
	}

	if body.Connected {
		if z, err := s.Controller.ZPosition(r.Context()); err == nil {
			body.ZPosition = z
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Connect(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "connect printer: %v", err)

		return
	}

	writeOK(w, "printer connected, firmware "+s.Controller.Firmware())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.Controller.Disconnect(); err != nil {
		writeError(w, http.StatusInternalServerError, "disconnect printer: %v", err)

		return
	}

	writeOK(w, "printer disconnected")
}

// commandBody is a raw G-code exchange request.
type commandBody struct {
	Command string `json:"command"`
}

// commandResult mirrors the exchange outcome for the client.
type commandResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Acks     int    `json:"acks"`
	Kind     string `json:"kind"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var body commandBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	if strings.TrimSpace(body.Command) == "" {
		writeError(w, http.StatusBadRequest, "empty command")

		return
	}

	fixed, res, err := s.Controller.Command(r.Context(), body.Command)
	if err != nil {
		writeError(w, http.StatusBadGateway, "exchange failed: %v", err)

		return
	}

	writeJSON(w, http.StatusOK, commandResult{
		Success:  res.OK,
		Response: fixed,
		Acks:     res.Acks,
		Kind:     res.Kind.String(),
	})
}

// printStartBody optionally names the file to print.
type printStartBody struct {
	File string `json:"file"`
}

func (s *Server) handlePrintStart(w http.ResponseWriter, r *http.Request) {
	var body printStartBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	if err := s.Controller.StartPrint(r.Context(), body.File); err != nil {
		writeError(w, http.StatusBadGateway, "start print: %v", err)

		return
	}

	writeOK(w, "print started")
}

func (s *Server) handlePrintPause(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.PausePrint(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "pause print: %v", err)

		return
	}

	writeOK(w, "print paused")
}

func (s *Server) handlePrintResume(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.ResumePrint(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "resume print: %v", err)

		return
	}

	writeOK(w, "print resumed")
}

func (s *Server) handlePrintStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.StopPrint(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "stop print: %v", err)

		return
	}

	writeOK(w, "print stopped")
}

// moveBody is a relative Z move request in millimeters.
type moveBody struct {
	Distance float64 `json:"distance"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	if body.Distance == 0 {
		writeError(w, http.StatusBadRequest, "distance must be non-zero")

		return
	}

	if err := s.Controller.MoveBy(r.Context(), body.Distance); err != nil {
		writeError(w, http.StatusBadGateway, "move: %v", err)

		return
	}

	writeOK(w, "move done")
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Home(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "home: %v", err)

		return
	}

	writeOK(w, "homed")
}

func (s *Server) handleReboot(w http.ResponseWriter, _ *http.Request) {
	if err := s.Controller.Reboot(); err != nil {
		writeError(w, http.StatusBadGateway, "reboot: %v", err)

		return
	}

	writeOK(w, "printer rebooting")
}
