// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// dispatch routes a subcommand to the matching agent endpoint.
//
//nolint:cyclop
func (app *application) dispatch(cmd string, args []string) error {
	switch cmd {
	case "status":
		return app.get("/api/status")
	case "connect":
		return app.post("/api/connect", nil)
	case "disconnect":
		return app.post("/api/disconnect", nil)
	case "send":
		if len(args) != 1 {
			return errInvalidCmdline
		}

		return app.post("/api/command", map[string]string{"command": args[0]})
	case "print":
		return app.dispatchPrint(args)
	case "move":
		if len(args) != 1 {
			return errInvalidCmdline
		}

		distance, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid distance %q: %w", args[0], err)
		}

		return app.post("/api/move", map[string]float64{"distance": distance})
	case "home":
		return app.post("/api/home", nil)
	case "reboot":
		return app.post("/api/reboot", nil)
	case "files":
		if len(args) == 2 && args[0] == "delete" {
			return app.delete("/api/files/" + args[1])
		}

		if len(args) == 2 && args[0] == "info" {
			return app.get("/api/files/" + args[1] + "/info")
		}

		if len(args) != 0 {
			return errInvalidCmdline
		}

		return app.get("/api/files")
	case "settings":
		if len(args) == 1 && args[0] == "reset" {
			return app.post("/api/settings/reset", nil)
		}

		if len(args) != 0 {
			return errInvalidCmdline
		}

		return app.get("/api/settings")
	case "addons":
		return app.get("/api/addons")
	case "addon":
		if len(args) == 0 {
			return errInvalidCmdline
		}

		return app.post("/api/addons/"+args[0]+"/run", map[string]any{"args": args[1:]})
	case "macros":
		return app.get("/api/macros")
	case "macro":
		if len(args) == 0 {
			return errInvalidCmdline
		}

		return app.post("/api/macros/"+args[0]+"/run", map[string]any{"args": keyValues(args[1:])})
	case "usb":
		return app.dispatchUSB(args)
	default:
		return errInvalidCmdline
	}
}

func (app *application) dispatchPrint(args []string) error {
	if len(args) == 0 {
		return errInvalidCmdline
	}

	switch args[0] {
	case "start":
		body := map[string]string{}
		if len(args) == 2 {
			body["file"] = args[1]
		}

		return app.post("/api/print/start", body)
	case "pause", "resume", "stop":
		if len(args) != 1 {
			return errInvalidCmdline
		}

		return app.post("/api/print/"+args[0], nil)
	default:
		return errInvalidCmdline
	}
}

func (app *application) dispatchUSB(args []string) error {
	if len(args) != 1 {
		return errInvalidCmdline
	}

	switch args[0] {
	case "status":
		return app.get("/api/usb/status")
	case "start", "stop", "recover":
		return app.post("/api/usb/"+args[0], nil)
	default:
		return errInvalidCmdline
	}
}

// keyValues parses key=value arguments into a map.
func keyValues(args []string) map[string]string {
	kv := make(map[string]string, len(args))

	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			continue
		}

		kv[key] = value
	}

	return kv
}

func (app *application) url(path string) string {
	return fmt.Sprintf("http://%s%s", app.serverAddr, path)
}

func (app *application) get(path string) error {
	resp, err := app.client.Get(app.url(path))
	if err != nil {
		return err
	}

	return app.render(resp)
}

func (app *application) post(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := app.client.Post(app.url(path), "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}

	return app.render(resp)
}

func (app *application) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, app.url(path), nil)
	if err != nil {
		return err
	}

	resp, err := app.client.Do(req)
	if err != nil {
		return err
	}

	return app.render(resp)
}

// render pretty-prints the agent's JSON response.
func (app *application) render(resp *http.Response) error {
	defer resp.Body.Close()

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(app.stdout, string(out))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("agent returned %s", resp.Status)
	}

	return nil
}
