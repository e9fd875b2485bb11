// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package printer

// State describes what the printer is currently doing.
type State string

const (
	StateIdle     State = "IDLE"
	StatePrinting State = "PRINTING"
	StatePaused   State = "PAUSED"
	StateFinished State = "FINISHED"
	StateError    State = "ERROR"
	StateUnknown  State = "UNKNOWN"
)

// Status is a snapshot of an SD print job as reported by the firmware.
type Status struct {
	State           State   `json:"state"`
	ProgressPercent float64 `json:"progress_percent"`
	CurrentLayer    int     `json:"current_layer"`
	TotalLayers     int     `json:"total_layers"`
	CurrentByte     int64   `json:"current_byte"`
	TotalBytes      int64   `json:"total_bytes"`
}
