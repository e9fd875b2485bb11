// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package printer

import (
	"context"
	"log"
	"time"
)

// DefaultMonitorInterval is the pause between status polls.
const DefaultMonitorInterval = 3 * time.Second

// Monitor polls the print status in the background while a print is running.
// Observers receive every polled status snapshot.
type Monitor struct {
	Controller *Controller
	Interval   time.Duration

	// OnStatus, if set, is called with each polled status. Called from the
	// monitor goroutine.
	OnStatus func(Status)
}

// Run polls until the context is cancelled. It only issues status exchanges
// while a print job is active, leaving the serial line to user commands
// otherwise.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	log.Printf("printer: monitor started, interval %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Print("printer: monitor stopped")

			return
		case <-ticker.C:
			if !m.Controller.Connected() {
				continue
			}

			if state := m.Controller.LastStatus().State; state != StatePrinting && state != StatePaused {
				continue
			}

			status := m.Controller.Status(ctx)

			if m.OnStatus != nil {
				m.OnStatus(status)
			}
		}
	}
}
