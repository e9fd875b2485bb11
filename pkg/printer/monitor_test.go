// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package printer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func runMonitor(t *testing.T, m *Monitor) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		m.Run(ctx)
		close(done)
	}()

	return func() {
		cancel()
		<-done
	}
}

func TestMonitorSkipsIdlePrinter(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev)

	m := &Monitor{Controller: c, Interval: 20 * time.Millisecond}
	stop := runMonitor(t, m)

	time.Sleep(200 * time.Millisecond)
	stop()

	if got := dev.writtenString(); got != "" {
		t.Errorf("monitor polled an idle printer: wrote %q", got)
	}
}

func TestMonitorPollsWhilePrinting(t *testing.T) {
	dev := &fakeDevice{chunks: reply(
		"SD printing byte 120/1000\nok\n",
		"SD printing byte 130/1000\nok\n",
	)}
	c := newTestController(dev)
	c.status.State = StatePrinting

	statuses := make(chan Status, 16)
	m := &Monitor{
		Controller: c,
		Interval:   20 * time.Millisecond,
		OnStatus:   func(s Status) { statuses <- s },
	}

	stop := runMonitor(t, m)

	select {
	case s := <-statuses:
		if s.State != StatePrinting {
			t.Errorf("State = %v, want %v", s.State, StatePrinting)
		}

		if s.CurrentByte != 120 {
			t.Errorf("CurrentByte = %d, want 120", s.CurrentByte)
		}
	case <-time.After(time.Second):
		t.Fatal("no status update observed")
	}

	stop()

	if got := dev.writtenString(); !strings.Contains(got, "M27\n") {
		t.Errorf("no status poll on the wire, wrote %q", got)
	}
}

func TestMonitorSkipsDisconnectedPrinter(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev)
	c.connected = false
	c.status.State = StatePrinting

	m := &Monitor{Controller: c, Interval: 20 * time.Millisecond}
	stop := runMonitor(t, m)

	time.Sleep(100 * time.Millisecond)
	stop()

	if got := dev.writtenString(); got != "" {
		t.Errorf("monitor polled a disconnected printer: wrote %q", got)
	}
}
