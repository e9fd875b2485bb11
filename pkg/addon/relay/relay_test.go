// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
)

// fakeGPIO records pin levels instead of touching /dev/gpiomem.
type fakeGPIO struct {
	levels map[uint8]bool
	err    error
}

func (f *fakeGPIO) set(pin uint8, high bool) error {
	if f.err != nil {
		return f.err
	}

	if f.levels == nil {
		f.levels = make(map[uint8]bool)
	}

	f.levels[pin] = high

	return nil
}

// bufSession collects addon output for assertions.
type bufSession struct {
	buf bytes.Buffer
}

func (s *bufSession) Print(a ...any)                 { fmt.Fprint(&s.buf, a...) }
func (s *bufSession) Printf(format string, a ...any) { fmt.Fprintf(&s.buf, format, a...) }
func (s *bufSession) Console() io.Writer             { return &s.buf }

func newTestRelay(t *testing.T, channels ...Channel) (*Relay, *fakeGPIO) {
	t.Helper()

	g := &fakeGPIO{}
	r := &Relay{Channels: channels, gpio: g}

	if err := r.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	return r, g
}

func TestRelayOnOff(t *testing.T) {
	r, g := newTestRelay(t, Channel{Name: "light", Pin: 22})

	s := &bufSession{}

	if err := r.Run(context.Background(), s, "on", "light"); err != nil {
		t.Fatalf("Run(on) failed: %v", err)
	}

	if !g.levels[22] {
		t.Error("pin 22 not high after on")
	}

	if err := r.Run(context.Background(), s, "off", "light"); err != nil {
		t.Fatalf("Run(off) failed: %v", err)
	}

	if g.levels[22] {
		t.Error("pin 22 still high after off")
	}
}

func TestRelayInvertedChannel(t *testing.T) {
	r, g := newTestRelay(t, Channel{Name: "power", Pin: 24, Invert: true})

	// Init switches every channel off: inverted wiring means the pin idles high.
	if !g.levels[24] {
		t.Error("inverted pin 24 not high while relay is off")
	}

	s := &bufSession{}

	if err := r.Run(context.Background(), s, "on", "power"); err != nil {
		t.Fatalf("Run(on) failed: %v", err)
	}

	if g.levels[24] {
		t.Error("inverted pin 24 still high after on")
	}
}

func TestRelayToggle(t *testing.T) {
	r, g := newTestRelay(t, Channel{Name: "fan", Pin: 23})

	s := &bufSession{}

	if err := r.Run(context.Background(), s, "toggle", "fan"); err != nil {
		t.Fatalf("Run(toggle) failed: %v", err)
	}

	if !g.levels[23] {
		t.Error("pin 23 not high after first toggle")
	}

	if err := r.Run(context.Background(), s, "toggle", "fan"); err != nil {
		t.Fatalf("Run(toggle) failed: %v", err)
	}

	if g.levels[23] {
		t.Error("pin 23 still high after second toggle")
	}
}

func TestRelayStatus(t *testing.T) {
	r, _ := newTestRelay(t,
		Channel{Name: "light", Pin: 22},
		Channel{Name: "fan", Pin: 23},
	)

	s := &bufSession{}

	if err := r.Run(context.Background(), s, "on", "fan"); err != nil {
		t.Fatalf("Run(on) failed: %v", err)
	}

	s.buf.Reset()

	if err := r.Run(context.Background(), s, "status"); err != nil {
		t.Fatalf("Run(status) failed: %v", err)
	}

	out := s.buf.String()
	if !strings.Contains(out, "fan: on") || !strings.Contains(out, "light: off") {
		t.Errorf("status output = %q", out)
	}
}

func TestRelayErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no action", args: nil},
		{name: "unknown action", args: []string{"blink", "light"}},
		{name: "unknown channel", args: []string{"on", "heater"}},
		{name: "missing channel name", args: []string{"on"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRelay(t, Channel{Name: "light", Pin: 22})

			if err := r.Run(context.Background(), &bufSession{}, tt.args...); err == nil {
				t.Error("Run returned no error")
			}
		})
	}
}

func TestRelayInitDuplicateChannel(t *testing.T) {
	r := &Relay{
		Channels: []Channel{
			{Name: "light", Pin: 22},
			{Name: "light", Pin: 23},
		},
		gpio: &fakeGPIO{},
	}

	if err := r.Init(); err == nil {
		t.Fatal("Init accepted duplicate channel names")
	}
}
