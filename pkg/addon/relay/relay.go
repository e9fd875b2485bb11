// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relay provides an addon that switches a GPIO relay board wired to
// the Raspberry Pi, e.g. for chamber lights, fans or the printer's mains
// power.
package relay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/stianeikeland/go-rpio/v4"
	"github.com/xmodpt/resinctl/pkg/addon"
)

func init() {
	addon.Register(addon.Record{
		ID:  "relay",
		New: func() addon.Addon { return &Relay{} },
	})
}

// Channel describes one relay on the board.
type Channel struct {
	Name   string `yaml:"name" validate:"required"`
	Pin    uint8  `yaml:"pin" validate:"required"`
	Invert bool   `yaml:"invert"` // active-low boards pull the pin low to close the relay
}

// Relay is the addon controlling a set of relay channels.
type Relay struct {
	Channels []Channel `yaml:"channels" validate:"min=1,dive"`

	states map[string]bool
	gpio   gpio
}

// gpio abstracts the pin operations so tests can run without /dev/gpiomem.
type gpio interface {
	set(pin uint8, high bool) error
}

var _ addon.Addon = &Relay{}

const usage = `
ARGUMENTS:
	on <name> | off <name> | toggle <name> | status

`

func (r *Relay) Help() string {
	log.Println("relay addon: Help called")

	help := strings.Builder{}
	help.WriteString("Switch GPIO relay channels\n")
	help.WriteString(usage)
	help.WriteString("Configured channels:\n")

	for _, ch := range r.Channels {
		help.WriteString(fmt.Sprintf("  %s (GPIO %d, invert %v)\n", ch.Name, ch.Pin, ch.Invert))
	}

	return help.String()
}

func (r *Relay) Init() error {
	log.Println("relay addon: Init called")

	if len(r.Channels) == 0 {
		return fmt.Errorf("no relay channels configured")
	}

	seen := make(map[string]bool)

	for _, ch := range r.Channels {
		if seen[ch.Name] {
			return fmt.Errorf("duplicate relay channel %q", ch.Name)
		}

		seen[ch.Name] = true
	}

	r.states = make(map[string]bool)

	if r.gpio == nil {
		r.gpio = &memmap{}
	}

	// All channels start switched off.
	for _, ch := range r.Channels {
		if err := r.apply(ch, false); err != nil {
			return err
		}
	}

	return nil
}

func (r *Relay) Deinit() error {
	log.Println("relay addon: Deinit called")

	for _, ch := range r.Channels {
		if err := r.apply(ch, false); err != nil {
			return err
		}
	}

	return nil
}

func (r *Relay) Run(_ context.Context, s addon.Session, args ...string) error {
	log.Println("relay addon: Run called")

	if len(args) == 0 {
		return fmt.Errorf("missing action, see help")
	}

	action := args[0]

	if action == "status" {
		r.printStatus(s)

		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("action %q needs a channel name", action)
	}

	ch, err := r.channel(args[1])
	if err != nil {
		return err
	}

	var next bool

	switch action {
	case "on":
		next = true
	case "off":
		next = false
	case "toggle":
		next = !r.states[ch.Name]
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if err := r.apply(ch, next); err != nil {
		return err
	}

	s.Printf("%s: %s\n", ch.Name, onOff(next))

	return nil
}

func (r *Relay) channel(name string) (Channel, error) {
	for _, ch := range r.Channels {
		if ch.Name == name {
			return ch, nil
		}
	}

	return Channel{}, fmt.Errorf("no such relay channel: %q", name)
}

// apply drives the pin for the desired relay state, honoring active-low
// wiring.
func (r *Relay) apply(ch Channel, on bool) error {
	level := on
	if ch.Invert {
		level = !on
	}

	if err := r.gpio.set(ch.Pin, level); err != nil {
		return fmt.Errorf("relay %q: %w", ch.Name, err)
	}

	r.states[ch.Name] = on

	return nil
}

func (r *Relay) printStatus(s addon.Session) {
	names := make([]string, 0, len(r.Channels))
	for _, ch := range r.Channels {
		names = append(names, ch.Name)
	}

	sort.Strings(names)

	for _, name := range names {
		s.Printf("%s: %s\n", name, onOff(r.states[name]))
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}

	return "off"
}

// memmap drives pins through /dev/gpiomem.
type memmap struct{}

func (m *memmap) set(pin uint8, high bool) error {
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("memory map GPIO is not supported: %v", err)
	}
	defer rpio.Close()

	p := rpio.Pin(pin)
	p.Output()

	if high {
		p.High()
	} else {
		p.Low()
	}

	return nil
}
