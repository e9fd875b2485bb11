// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pimonitor provides an addon reporting the health of the host
// single board computer. It reads CPU temperature, load, memory and uptime
// from sysfs and procfs.
package pimonitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xmodpt/resinctl/pkg/addon"
)

func init() {
	addon.Register(addon.Record{
		ID:  "pimonitor",
		New: func() addon.Addon { return &PiMonitor{} },
	})
}

const (
	thermalPath = "sys/class/thermal/thermal_zone0/temp"
	loadavgPath = "proc/loadavg"
	meminfoPath = "proc/meminfo"
	uptimePath  = "proc/uptime"
)

// PiMonitor is the addon reporting host health figures.
type PiMonitor struct {
	// WarnTemp is the CPU temperature in degree Celsius above which the
	// report carries a warning marker.
	WarnTemp float64 `yaml:"warn_temp"`

	root string
}

var _ addon.Addon = &PiMonitor{}

func (p *PiMonitor) Help() string {
	return `Report host board health
Usage:
	temp | load | mem | uptime | all
Reads CPU temperature, load average, memory usage and uptime of the board
running the agent.`
}

func (p *PiMonitor) Init() error {
	log.Println("pimonitor addon: Init called")

	if p.root == "" {
		p.root = "/"
	}

	if p.WarnTemp == 0 {
		p.WarnTemp = 70
	}

	// Fail early when running on a host without the thermal zone.
	if _, err := os.Stat(filepath.Join(p.root, thermalPath)); err != nil {
		return fmt.Errorf("pimonitor: %w", err)
	}

	return nil
}

func (p *PiMonitor) Deinit() error {
	log.Println("pimonitor addon: Deinit called")

	return nil
}

func (p *PiMonitor) Run(_ context.Context, s addon.Session, args ...string) error {
	log.Println("pimonitor addon: Run called")

	what := "all"
	if len(args) > 0 {
		what = args[0]
	}

	switch what {
	case "temp":
		return p.printTemp(s)
	case "load":
		return p.printLoad(s)
	case "mem":
		return p.printMem(s)
	case "uptime":
		return p.printUptime(s)
	case "all":
		for _, f := range []func(addon.Session) error{
			p.printTemp, p.printLoad, p.printMem, p.printUptime,
		} {
			if err := f(s); err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("unknown report %q, see help", what)
	}
}

func (p *PiMonitor) printTemp(s addon.Session) error {
	temp, err := p.CPUTemp()
	if err != nil {
		return err
	}

	mark := ""
	if temp >= p.WarnTemp {
		mark = " (high)"
	}

	s.Printf("cpu temp: %.1f C%s\n", temp, mark)

	return nil
}

func (p *PiMonitor) printLoad(s addon.Session) error {
	one, five, fifteen, err := p.LoadAvg()
	if err != nil {
		return err
	}

	s.Printf("load: %.2f %.2f %.2f\n", one, five, fifteen)

	return nil
}

func (p *PiMonitor) printMem(s addon.Session) error {
	total, avail, err := p.Memory()
	if err != nil {
		return err
	}

	used := total - avail
	s.Printf("mem: %d/%d kB used\n", used, total)

	return nil
}

func (p *PiMonitor) printUptime(s addon.Session) error {
	up, err := p.Uptime()
	if err != nil {
		return err
	}

	s.Printf("uptime: %s\n", up.Round(time.Second))

	return nil
}

// CPUTemp returns the CPU temperature in degree Celsius.
func (p *PiMonitor) CPUTemp() (float64, error) {
	raw, err := os.ReadFile(filepath.Join(p.root, thermalPath))
	if err != nil {
		return 0, fmt.Errorf("read cpu temp: %w", err)
	}

	// The kernel reports millidegrees.
	milli, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse cpu temp %q: %w", raw, err)
	}

	return float64(milli) / 1000, nil
}

// LoadAvg returns the 1, 5 and 15 minute load averages.
func (p *PiMonitor) LoadAvg() (float64, float64, float64, error) {
	raw, err := os.ReadFile(filepath.Join(p.root, loadavgPath))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read loadavg: %w", err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("parse loadavg %q: too few fields", raw)
	}

	var loads [3]float64

	for i := range loads {
		loads[i], err = strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("parse loadavg %q: %w", raw, err)
		}
	}

	return loads[0], loads[1], loads[2], nil
}

// Memory returns total and available memory in kB.
func (p *PiMonitor) Memory() (total, avail int, err error) {
	raw, err := os.ReadFile(filepath.Join(p.root, meminfoPath))
	if err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}

	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		switch fields[0] {
		case "MemTotal:":
			total, err = strconv.Atoi(fields[1])
		case "MemAvailable:":
			avail, err = strconv.Atoi(fields[1])
		}

		if err != nil {
			return 0, 0, fmt.Errorf("parse meminfo line %q: %w", line, err)
		}
	}

	if total == 0 {
		return 0, 0, fmt.Errorf("meminfo: MemTotal not found")
	}

	return total, avail, nil
}

// Uptime returns how long the board has been running.
func (p *PiMonitor) Uptime() (time.Duration, error) {
	raw, err := os.ReadFile(filepath.Join(p.root, uptimePath))
	if err != nil {
		return 0, fmt.Errorf("read uptime: %w", err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) < 1 {
		return 0, fmt.Errorf("parse uptime %q: no fields", raw)
	}

	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse uptime %q: %w", raw, err)
	}

	return time.Duration(secs * float64(time.Second)), nil
}
