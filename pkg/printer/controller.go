// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultZSpeed is the feed rate for manual Z moves in mm/min.
const DefaultZSpeed = 600

// longCommandFactor stretches the base timeout for commands that make the
// firmware touch the SD card (file select, print start).
const longCommandFactor = 3

// ErrNotConnected is returned for operations that need an open printer
// connection.
var ErrNotConnected = errors.New("printer not connected")

var (
	sdPrintingByte = regexp.MustCompile(`(?P<current>[0-9]+)/(?P<total>[0-9]+)`)
	zPosition      = regexp.MustCompile(`(^|[^A-Za-z])[Zz]:([-+]?[0-9]*\.?[0-9]+)`)
)

// Config holds the serial parameters of a Controller.
type Config struct {
	Port        string        // serial device path, DefaultPort if empty
	Baud        int           // baud rate, DefaultBaudRate if zero
	BaseTimeout time.Duration // single-line ack timeout, DefaultBaseTimeout if zero
	AckToken    string        // acknowledgement token, DefaultAckToken if empty
	ZSpeed      int           // manual move feed rate, DefaultZSpeed if zero
}

// Controller drives a resin printer over its serial connection. It owns the
// device handle and performs one exchange at a time.
type Controller struct {
	cfg Config

	mu        sync.Mutex
	port      io.ReadWriteCloser
	portPath  string
	ex        *Exchanger
	fix       *respFixer
	connected bool
	firmware  string
	selected  string
	zpos      float64
	status    Status
}

// NewController returns a Controller for the given configuration. No
// connection is made until Connect is called.
func NewController(cfg Config) *Controller {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}

	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaudRate
	}

	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = DefaultBaseTimeout
	}

	if cfg.ZSpeed <= 0 {
		cfg.ZSpeed = DefaultZSpeed
	}

	return &Controller{
		cfg:      cfg,
		firmware: DefaultFirmwareVersion,
		status:   Status{State: StateIdle},
	}
}

// attach wires the controller to a device handle. Used by Connect for real
// serial ports and by tests for fake devices.
func (c *Controller) attach(dev io.ReadWriter) {
	c.ex = NewExchanger(dev, c.cfg.AckToken, c.cfg.BaseTimeout)
	c.fix = newRespFixer(DefaultFirmwareVersion)
}

// Connect opens the serial port, verifies the printer answers the hello
// command, initializes the SD card and queries the firmware version.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != nil {
		_ = c.port.Close()
		c.port = nil
		c.connected = false

		time.Sleep(time.Second)
	}

	port, path, err := openWithFallback(c.cfg.Port, c.cfg.Baud)
	if err != nil {
		return err
	}

	c.port = port
	c.portPath = path
	c.attach(port)

	// Let the UART settle before the first exchange.
	time.Sleep(500 * time.Millisecond)

	if err := c.handshake(ctx); err != nil {
		_ = c.port.Close()
		c.port = nil

		return err
	}

	c.connected = true
	log.Printf("printer: connected on %s, firmware %s", c.portPath, c.firmware)

	return nil
}

// handshake runs the connect-time exchanges. Split from Connect so tests can
// run it against a fake device.
func (c *Controller) handshake(ctx context.Context) error {
	// Hello command: the only exchange whose failure aborts the connect.
	if _, res, err := c.send(ctx, "M4002", 0); err != nil || !res.OK {
		if err == nil {
			err = res.Err
		}

		return fmt.Errorf("no response to hello command: %w", err)
	}

	// SD init failures are not fatal, the card may simply be absent.
	if _, res, err := c.send(ctx, "M21", 0); err != nil || !res.OK {
		log.Printf("printer: SD initialization warning: %v", firstError(err, res.Err))
	}

	if fixed, res, err := c.send(ctx, "M115", 0); err == nil && res.OK {
		if v := parseFirmwareVersion(fixed); v != "" {
			c.firmware = v
		}
	}

	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

// Disconnect closes the serial connection.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false

	if c.port == nil {
		return nil
	}

	err := c.port.Close()
	c.port = nil

	log.Print("printer: serial connection closed")

	return err
}

// Connected reports whether a printer connection is established.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// Firmware returns the firmware version announced by the printer.
func (c *Controller) Firmware() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.firmware
}

// SelectedFile returns the file currently selected for printing.
func (c *Controller) SelectedFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.selected
}

// Command performs a raw G-code exchange and returns the normalized response
// text along with the exchange result.
func (c *Controller) Command(ctx context.Context, text string) (string, Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := time.Duration(0)
	// SD-touching commands get extra headroom, the card is slow.
	if strings.Contains(text, "M6030") || strings.Contains(text, "M23") {
		base = c.cfg.BaseTimeout * longCommandFactor
	}

	return c.send(ctx, text, base)
}

// send runs one exchange. Callers must hold c.mu. A zero base uses the
// exchanger's configured timeout.
func (c *Controller) send(ctx context.Context, text string, base time.Duration) (string, Result, error) {
	if c.ex == nil {
		return "", Result{}, ErrNotConnected
	}

	cmd, err := ParseCommand(text)
	if err != nil {
		return "", Result{}, err
	}

	res := c.ex.DoTimeout(ctx, cmd, base)
	fixed := c.fix.Fix(strings.TrimSpace(res.Raw))

	log.Printf("printer: %q -> %q (acks %d, %s)", text, fixed, res.Acks, res.Kind)

	return fixed, res, nil
}

// accepted reports whether the firmware accepted a command, either by
// acknowledging every line or by carrying the token in the response text.
func accepted(fixed string, res Result, extra ...string) bool {
	if res.OK {
		return true
	}

	lower := strings.ToLower(fixed)
	if strings.Contains(lower, "ok") {
		return true
	}

	for _, token := range extra {
		if strings.Contains(lower, token) {
			return true
		}
	}

	return false
}

// Status queries the SD print progress with M27 and derives the printer
// state from it.
func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return Status{State: StateUnknown}
	}

	fixed, res, err := c.send(ctx, "M27", 0)
	if err != nil || res.Kind == FailWrite || res.Kind == FailRead {
		log.Printf("printer: status query failed: %v", firstError(err, res.Err))

		return Status{State: StateError}
	}

	switch {
	case strings.Contains(fixed, "SD printing byte"):
		if m := sdPrintingByte.FindStringSubmatch(fixed); m != nil {
			current, _ := strconv.ParseInt(m[1], 10, 64)
			total, _ := strconv.ParseInt(m[2], 10, 64)

			c.status.CurrentByte = current
			c.status.TotalBytes = total

			if total > 0 {
				c.status.ProgressPercent = float64(current) / float64(total) * 100

				switch {
				case current >= total:
					c.status.State = StateFinished
				case current > 0:
					c.status.State = StatePrinting
				default:
					c.status.State = StateIdle
				}
			} else {
				c.status.State = StateIdle
			}
		}
	case strings.Contains(fixed, "Not SD printing"):
		c.status.State = StateIdle
		c.status.ProgressPercent = 0
		c.status.CurrentByte = 0
	}

	return c.status
}

// LastStatus returns the most recent status snapshot without touching the
// serial line.
func (c *Controller) LastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// ZPosition queries the current Z axis position with M114.
func (c *Controller) ZPosition(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fixed, _, err := c.send(ctx, "M114", 0)
	if err != nil {
		return c.zpos, err
	}

	if m := zPosition.FindStringSubmatch(fixed); m != nil {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			c.zpos = v
		}
	}

	return c.zpos, nil
}

// SelectFile initializes the SD card and selects a file for printing.
func (c *Controller) SelectFile(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, res, err := c.send(ctx, "M21", 0); err != nil || !res.OK {
		log.Printf("printer: SD initialization warning: %v", firstError(err, res.Err))
	}

	fixed, res, err := c.send(ctx, "M23 "+name, c.cfg.BaseTimeout*longCommandFactor)
	if err != nil {
		return err
	}

	if !accepted(fixed, res, "file opened") {
		return fmt.Errorf("file selection failed: %q", fixed)
	}

	c.selected = name
	log.Printf("printer: selected file %s", name)

	return nil
}

// StartPrint starts printing. If name is non-empty the file is selected
// first, otherwise the previously selected file is printed.
func (c *Controller) StartPrint(ctx context.Context, name string) error {
	if name != "" {
		if err := c.SelectFile(ctx, name); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected == "" {
		return errors.New("no file selected for printing")
	}

	fixed, res, err := c.send(ctx, fmt.Sprintf("M6030 '%s'", c.selected), c.cfg.BaseTimeout*longCommandFactor)
	if err != nil {
		return err
	}

	if !accepted(fixed, res) {
		return fmt.Errorf("print start failed: %q", fixed)
	}

	c.status.State = StatePrinting
	log.Printf("printer: started printing %s", c.selected)

	return nil
}

// PausePrint pauses the running print.
func (c *Controller) PausePrint(ctx context.Context) error {
	return c.simpleCommand(ctx, "M25", StatePaused, "print paused")
}

// ResumePrint resumes a paused print.
func (c *Controller) ResumePrint(ctx context.Context) error {
	return c.simpleCommand(ctx, "M24", StatePrinting, "print resumed")
}

// StopPrint aborts the running print and resets the job state.
func (c *Controller) StopPrint(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fixed, res, err := c.send(ctx, "M33", 0)
	if err != nil {
		return err
	}

	if !accepted(fixed, res) {
		return fmt.Errorf("print stop failed: %q", fixed)
	}

	c.status.State = StateIdle
	c.status.ProgressPercent = 0
	c.status.CurrentByte = 0
	c.selected = ""

	log.Print("printer: print stopped")

	return nil
}

func (c *Controller) simpleCommand(ctx context.Context, gcode string, next State, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fixed, res, err := c.send(ctx, gcode, 0)
	if err != nil {
		return err
	}

	if !accepted(fixed, res) {
		return fmt.Errorf("%s failed: %q", gcode, fixed)
	}

	c.status.State = next
	log.Printf("printer: %s", msg)

	return nil
}

// Home moves the Z axis to its home position.
func (c *Controller) Home(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fixed, res, err := c.send(ctx, "G28 Z0", 0)
	if err != nil {
		return err
	}

	if !accepted(fixed, res) {
		return fmt.Errorf("homing failed: %q", fixed)
	}

	return nil
}

// MoveBy moves the Z axis by a relative distance in millimeters. The switch
// to relative mode, the move and the switch back form one multi-command
// sequence: a single write, three acknowledgements.
func (c *Controller) MoveBy(ctx context.Context, distance float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	gcode := fmt.Sprintf("G91\nG1 Z%g F%d\nG90", distance, c.cfg.ZSpeed)

	fixed, res, err := c.send(ctx, gcode, 0)
	if err != nil {
		return err
	}

	if !accepted(fixed, res) {
		return fmt.Errorf("move by %g failed: %q", distance, fixed)
	}

	return nil
}

// Reboot restarts the printer board. No response is collected, the firmware
// drops the line while rebooting.
func (c *Controller) Reboot() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ex == nil {
		return ErrNotConnected
	}

	cmd, err := ParseCommand("M999")
	if err != nil {
		return err
	}

	return c.ex.Fire(cmd)
}

// parseFirmwareVersion extracts the protocol version from an M115 banner.
func parseFirmwareVersion(resp string) string {
	if !strings.Contains(resp, "FIRMWARE_NAME:") {
		return ""
	}

	_, after, found := strings.Cut(resp, "PROTOCOL_VERSION:")
	if !found {
		return ""
	}

	fields := strings.Fields(after)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}
