// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package printer provides the serial communication layer for resin printers.
//
// The firmware speaks a plain-text line protocol: every line sent is answered
// with an acknowledgement token (usually "ok"). A command may consist of
// multiple newline-joined lines forming one logical operation; such a command
// is written in a single write call but expects one acknowledgement per
// non-empty line.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/xmodpt/resinctl/internal/fsm"
)

// DefaultAckToken is the acknowledgement token emitted by printer firmware
// after processing one line of input.
const DefaultAckToken = "ok"

// DefaultBaseTimeout is the acknowledgement timeout for single-line commands
// if none is configured.
const DefaultBaseTimeout = 5 * time.Second

// pollInterval is the pause between read attempts when the device returned
// no data.
const pollInterval = 10 * time.Millisecond

var (
	// ErrEmptyCommand is returned when a command contains no non-empty lines.
	ErrEmptyCommand = errors.New("command has no non-empty lines")
	// ErrDeviceWrite indicates that writing the command to the device failed.
	// The read loop is never entered in this case.
	ErrDeviceWrite = errors.New("device write failed")
	// ErrDeviceRead indicates a read failure mid-exchange.
	ErrDeviceRead = errors.New("device read failed")
	// ErrAckTimeout indicates that fewer acknowledgements than expected were
	// observed within the effective timeout.
	ErrAckTimeout = errors.New("acknowledgement timeout")
)

// FailKind classifies a failed exchange.
type FailKind int

const (
	// FailNone means the exchange succeeded.
	FailNone FailKind = iota
	// FailWrite corresponds to ErrDeviceWrite.
	FailWrite
	// FailRead corresponds to ErrDeviceRead.
	FailRead
	// FailTimeout corresponds to ErrAckTimeout.
	FailTimeout
)

func (k FailKind) String() string {
	switch k {
	case FailNone:
		return "none"
	case FailWrite:
		return "device-write"
	case FailRead:
		return "device-read"
	case FailTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("FailKind(%d)", int(k))
	}
}

// Command is an ordered sequence of one or more textual lines forming a
// single logical operation. A command with N non-empty lines expects exactly
// N acknowledgements, because the firmware processes and acknowledges each
// line independently.
type Command struct {
	text string
	acks int
}

// ParseCommand builds a Command from text. Lines are split on newline and
// trimmed; empty lines after trimming do not count towards the expected
// acknowledgement total. A command without any non-empty line is rejected
// with ErrEmptyCommand.
func ParseCommand(text string) (Command, error) {
	var acks int

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			acks++
		}
	}

	if acks == 0 {
		return Command{}, ErrEmptyCommand
	}

	return Command{text: text, acks: acks}, nil
}

// ExpectedAcks returns the number of acknowledgement tokens this command
// expects, one per non-empty line.
func (c Command) ExpectedAcks() int { return c.acks }

// MultiLine reports whether the command is a multi-command sequence.
func (c Command) MultiLine() bool { return c.acks > 1 }

func (c Command) String() string { return c.text }

// payload returns the bytes written to the device. The full command is sent
// in one write call, terminated by a newline.
func (c Command) payload() []byte {
	if strings.HasSuffix(c.text, "\n") {
		return []byte(c.text)
	}

	return []byte(c.text + "\n")
}

// Result is the outcome of one exchange as exposed to the caller.
type Result struct {
	// OK is true if all expected acknowledgements were observed in time.
	OK bool
	// Raw is the accumulated response text, kept for diagnostics even on
	// failure.
	Raw string
	// Acks is the number of acknowledgement tokens observed.
	Acks int
	// Kind classifies the failure. FailNone on success.
	Kind FailKind
	// Err carries the failure details. Nil on success.
	Err error
}

// Exchanger performs write-then-collect cycles on a serial device.
//
// One exchange at a time: dispatch and collection run sequentially on the
// shared device handle, concurrent callers are serialized by an internal
// mutex. No state survives across exchanges.
type Exchanger struct {
	dev   io.ReadWriter
	token string
	base  time.Duration

	mu sync.Mutex

	multiLogged bool
}

// NewExchanger returns an Exchanger operating on dev. The token is the
// acknowledgement token to match (DefaultAckToken if empty), base the
// acknowledgement timeout for single-line commands (DefaultBaseTimeout if
// zero).
func NewExchanger(dev io.ReadWriter, token string, base time.Duration) *Exchanger {
	if token == "" {
		token = DefaultAckToken
	}

	if base <= 0 {
		base = DefaultBaseTimeout
	}

	return &Exchanger{dev: dev, token: token, base: base}
}

// BaseTimeout returns the configured single-line acknowledgement timeout.
func (x *Exchanger) BaseTimeout() time.Duration { return x.base }

// Do performs one exchange with the configured base timeout.
func (x *Exchanger) Do(ctx context.Context, cmd Command) Result {
	return x.DoTimeout(ctx, cmd, x.base)
}

// DoTimeout performs one exchange with an explicit base timeout. The
// effective timeout is doubled for multi-line commands to allow for the
// extra acknowledgement round trips.
func (x *Exchanger) DoTimeout(ctx context.Context, cmd Command, base time.Duration) Result {
	x.mu.Lock()
	defer x.mu.Unlock()

	if base <= 0 {
		base = x.base
	}

	effective := base
	if cmd.MultiLine() {
		effective *= 2

		if !x.multiLogged {
			log.Printf("exchange: multi-line command, extended timeout to %s", effective)

			x.multiLogged = true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, effective)
	defer cancel()

	args := exchangeArgs{
		dev:     x.dev,
		payload: cmd.payload(),
		token:   x.token,
		want:    cmd.ExpectedAcks(),
		raw:     &bytes.Buffer{},
		line:    &bytes.Buffer{},
		buf:     make([]byte, readBufSize),
	}

	out, err := fsm.Run(ctx, args, dispatch)

	res := Result{
		Raw:  out.raw.String(),
		Acks: out.seen,
	}

	switch {
	case err == nil:
		res.OK = true
	case errors.Is(err, ErrDeviceWrite):
		res.Kind = FailWrite
		res.Err = err

		log.Printf("exchange: %v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// A timeout may still mean partial physical success, keep it
		// apart from device errors in the logs.
		res.Kind = FailTimeout
		res.Err = fmt.Errorf("%w: %d of %d acknowledgements within %s",
			ErrAckTimeout, out.seen, args.want, effective)

		log.Printf("exchange: %v", res.Err)
	default:
		res.Kind = FailRead
		res.Err = err

		log.Printf("exchange: %v", err)
	}

	return res
}

// Fire writes a command without collecting acknowledgements. Used for
// commands after which the device stops responding, like a reboot.
func (x *Exchanger) Fire(cmd Command) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.dev.Write(cmd.payload()); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceWrite, err)
	}

	return nil
}

const readBufSize = 256

// exchangeArgs is the transient state of one exchange. It is created when a
// command is dispatched and discarded when the exchange resolves.
type exchangeArgs struct {
	dev     io.ReadWriter
	payload []byte
	token   string
	want    int
	seen    int
	raw     *bytes.Buffer
	line    *bytes.Buffer
	buf     []byte
}

// dispatch writes the full command to the device in one write call and hands
// over to the collect state. A failed write terminates the exchange without
// entering the read loop.
func dispatch(_ context.Context, a exchangeArgs) (exchangeArgs, fsm.State[exchangeArgs], error) {
	if _, err := a.dev.Write(a.payload); err != nil {
		return a, nil, fmt.Errorf("%w: %v", ErrDeviceWrite, err)
	}

	return a, collect, nil
}

// collect reads from the device and counts acknowledgement lines until the
// expected count is reached. The surrounding state machine terminates the
// exchange when the effective timeout elapses.
func collect(_ context.Context, a exchangeArgs) (exchangeArgs, fsm.State[exchangeArgs], error) {
	n, err := a.dev.Read(a.buf)
	if err != nil && !ignorableReadError(err) {
		return a, nil, fmt.Errorf("%w: %v", ErrDeviceRead, err)
	}

	if n == 0 {
		time.Sleep(pollInterval)

		return a, collect, nil
	}

	for _, b := range a.buf[:n] {
		a.raw.WriteByte(b)

		if b != '\n' {
			a.line.WriteByte(b)

			continue
		}

		if isAck(a.line.String(), a.token) {
			a.seen++
		}

		a.line.Reset()

		if a.seen >= a.want {
			return a, nil, nil
		}
	}

	return a, collect, nil
}

// isAck reports whether a received line carries the acknowledgement token,
// matched case-sensitive as a whole line or line prefix.
func isAck(line, token string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), token)
}

// ignorableReadError reports whether a read error is an expected consequence
// of the port's short read timeout rather than a device failure.
func ignorableReadError(err error) bool {
	return errors.Is(err, io.EOF) || strings.Contains(err.Error(), "timeout")
}
