// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package printer

import (
	"fmt"
	"log"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaudRate is the default baud rate for the printer connection.
const DefaultBaudRate = 115200

// DefaultPort is the GPIO UART the printer board is usually wired to on a
// Raspberry Pi.
const DefaultPort = "/dev/serial0"

// FallbackPorts are probed in order when the configured port cannot be
// opened. They cover the Pi's hardware UARTs and common USB adapters.
var FallbackPorts = []string{
	"/dev/serial0",
	"/dev/ttyAMA0",
	"/dev/serial1",
	"/dev/ttyUSB0",
	"/dev/ttyACM0",
}

// readTimeout keeps reads short so the collect loop can check its deadline.
const readTimeout = 100 * time.Millisecond

// openPort opens the serial device at path with the given baud rate.
func openPort(path string, baud int) (*serial.Port, error) {
	config := &serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: readTimeout,
	}

	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	return port, nil
}

// openWithFallback tries the preferred path first and then the fallback list.
// It returns the opened port and the path that worked.
func openWithFallback(preferred string, baud int) (*serial.Port, string, error) {
	paths := make([]string, 0, len(FallbackPorts)+1)
	if preferred != "" {
		paths = append(paths, preferred)
	}

	for _, p := range FallbackPorts {
		if p != preferred {
			paths = append(paths, p)
		}
	}

	var firstErr error

	for _, p := range paths {
		port, err := openPort(p, baud)
		if err == nil {
			if p != preferred && preferred != "" {
				log.Printf("printer: configured port %s unavailable, using %s", preferred, p)
			}

			return port, p, nil
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	return nil, "", fmt.Errorf("no serial port available: %w", firstErr)
}
