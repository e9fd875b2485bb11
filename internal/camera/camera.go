// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package camera exposes the URLs of an mjpg-streamer instance running next
// to the agent and probes whether it is alive.
package camera

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DefaultPort is the port mjpg-streamer listens on.
const DefaultPort = 8080

// probeTimeout bounds the liveness check.
const probeTimeout = 2 * time.Second

// Camera describes the MJPEG stream endpoint.
type Camera struct {
	Port int

	client *http.Client
}

// New returns a Camera for a streamer on the given port. A port of 0 uses
// DefaultPort.
func New(port int) *Camera {
	if port == 0 {
		port = DefaultPort
	}

	return &Camera{
		Port:   port,
		client: &http.Client{Timeout: probeTimeout},
	}
}

// BaseURL returns the streamer address reachable from the local network.
func (c *Camera) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", LocalIP(), c.Port)
}

// StreamURL returns the MJPEG stream endpoint.
func (c *Camera) StreamURL() string {
	return c.BaseURL() + "/?action=stream"
}

// SnapshotURL returns the single frame endpoint.
func (c *Camera) SnapshotURL() string {
	return c.BaseURL() + "/?action=snapshot"
}

// Alive probes the streamer with a snapshot request.
func (c *Camera) Alive(ctx context.Context) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/?action=snapshot", c.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// LocalIP determines the address of the interface routing to the outside.
// The dial never sends packets, UDP connect only resolves the route.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}

	return addr.IP.String()
}
