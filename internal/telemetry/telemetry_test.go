// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/xmodpt/resinctl/pkg/printer"
)

type publishedMsg struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeToken completes immediately.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}
func (t *fakeToken) Error() error { return t.err }

// fakeClient records published messages.
type fakeClient struct {
	paho.Client

	published []publishedMsg
	pubErr    error
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	c.published = append(c.published, publishedMsg{
		topic:    topic,
		retained: retained,
		payload:  payload.([]byte),
	})

	return &fakeToken{err: c.pubErr}
}

func (c *fakeClient) Disconnect(uint) {}

func newTestPublisher() (*Publisher, *fakeClient) {
	client := &fakeClient{}

	return &Publisher{
		cfg:    Config{Topic: "resinctl/status"},
		client: client,
	}, client
}

func TestPublishStatus(t *testing.T) {
	p, client := newTestPublisher()

	status := printer.Status{State: printer.StatePrinting, CurrentLayer: 12, TotalLayers: 120}

	if err := p.PublishStatus(status); err != nil {
		t.Fatalf("PublishStatus failed: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("got %d messages, want 1", len(client.published))
	}

	msg := client.published[0]

	if msg.topic != "resinctl/status/state" {
		t.Errorf("topic = %q", msg.topic)
	}

	if !msg.retained {
		t.Error("status message not retained")
	}

	var got printer.Status
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload is not status JSON: %v", err)
	}

	if got.State != printer.StatePrinting || got.CurrentLayer != 12 {
		t.Errorf("payload = %+v", got)
	}
}

func TestCloseMarksOffline(t *testing.T) {
	p, client := newTestPublisher()

	p.Close()

	if len(client.published) != 1 {
		t.Fatalf("got %d messages, want 1", len(client.published))
	}

	msg := client.published[0]

	if msg.topic != "resinctl/status/availability" || string(msg.payload) != "offline" {
		t.Errorf("message = %q on %q", msg.payload, msg.topic)
	}
}
