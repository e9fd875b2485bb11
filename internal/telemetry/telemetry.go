// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telemetry publishes printer status to an MQTT broker so home
// automation systems can follow running prints.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/xmodpt/resinctl/pkg/printer"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Config selects the broker and topic layout.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// Publisher pushes status updates to the broker. Status messages are
// retained so subscribers see the last state right after subscribing.
type Publisher struct {
	cfg    Config
	client paho.Client
}

// NewPublisher connects to the broker. The will message flips the
// availability topic to offline when the agent dies.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetWill(cfg.Topic+"/availability", "offline", 1, true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to broker %s: timeout", cfg.Broker)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.Broker, err)
	}

	p := &Publisher{cfg: cfg, client: client}

	if err := p.publish(cfg.Topic+"/availability", []byte("online")); err != nil {
		client.Disconnect(0)

		return nil, err
	}

	log.Printf("telemetry: connected to %s", cfg.Broker)

	return p, nil
}

// PublishStatus pushes a status snapshot as retained JSON.
func (p *Publisher) PublishStatus(status printer.Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}

	return p.publish(p.cfg.Topic+"/state", payload)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}

	return token.Error()
}

// Close marks the agent offline and disconnects.
func (p *Publisher) Close() {
	if err := p.publish(p.cfg.Topic+"/availability", []byte("offline")); err != nil {
		log.Printf("telemetry: offline publish failed: %v", err)
	}

	p.client.Disconnect(250)
}
