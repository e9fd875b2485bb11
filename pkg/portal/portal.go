// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package portal provides the configuration model of the printer portal.
package portal

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xmodpt/resinctl/pkg/addon"
	"github.com/xmodpt/resinctl/pkg/printer"
)

var ErrAddonNotFound = errors.New("no such addon")

// Config is the top-level agent configuration, parsed from YAML.
type Config struct {
	Version int
	Listen  string
	Serial  SerialConfig
	Storage StorageConfig
	Camera  CameraConfig
	MQTT    MQTTConfig `yaml:"mqtt"`
	Macros  map[string]string
	Addons  Addonlist
}

// SerialConfig holds the printer serial line settings.
type SerialConfig struct {
	Port    string
	Baud    int
	Timeout time.Duration
	Ack     string
}

// UnmarshalYAML unmarshals a SerialConfig from a YAML node. The timeout is
// given in time.ParseDuration notation, e.g. "5s" or "1500ms".
func (s *SerialConfig) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Port    string
		Baud    int
		Timeout string
		Ack     string
	}

	if err := node.Decode(&aux); err != nil {
		return err
	}

	s.Port = aux.Port
	s.Baud = aux.Baud
	s.Ack = aux.Ack

	if aux.Timeout != "" {
		timeout, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("yaml: line %d: invalid serial timeout: %w", node.Line, err)
		}

		s.Timeout = timeout
	}

	return nil
}

// StorageConfig holds the print file store settings.
type StorageConfig struct {
	Dir      string
	ThumbDir string `yaml:"thumb_dir"`
	MaxBytes int64  `yaml:"max_bytes"`
	Image    string
}

// CameraConfig holds the MJPEG streamer settings.
type CameraConfig struct {
	Enabled bool
	Port    int
}

// MQTTConfig holds the telemetry broker settings.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string `yaml:"client_id"`
	Username string
	Password string
}

// Defaults fills unset fields with working values for a Raspberry Pi setup.
func (c *Config) Defaults() {
	if c.Listen == "" {
		c.Listen = "localhost:8080"
	}

	if c.Serial.Port == "" {
		c.Serial.Port = printer.DefaultPort
	}

	if c.Serial.Baud == 0 {
		c.Serial.Baud = printer.DefaultBaudRate
	}

	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = printer.DefaultBaseTimeout
	}

	if c.Serial.Ack == "" {
		c.Serial.Ack = printer.DefaultAckToken
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = "/opt/resinctl/uploads"
	}

	if c.Storage.ThumbDir == "" {
		c.Storage.ThumbDir = "/opt/resinctl/thumbnails"
	}

	if c.Camera.Port == 0 {
		c.Camera.Port = 8765
	}

	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "resinctl/status"
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "resinctl-agent"
	}
}

// Addonlist is the set of configured addons.
type Addonlist []Addon

// Names returns the names of all configured addons, sorted alphabetically.
func (list Addonlist) Names() []string {
	names := make([]string, 0, len(list))
	for _, a := range list {
		names = append(names, a.Config.Name)
	}

	slices.Sort(names)

	return names
}

// Find returns the addon configured under name or ErrAddonNotFound.
func (list Addonlist) Find(name string) (Addon, error) {
	for _, a := range list {
		if a.Config.Name == name {
			return a, nil
		}
	}

	return Addon{}, ErrAddonNotFound
}

// Addon is a wrapper for any addon implementation.
type Addon struct {
	Config AddonConfig

	addon.Addon
}

type AddonConfig struct {
	Name    string `yaml:"addon"`
	Options map[string]any
}

// UnmarshalYAML unmarshals an Addon from a YAML node and adds custom validation.
func (a *Addon) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode(&a.Config); err != nil {
		return err
	}

	var err error
	if a.Addon, err = addon.New(a.Config.Name); err != nil {
		return err
	}

	options, err := yaml.Marshal(a.Config.Options)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(options, a.Addon); err != nil {
		return err
	}

	// validate addon options
	validate := validator.New()
	if err := validate.Struct(a.Addon); err != nil {
		return wrapValidatorErrors(err, node)
	}

	return nil
}

var ErrAddonValidation = errors.New("validation error")

func wrapValidatorErrors(err error, node *yaml.Node) error {
	if err == nil {
		return nil
	}

	var valErrors validator.ValidationErrors
	if !errors.As(err, &valErrors) {
		// not of type ValidationErrors
		return err
	}

	errMsg := make([]string, 0, len(valErrors))
	for _, valErr := range valErrors {
		errMsg = append(errMsg,
			fmt.Sprintf("yaml: line %d: Field validation for '%s' failed on the '%s' tag",
				node.Line, valErr.Field(), valErr.Tag()))
	}

	return fmt.Errorf("%w:\n%s", ErrAddonValidation, strings.Join(errMsg, "\n"))
}
