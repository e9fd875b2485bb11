// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package settings persists the user-facing application settings as JSON.
// Unknown fields from older versions are dropped, missing fields keep
// their defaults.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Settings are the tunables exposed in the web interface.
type Settings struct {
	// General
	EnableWebcam        bool `json:"enableWebcam"`
	AutoConnect         bool `json:"autoConnect"`
	EnableNotifications bool `json:"enableNotifications"`
	UpdateInterval      int  `json:"updateInterval" validate:"min=1,max=30"`
	MaxConsoleLines     int  `json:"maxConsoleLines" validate:"min=10,max=500"`

	// File management
	MaxFiles          int    `json:"maxFiles" validate:"min=10,max=200"`
	MaxFileAge        int    `json:"maxFileAge" validate:"min=1,max=365"`
	AutoCleanup       bool   `json:"autoCleanup"`
	AllowedExtensions string `json:"allowedExtensions" validate:"required"`

	// Printer
	SerialPort       string `json:"serialPort" validate:"required"`
	CustomSerialPort string `json:"customSerialPort"`
	BaudRate         int    `json:"baudRate" validate:"min=9600,max=250000"`
	Timeout          int    `json:"timeout" validate:"min=1,max=30"`
	RetryAttempts    int    `json:"retryAttempts" validate:"min=1,max=10"`
	ZSpeed           int    `json:"zSpeed" validate:"min=100,max=2000"`
	HomeSpeed        int    `json:"homeSpeed" validate:"min=50,max=1000"`
	CustomMovements  string `json:"customMovements"`

	// Interface
	Theme          string `json:"theme"`
	CompactMode    bool   `json:"compactMode"`
	ShowAnimations bool   `json:"showAnimations"`
	ShowToolbar    bool   `json:"showToolbar"`
	ShowConsole    bool   `json:"showConsole"`
	ShowStatusBar  bool   `json:"showStatusBar"`
	DefaultView    string `json:"defaultView"`
	CustomCSS      string `json:"customCSS"`
}

// Defaults returns the settings of a fresh installation.
func Defaults() Settings {
	return Settings{
		EnableNotifications: true,
		UpdateInterval:      3,
		MaxConsoleLines:     50,
		MaxFiles:            50,
		MaxFileAge:          30,
		AllowedExtensions:   ".ctb,.cbddlp,.pwmx,.pwmo,.pwms,.pws,.pw0,.pwx",
		SerialPort:          "/dev/serial0",
		BaudRate:            115200,
		Timeout:             5,
		RetryAttempts:       3,
		ZSpeed:              600,
		HomeSpeed:           300,
		CustomMovements:     "0.1,1,5,10",
		Theme:               "dark",
		ShowAnimations:      true,
		ShowToolbar:         true,
		ShowConsole:         true,
		ShowStatusBar:       true,
		DefaultView:         "dashboard",
	}
}

var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks settings against their allowed ranges.
func Validate(s Settings) error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}

	var valErrors validator.ValidationErrors
	if !errors.As(err, &valErrors) {
		return err
	}

	msgs := make([]string, 0, len(valErrors))
	for _, valErr := range valErrors {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' tag", valErr.Field(), valErr.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, ", "))
}

// Manager loads and stores settings at a fixed path.
type Manager struct {
	path string

	mu      sync.Mutex
	current Settings
	loaded  bool
}

// NewManager returns a Manager persisting to path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Get returns the current settings, reading them from disk on first use.
// A missing or unreadable file yields the defaults.
func (m *Manager) Get() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		m.current = m.load()
		m.loaded = true
	}

	return m.current
}

func (m *Manager) load() Settings {
	s := Defaults()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return s
	}

	// Unmarshalling on top of the defaults keeps values absent from an
	// older settings file at their default.
	if err := json.Unmarshal(raw, &s); err != nil {
		return Defaults()
	}

	return s
}

// Update validates and persists new settings.
func (m *Manager) Update(s Settings) error {
	if err := Validate(s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.save(s); err != nil {
		return err
	}

	m.current = s
	m.loaded = true

	return nil
}

// Reset restores and persists the default settings.
func (m *Manager) Reset() (Settings, error) {
	s := Defaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.save(s); err != nil {
		return Settings{}, err
	}

	m.current = s
	m.loaded = true

	return s, nil
}

// save writes settings atomically, a crash never leaves a half written file.
func (m *Manager) save(s Settings) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), m.path)
}
