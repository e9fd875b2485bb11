// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package portal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xmodpt/resinctl/pkg/addon"
)

// fakeAddon is registered for the duration of the test binary so that
// addon.New() succeeds while parsing test configurations.
type fakeAddon struct {
	Pin     int    `validate:"required"`
	Label   string `yaml:"label"`
	initErr error
}

func (f *fakeAddon) Help() string  { return "fake addon" }
func (f *fakeAddon) Init() error   { return f.initErr }
func (f *fakeAddon) Deinit() error { return f.initErr }
func (f *fakeAddon) Run(_ context.Context, _ addon.Session, _ ...string) error {
	return nil
}

func init() {
	addon.Register(addon.Record{
		ID:  "fake",
		New: func() addon.Addon { return &fakeAddon{} },
	})
}

func TestConfigUnmarshalYAML(t *testing.T) {
	input := `
version: 1
listen: ":9090"
serial:
  port: /dev/ttyUSB0
  baud: 250000
  timeout: 2s
storage:
  dir: /tmp/uploads
macros:
  lamp-on: "M106 P1"
addons:
  - addon: fake
    options:
      pin: 17
      label: test
`

	var cfg Config
	if err := yaml.Unmarshal([]byte(input), &cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, ":9090")
	}

	if cfg.Serial.Port != "/dev/ttyUSB0" || cfg.Serial.Baud != 250000 {
		t.Errorf("Serial = %+v", cfg.Serial)
	}

	if cfg.Serial.Timeout != 2*time.Second {
		t.Errorf("Serial.Timeout = %v, want 2s", cfg.Serial.Timeout)
	}

	if cfg.Macros["lamp-on"] != "M106 P1" {
		t.Errorf("Macros = %v", cfg.Macros)
	}

	if len(cfg.Addons) != 1 {
		t.Fatalf("got %d addons, want 1", len(cfg.Addons))
	}

	fake, ok := cfg.Addons[0].Addon.(*fakeAddon)
	if !ok {
		t.Fatalf("addon is %T, want *fakeAddon", cfg.Addons[0].Addon)
	}

	if fake.Pin != 17 || fake.Label != "test" {
		t.Errorf("addon options = %+v", fake)
	}
}

func TestAddonUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantErr     bool
		errContains []string
	}{
		{
			name: "valid addon",
			input: `
addon: fake
options:
  pin: 4
`,
			wantErr: false,
		},
		{
			name: "unknown addon name",
			input: `
addon: does-not-exist
`,
			wantErr:     true,
			errContains: []string{"does-not-exist"},
		},
		{
			name: "failing option validation",
			input: `
addon: fake
options:
  label: no-pin
`,
			wantErr:     true,
			errContains: []string{"yaml: line", "Field validation for 'Pin'", "required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Addon

			err := yaml.Unmarshal([]byte(tt.input), &a)

			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got err=%v", tt.wantErr, err)
			}

			if err != nil {
				for _, sub := range tt.errContains {
					if !strings.Contains(err.Error(), sub) {
						t.Errorf("error %q does not contain %q", err.Error(), sub)
					}
				}
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config

	cfg.Defaults()

	if cfg.Listen == "" {
		t.Error("Listen not defaulted")
	}

	if cfg.Serial.Port == "" || cfg.Serial.Baud == 0 || cfg.Serial.Timeout == 0 || cfg.Serial.Ack == "" {
		t.Errorf("Serial not defaulted: %+v", cfg.Serial)
	}

	if cfg.Storage.Dir == "" || cfg.Storage.ThumbDir == "" {
		t.Errorf("Storage not defaulted: %+v", cfg.Storage)
	}

	if cfg.MQTT.Topic == "" || cfg.MQTT.ClientID == "" {
		t.Errorf("MQTT not defaulted: %+v", cfg.MQTT)
	}
}

func TestAddonlistNamesAndFind(t *testing.T) {
	list := Addonlist{
		{Config: AddonConfig{Name: "relay"}},
		{Config: AddonConfig{Name: "fake"}},
	}

	names := list.Names()
	if len(names) != 2 || names[0] != "fake" || names[1] != "relay" {
		t.Errorf("Names = %v", names)
	}

	if _, err := list.Find("relay"); err != nil {
		t.Errorf("Find(relay) failed: %v", err)
	}

	if _, err := list.Find("missing"); !errors.Is(err, ErrAddonNotFound) {
		t.Errorf("Find(missing) = %v, want ErrAddonNotFound", err)
	}
}

func TestInitCollectsAllErrors(t *testing.T) {
	failing := errors.New("init broke")

	list := Addonlist{
		{Config: AddonConfig{Name: "good"}, Addon: &fakeAddon{Pin: 1}},
		{Config: AddonConfig{Name: "bad"}, Addon: &fakeAddon{Pin: 2, initErr: failing}},
		{Config: AddonConfig{Name: "worse"}, Addon: &fakeAddon{Pin: 3, initErr: failing}},
	}

	err := Init(list)
	if err == nil {
		t.Fatal("Init returned no error")
	}

	var ierr *AddonInitError
	if !errors.As(err, &ierr) {
		t.Fatalf("error is %T, want *AddonInitError", err)
	}

	if len(ierr.Errs) != 2 {
		t.Errorf("got %d init errors, want 2", len(ierr.Errs))
	}
}

func TestDeinitOK(t *testing.T) {
	list := Addonlist{
		{Config: AddonConfig{Name: "good"}, Addon: &fakeAddon{Pin: 1}},
	}

	if err := Deinit(list); err != nil {
		t.Errorf("Deinit failed: %v", err)
	}
}
