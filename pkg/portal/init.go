// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package portal

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the agent configuration from path and fills
// unset fields with defaults.
func Load(path string) (Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Defaults()

	return cfg, nil
}

// AddonInitError is a container for errors that occur during addon
// initialization.
type AddonInitError struct {
	Errs []AddonInitErrorDetails
	msg  string
}

func (e *AddonInitError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("%s - %d problem", e.msg, len(e.Errs))
	}

	return fmt.Sprintf("%s - %d problems", e.msg, len(e.Errs))
}

type AddonInitErrorDetails struct {
	Addon string
	Err   error
}

// Init runs the Init function of all configured addons. All init functions
// are called, even if an error occurs. In this case an AddonInitError is
// returned that holds all errors reported by the addons.
func Init(addons Addonlist) error {
	var ierr = &AddonInitError{
		Errs: make([]AddonInitErrorDetails, 0),
		msg:  "addon initialization failed",
	}

	for _, a := range addons {
		if err := a.Init(); err != nil {
			ierr.Errs = append(ierr.Errs, AddonInitErrorDetails{
				Addon: a.Config.Name,
				Err:   err,
			})
		}
	}

	if len(ierr.Errs) != 0 {
		return ierr
	}

	log.Print("Addon initialization OK")

	return nil
}

// Deinit runs the Deinit function of all configured addons. All Deinit
// functions are called, even if an error occurs. In this case an
// AddonInitError is returned that holds all errors reported by the addons.
func Deinit(addons Addonlist) error {
	var derr = &AddonInitError{
		Errs: make([]AddonInitErrorDetails, 0),
		msg:  "bad clean-up",
	}

	log.Print("GRACEFUL SHUTDOWN: De-init addons")

	for _, a := range addons {
		if err := a.Deinit(); err != nil {
			derr.Errs = append(derr.Errs, AddonInitErrorDetails{
				Addon: a.Config.Name,
				Err:   err,
			})
		}
	}

	if len(derr.Errs) != 0 {
		return derr
	}

	log.Print("All addons de-initialized")

	return nil
}
