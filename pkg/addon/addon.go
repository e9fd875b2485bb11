// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addon provides the plugin system of the portal. Addons extend the
// agent with capabilities beyond printer control, like relay boards or host
// health monitoring. They are resolved at call time through a registered
// capability map, never through ambient lookups.
package addon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

//nolint:gochecknoglobals
var (
	registry = make(map[string]Record)
	mutex    sync.RWMutex
)

// Addon is a capability plugged into the agent. Implementations are
// configured through the agent's YAML configuration and invoked through the
// HTTP API.
type Addon interface {
	// Help provides usage information for the current configuration of the
	// addon, formatted for display to the user.
	Help() string
	// Init is called once when the agent starts. It is the place to check
	// the configuration and allocate resources.
	Init() error
	// Deinit is called on agent shutdown and shall guarantee a graceful
	// release of everything Init allocated.
	Deinit() error
	// Run executes an addon action with the given arguments.
	Run(ctx context.Context, s Session, args ...string) error
}

// Session is the environment an addon runs in. It carries the output streams
// back to the caller.
type Session interface {
	// Print sends a message to the caller. Implementations wrap fmt.Sprint.
	Print(a ...any)
	// Printf sends a formatted message to the caller. Implementations wrap
	// fmt.Sprintf.
	Printf(format string, a ...any)
	// Console returns the output stream of the addon run.
	Console() io.Writer
}

// Record holds the information required to register an addon.
type Record struct {
	// ID is the unique identifier of the addon. It is referenced by the
	// agent configuration.
	ID string
	// New is the factory function creating a new instance of the addon. It
	// must not run initialization with side effects, that belongs into the
	// Init method.
	New func() Addon
}

// Register registers an addon for use in the agent. It is meant to be called
// from the init function of an addon package.
func Register(r Record) {
	if r.ID == "" {
		panic("addon ID missing")
	}

	if r.New == nil {
		panic("missing factory function 'New func() Addon'")
	}

	mutex.Lock()
	defer mutex.Unlock()

	if _, ok := registry[r.ID]; ok {
		panic(fmt.Sprintf("addon already registered: %s", r.ID))
	}

	registry[r.ID] = r
}

// New creates a new instance of a formerly registered addon by its unique
// name. An unknown name is an explicit error, never silently ignored.
func New(name string) (Addon, error) {
	if name == "" {
		return nil, errors.New("addon name must not be empty")
	}

	mutex.RLock()
	defer mutex.RUnlock()

	rec, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("addon %q not found, maybe not registered", name)
	}

	return rec.New(), nil
}

// Names returns the IDs of all registered addons.
func Names() []string {
	mutex.RLock()
	defer mutex.RUnlock()

	names := make([]string, 0, len(registry))
	for id := range registry {
		names = append(names, id)
	}

	return names
}
