// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addon

import (
	"context"
	"strings"
	"testing"
)

type stub struct{}

func (s *stub) Help() string  { return "stub addon" }
func (s *stub) Init() error   { return nil }
func (s *stub) Deinit() error { return nil }
func (s *stub) Run(_ context.Context, _ Session, _ ...string) error {
	return nil
}

func TestRegisterAndNew(t *testing.T) {
	Register(Record{
		ID:  "stub",
		New: func() Addon { return &stub{} },
	})

	a, err := New("stub")
	if err != nil {
		t.Fatalf("New(stub) failed: %v", err)
	}

	if a == nil {
		t.Fatal("New(stub) returned nil addon")
	}

	found := false

	for _, name := range Names() {
		if name == "stub" {
			found = true
		}
	}

	if !found {
		t.Errorf("Names() = %v, missing registered addon", Names())
	}
}

func TestNewUnknownAddon(t *testing.T) {
	_, err := New("no-such-addon")
	if err == nil {
		t.Fatal("New returned no error for unknown addon")
	}

	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want a not-found error", err)
	}
}

func TestNewEmptyName(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New returned no error for empty name")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()

	Register(Record{ID: "dup", New: func() Addon { return &stub{} }})
	Register(Record{ID: "dup", New: func() Addon { return &stub{} }})
}

func TestRegisterMissingFactoryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("registration without factory did not panic")
		}
	}()

	Register(Record{ID: "no-factory"})
}
