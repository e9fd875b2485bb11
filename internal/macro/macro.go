// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package macro expands named G-code macros with ${argname} placeholders
// into the command text sent to the printer.
package macro

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRegex matches ${argname} placeholders in macro bodies.
var placeholderRegex = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\}`)

// argNameRegex validates argument names.
var argNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var ErrMacroNotFound = errors.New("no such macro")

// Macro is a named G-code snippet with placeholders.
type Macro struct {
	name         string
	body         string
	placeholders []string
}

// Parse creates a Macro from its body and extracts all placeholders.
func Parse(name, body string) *Macro {
	matches := placeholderRegex.FindAllStringSubmatch(body, -1)

	placeholders := make([]string, 0, len(matches))
	seen := make(map[string]bool)

	for _, match := range matches {
		argName := match[1]
		if !seen[argName] {
			placeholders = append(placeholders, argName)
			seen[argName] = true
		}
	}

	return &Macro{
		name:         name,
		body:         body,
		placeholders: placeholders,
	}
}

// Name returns the macro name.
func (m *Macro) Name() string {
	return m.name
}

// Placeholders returns the list of unique placeholder names in the macro body.
func (m *Macro) Placeholders() []string {
	return m.placeholders
}

// Expand replaces all placeholders with values from the args map.
// An argument missing from the map is an error, a partially expanded
// macro must never reach the printer.
func (m *Macro) Expand(args map[string]string) (string, error) {
	result := m.body

	for _, placeholder := range m.placeholders {
		value, ok := args[placeholder]
		if !ok {
			return "", fmt.Errorf("macro %q: missing argument '${%s}'", m.name, placeholder)
		}

		result = strings.ReplaceAll(result, fmt.Sprintf("${%s}", placeholder), value)
	}

	return result, nil
}

// ValidateArgNames checks if all argument names follow valid syntax.
func ValidateArgNames(names []string) error {
	for _, name := range names {
		if !argNameRegex.MatchString(name) {
			return fmt.Errorf("invalid argument name '%s': must match [a-zA-Z0-9_-]+", name)
		}
	}

	return nil
}

// Set is a collection of macros, typically loaded from the agent
// configuration.
type Set struct {
	macros map[string]*Macro
}

// NewSet parses all bodies into a Set. The map is keyed by macro name.
func NewSet(bodies map[string]string) *Set {
	s := &Set{macros: make(map[string]*Macro, len(bodies))}

	for name, body := range bodies {
		s.macros[name] = Parse(name, body)
	}

	return s
}

// Names returns all macro names, sorted alphabetically.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.macros))
	for name := range s.macros {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Expand looks up the named macro and expands it with args.
func (s *Set) Expand(name string, args map[string]string) (string, error) {
	m, ok := s.macros[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMacroNotFound, name)
	}

	if err := ValidateArgNames(keys(args)); err != nil {
		return "", err
	}

	return m.Expand(args)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	return out
}
