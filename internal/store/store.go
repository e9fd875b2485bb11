// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store manages the uploaded print files on disk.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultMaxBytes caps a single upload at 500 MB.
	DefaultMaxBytes = 500 * 1024 * 1024
)

var (
	ErrFileNotFound   = errors.New("no such print file")
	ErrBadName        = errors.New("invalid file name")
	ErrBadExtension   = errors.New("unsupported file extension")
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
)

// AllowedExtensions lists the sliced resin formats the printer accepts.
var AllowedExtensions = []string{
	".ctb", ".cbddlp", ".pwmx", ".pwmo", ".pwms", ".pws", ".pw0", ".pwx",
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._ -]`)

// File describes one stored print file.
type File struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Store is a directory of print files.
type Store struct {
	dir      string
	maxBytes int64
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the directory the store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// List returns all stored print files, newest first.
func (s *Store) List() ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	files := make([]File, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !Allowed(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		files = append(files, File{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})

	return files, nil
}

// Save writes an upload into the store. The name is sanitized before use and
// the upload is aborted once it exceeds the size limit.
func (s *Store) Save(name string, r io.Reader) (File, error) {
	name, err := s.safeName(name)
	if err != nil {
		return File{}, err
	}

	if !Allowed(name) {
		return File{}, fmt.Errorf("%w: %q", ErrBadExtension, filepath.Ext(name))
	}

	path := filepath.Join(s.dir, name)

	f, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return File{}, fmt.Errorf("create upload: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(f.Name())

		return File{}, fmt.Errorf("write upload: %w", err)
	}

	if written > s.maxBytes {
		os.Remove(f.Name())

		return File{}, fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, s.maxBytes)
	}

	if err := os.Rename(f.Name(), path); err != nil {
		os.Remove(f.Name())

		return File{}, fmt.Errorf("store upload: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}

	return File{Name: name, Size: info.Size(), Modified: info.ModTime()}, nil
}

// Open opens a stored print file for reading.
func (s *Store) Open(name string) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}

	return f, err
}

// Delete removes a stored print file.
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrFileNotFound, name)
		}

		return err
	}

	return nil
}

// Path resolves name to an absolute path inside the store. Names that would
// escape the store directory are refused.
func (s *Store) Path(name string) (string, error) {
	name, err := s.safeName(name)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.dir, name), nil
}

// Usage reports used and total bytes of the filesystem holding the store.
func (s *Store) Usage() (used, total uint64, err error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(s.dir, &fs); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", s.dir, err)
	}

	bsize := uint64(fs.Bsize)
	total = fs.Blocks * bsize
	used = total - fs.Bfree*bsize

	return used, total, nil
}

// safeName sanitizes name to a bare file name. Path separators and parent
// references are refused rather than stripped, a client sending them is
// probing.
func (s *Store) safeName(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}

	clean := unsafeChars.ReplaceAllString(name, "_")
	if strings.TrimLeft(clean, "._ ") == "" {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}

	return clean, nil
}

// Allowed reports whether name carries a supported print file extension.
func Allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))

	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}

	return false
}
