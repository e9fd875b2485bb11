// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package thumb extracts preview images from sliced resin files and keeps
// them cached as PNG files next to the upload store.
package thumb

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// maxThumbEdge is the longest edge of a cached thumbnail in pixels.
const maxThumbEdge = 200

// Manager caches extracted thumbnails in a directory.
type Manager struct {
	dir string
}

// NewManager returns a Manager caching thumbnails under dir, creating it if
// necessary.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}

	return &Manager{dir: dir}, nil
}

// cachePath maps a print file name to its cached thumbnail path.
func (m *Manager) cachePath(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	return filepath.Join(m.dir, stem+"_thumb.png")
}

// Get returns the path of the cached thumbnail for the print file at
// filePath, extracting it first when not cached yet.
func (m *Manager) Get(filePath string) (string, error) {
	cached := m.cachePath(filePath)

	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	if err := m.generate(filePath, cached); err != nil {
		return "", err
	}

	return cached, nil
}

func (m *Manager) generate(filePath, cached string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open print file: %w", err)
	}
	defer f.Close()

	img, err := ExtractCTBPreview(f)
	if err != nil {
		return err
	}

	img = shrink(img, maxThumbEdge)

	out, err := os.Create(cached)
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}

	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(cached)

		return fmt.Errorf("encode thumbnail: %w", err)
	}

	return out.Close()
}

// Delete removes the cached thumbnail for a print file. A missing thumbnail
// is not an error.
func (m *Manager) Delete(name string) error {
	err := os.Remove(m.cachePath(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// CleanupOrphans removes cached thumbnails whose print file no longer
// exists. It returns the number of removed thumbnails.
func (m *Manager) CleanupOrphans(existing []string) (int, error) {
	stems := make(map[string]bool, len(existing))
	for _, name := range existing {
		stems[strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))] = true
	}

	thumbs, err := filepath.Glob(filepath.Join(m.dir, "*_thumb.png"))
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, t := range thumbs {
		stem := strings.TrimSuffix(filepath.Base(t), "_thumb.png")
		if stems[stem] {
			continue
		}

		if err := os.Remove(t); err != nil {
			log.Printf("cleanup thumbnail %s: %v", t, err)

			continue
		}

		removed++
	}

	return removed, nil
}

// shrink scales img down so that no edge exceeds maxEdge. Images already
// small enough are returned unchanged.
func shrink(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if w <= maxEdge && h <= maxEdge {
		return img
	}

	scale := float64(maxEdge) / float64(w)
	if h > w {
		scale = float64(maxEdge) / float64(h)
	}

	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}

	if nh < 1 {
		nh = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, nw, nh))

	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			sx := b.Min.X + x*w/nw
			sy := b.Min.Y + y*h/nh
			out.Set(x, y, img.At(sx, sy))
		}
	}

	return out
}
