// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thumb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

var (
	ErrNotCTB    = errors.New("not a chitubox file")
	ErrNoPreview = errors.New("file carries no preview image")
)

// Alternative magic numbers seen in the wild next to the plain "CTB\x00"
// header. All of them mark the same regular layout.
var ctbMagics = []uint32{0x12FD0019, 0x12FD0086, 0x12FD0107}

const (
	ctbHeaderWords   = 27
	largePreviewWord = 15
	smallPreviewWord = 16
	maxPreviewEdge   = 1000
	layerCountOffset = 0x10
	resolutionOffset = 0x20
	repeatFlag       = 1 << 5
	repeatCountMask  = 0xFFF
)

// CTBInfo holds the metadata read from a chitubox file header.
type CTBInfo struct {
	Version     uint32 `json:"version"`
	LayerCount  uint32 `json:"layer_count"`
	ResolutionX uint32 `json:"resolution_x"`
	ResolutionY uint32 `json:"resolution_y"`
}

func isCTB(magic []byte) bool {
	if string(magic) == "CTB\x00" {
		return true
	}

	val := binary.LittleEndian.Uint32(magic)
	for _, m := range ctbMagics {
		if val == m {
			return true
		}
	}

	return false
}

// ReadCTBInfo parses the file header of a chitubox file.
func ReadCTBInfo(r io.ReadSeeker) (CTBInfo, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return CTBInfo{}, fmt.Errorf("read magic: %w", err)
	}

	if !isCTB(magic[:]) {
		return CTBInfo{}, fmt.Errorf("%w: magic %x", ErrNotCTB, magic)
	}

	var info CTBInfo
	if err := binary.Read(r, binary.LittleEndian, &info.Version); err != nil {
		return CTBInfo{}, fmt.Errorf("read version: %w", err)
	}

	if _, err := r.Seek(layerCountOffset, io.SeekStart); err != nil {
		return CTBInfo{}, err
	}

	if err := binary.Read(r, binary.LittleEndian, &info.LayerCount); err != nil {
		return CTBInfo{}, fmt.Errorf("read layer count: %w", err)
	}

	if _, err := r.Seek(resolutionOffset, io.SeekStart); err != nil {
		return CTBInfo{}, err
	}

	var res [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &res); err != nil {
		return CTBInfo{}, fmt.Errorf("read resolution: %w", err)
	}

	info.ResolutionX, info.ResolutionY = res[0], res[1]

	return info, nil
}

// ExtractCTBPreview decodes the preview image embedded in a chitubox file.
// The large preview is preferred, the small one serves as fallback.
func ExtractCTBPreview(r io.ReadSeeker) (image.Image, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}

	if !isCTB(magic[:]) {
		return nil, fmt.Errorf("%w: magic %x", ErrNotCTB, magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}

	var header [ctbHeaderWords]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	for _, offset := range []uint32{header[largePreviewWord], header[smallPreviewWord]} {
		if offset == 0 {
			continue
		}

		img, err := readPreview(r, offset)
		if err != nil {
			continue
		}

		return img, nil
	}

	return nil, ErrNoPreview
}

func readPreview(r io.ReadSeeker, offset uint32) (image.Image, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}

	var hdr struct {
		ResX, ResY, ImageOffset, ImageLength uint32
	}

	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read preview header: %w", err)
	}

	if hdr.ResX == 0 || hdr.ResY == 0 || hdr.ImageLength == 0 ||
		hdr.ResX > maxPreviewEdge || hdr.ResY > maxPreviewEdge {
		return nil, fmt.Errorf("implausible preview %dx%d (%d bytes)", hdr.ResX, hdr.ResY, hdr.ImageLength)
	}

	if _, err := r.Seek(int64(hdr.ImageOffset), io.SeekStart); err != nil {
		return nil, err
	}

	data := make([]byte, hdr.ImageLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read preview data: %w", err)
	}

	return decodeRLE15(data, int(hdr.ResX), int(hdr.ResY)), nil
}

// decodeRLE15 decodes the run-length encoded 15 bit color stream used by
// chitubox previews. Pixels missing from a truncated stream stay black.
func decodeRLE15(data []byte, width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	pixels := 0
	total := width * height

	for i := 0; i+1 < len(data) && pixels < total; {
		color16 := binary.LittleEndian.Uint16(data[i:])
		i += 2

		repeat := 1

		if color16&repeatFlag != 0 {
			if i+1 >= len(data) {
				break
			}

			repeat += int(binary.LittleEndian.Uint16(data[i:]) & repeatCountMask)
			i += 2
		}

		c := color.RGBA{
			R: uint8((color16 >> 0 & 0x1F) << 3),
			G: uint8((color16 >> 6 & 0x1F) << 3),
			B: uint8((color16 >> 11 & 0x1F) << 3),
			A: 255,
		}

		for ; repeat > 0 && pixels < total; repeat-- {
			img.SetRGBA(pixels%width, pixels/width, c)
			pixels++
		}
	}

	return img
}
