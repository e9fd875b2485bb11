// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/xmodpt/resinctl/internal/store"
	"github.com/xmodpt/resinctl/internal/thumb"
)

// uploadLimitSlack covers multipart framing overhead on top of the store's
// own size cap.
const uploadLimitSlack = 1 << 20

func (s *Server) handleFilesList(w http.ResponseWriter, _ *http.Request) {
	files, err := s.Store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list files: %v", err)

		return
	}

	used, total, err := s.Store.Usage()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "disk usage: %v", err)

		return
	}

	writeJSON(w, http.StatusOK, struct {
		Files     []store.File `json:"files"`
		DiskUsed  uint64       `json:"disk_used"`
		DiskTotal uint64       `json:"disk_total"`
	}{Files: files, DiskUsed: used, DiskTotal: total})
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, store.DefaultMaxBytes+uploadLimitSlack)

	src, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: %v", err)

		return
	}
	defer src.Close()

	file, err := s.Store.Save(header.Filename, src)

	switch {
	case errors.Is(err, store.ErrBadName), errors.Is(err, store.ErrBadExtension):
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	case errors.Is(err, store.ErrUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "%v", err)

		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "store upload: %v", err)

		return
	}

	writeJSON(w, http.StatusCreated, file)
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.Store.Delete(name); err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "%v", err)

			return
		}

		writeError(w, http.StatusInternalServerError, "delete file: %v", err)

		return
	}

	// The thumbnail cache follows the file.
	if err := s.Thumbs.Delete(name); err != nil {
		writeError(w, http.StatusInternalServerError, "delete thumbnail: %v", err)

		return
	}

	s.cleanupThumbnails()

	writeOK(w, "file deleted")
}

// cleanupThumbnails drops cached thumbnails whose print file is gone, for
// example after files were removed through the USB share.
func (s *Server) cleanupThumbnails() {
	files, err := s.Store.List()
	if err != nil {
		log.Printf("api: list files for thumbnail cleanup: %v", err)

		return
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}

	removed, err := s.Thumbs.CleanupOrphans(names)
	if err != nil {
		log.Printf("api: thumbnail cleanup: %v", err)

		return
	}

	if removed > 0 {
		log.Printf("api: removed %d orphaned thumbnail(s)", removed)
	}
}

// fileInfoBody combines stored file metadata with the decoded slicer header.
// CTB is omitted for formats without a header decoder.
type fileInfoBody struct {
	Name     string         `json:"name"`
	Size     int64          `json:"size"`
	Modified time.Time      `json:"modified"`
	CTB      *thumb.CTBInfo `json:"ctb,omitempty"`
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f, err := s.Store.Open(name)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "%v", err)

			return
		}

		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stat %q: %v", name, err)

		return
	}

	body := fileInfoBody{Name: name, Size: stat.Size(), Modified: stat.ModTime()}

	info, err := thumb.ReadCTBInfo(f)

	switch {
	case err == nil:
		body.CTB = &info
	case errors.Is(err, thumb.ErrNotCTB):
		// Photon formats carry no decodable header, metadata only.
	default:
		writeError(w, http.StatusInternalServerError, "read header of %q: %v", name, err)

		return
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFileThumbnail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	path, err := s.Store.Path(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)

		return
	}

	thumbPath, err := s.Thumbs.Get(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "thumbnail for %q: %v", name, err)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, thumbPath)
}
