package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"docchat/internal/ingest"
	"docchat/internal/session"
)

// uploadHandler ingests uploaded files into the session's collection.
type uploadHandler struct {
	sessions  *sessionManager
	pipeline  Ingester
	vectors   VectorStore
	uploadDir string
	maxBytes  int64
	logger    *slog.Logger
}

// fileResult reports the outcome for one uploaded file.
type fileResult struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Status string `json:"status"` // "ingested" or "failed"
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

// upload accepts multipart form files under the "files" field. Each file is
// processed independently: a corrupt or unsupported file fails alone while
// the rest of the batch proceeds.
func (h *uploadHandler) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.sessions.resolve(ctx, w, r)
	if err != nil {
		h.logger.Error("resolving session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_failed", "failed to resolve session", h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large",
				fmt.Sprintf("upload exceeds %d bytes", h.maxBytes), h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_form", "invalid multipart form", h.logger)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no_files", "no files provided under field 'files'", h.logger)
		return
	}

	collection := session.CollectionName(sess.ID)
	results := make([]fileResult, 0, len(headers))
	succeeded := 0

	for _, fh := range headers {
		res := h.ingestOne(r, sess, collection, fh)
		if res.Status == "ingested" {
			succeeded++
		}
		results = append(results, res)
	}

	if succeeded > 0 {
		// Bind the collection on first successful upload. A conflict means a
		// concurrent upload won the race with the same name, which is fine.
		if err := h.sessions.store.SetCollection(ctx, sess.ID, collection); err != nil &&
			!errors.Is(err, session.ErrCollectionConflict) {
			h.logger.Error("binding collection", "session_id", sess.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "session_failed", "failed to update session", h.logger)
			return
		}
	}

	status := http.StatusOK
	message := fmt.Sprintf("processed %d of %d files", succeeded, len(headers))
	if succeeded == 0 {
		status = http.StatusBadRequest
		message = "no files could be processed"
	}
	writeJSON(w, status, map[string]any{"message": message, "files": results})
}

// ingestOne runs the whole pipeline for a single file: read, chunk, embed,
// store, and record on the session. Failures are reported per file, never
// as a request-level error.
func (h *uploadHandler) ingestOne(r *http.Request, sess *session.Session, collection string, fh *multipart.FileHeader) fileResult {
	ctx := r.Context()
	name := filepath.Base(fh.Filename)
	res := fileResult{Name: name, Status: "failed"}

	format, err := ingest.DetectFormat(name)
	if err != nil {
		res.Error = fmt.Sprintf("unsupported file type: %s", filepath.Ext(name))
		return res
	}
	res.Type = string(format)

	f, err := fh.Open()
	if err != nil {
		res.Error = "could not read file"
		return res
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		res.Error = "could not read file"
		return res
	}
	res.Size = int64(len(data))

	chunks, err := h.pipeline.Ingest(data, name, format)
	if err != nil {
		h.logger.Warn("ingestion failed", "file", name, "error", err)
		res.Error = "could not extract text from file"
		return res
	}

	if len(chunks) > 0 {
		if err := h.vectors.Upsert(ctx, collection, chunks); err != nil {
			h.logger.Error("storing chunks", "file", name, "collection", collection, "error", err)
			res.Error = "could not index file"
			return res
		}
	}

	storedPath, err := h.saveOriginal(name, data)
	if err != nil {
		// The chunks are already searchable; losing the original copy is
		// not worth failing the upload over.
		h.logger.Warn("saving original file", "file", name, "error", err)
	}

	record := session.UploadedFile{
		Name:       name,
		StoredPath: storedPath,
		Type:       string(format),
		Size:       int64(len(data)),
		UploadedAt: time.Now().UTC(),
	}
	if err := h.sessions.store.RecordUpload(ctx, sess.ID, record); err != nil {
		h.logger.Error("recording upload", "file", name, "session_id", sess.ID, "error", err)
		res.Error = "could not record upload"
		return res
	}

	res.Status = "ingested"
	res.Chunks = len(chunks)
	return res
}

// saveOriginal writes the raw upload under a uuid-prefixed name so equal
// file names from different sessions never collide.
func (h *uploadHandler) saveOriginal(name string, data []byte) (string, error) {
	if h.uploadDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	path := filepath.Join(h.uploadDir, uuid.New().String()+"_"+name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return path, nil
}
