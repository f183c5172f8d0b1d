package api

import (
	"log/slog"
	"net/http"

	"docchat/internal/session"
)

// filesHandler lists the session's uploaded files.
type filesHandler struct {
	sessions *sessionManager
	logger   *slog.Logger
}

// list returns the files uploaded in this session, oldest first. A fresh
// session gets an empty list, never an error.
func (h *filesHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.sessions.resolve(ctx, w, r)
	if err != nil {
		h.logger.Error("resolving session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_failed", "failed to resolve session", h.logger)
		return
	}

	files := sess.Files
	if files == nil {
		files = []session.UploadedFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}
