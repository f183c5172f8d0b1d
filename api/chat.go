package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docchat/internal/engine"
	"docchat/internal/session"
)

// maxQuestionBytes bounds the chat request body.
const maxQuestionBytes = 64 << 10

// chatHandler answers questions against the session's documents.
type chatHandler struct {
	sessions *sessionManager
	engine   Answerer
	logger   *slog.Logger
}

type chatRequest struct {
	Text         string `json:"text"`
	UseWebSearch bool   `json:"use_web_search"`
}

type chatResponse struct {
	Reply   string   `json:"reply"`
	Sources []string `json:"sources"`
}

// send handles one chat turn. The prior turn log is handed to the engine
// before this turn is appended, so the model sees history exactly as it
// stood when the user asked.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.sessions.resolve(ctx, w, r)
	if err != nil {
		h.logger.Error("resolving session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_failed", "failed to resolve session", h.logger)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxQuestionBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	question := strings.TrimSpace(req.Text)
	if question == "" {
		writeError(w, http.StatusBadRequest, "missing_text", "text is required", h.logger)
		return
	}

	answer, err := h.engine.Answer(ctx, engine.Request{
		Question:     question,
		History:      engine.PairTurns(sess.Turns),
		Collection:   sess.Collection,
		UseWebSearch: req.UseWebSearch,
	})
	if err != nil {
		h.logger.Error("answering question", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "failed to answer question", h.logger)
		return
	}

	// Soft failures are not recorded: the apology is shown once and kept
	// out of future model context.
	if !answer.Soft {
		now := time.Now().UTC()
		turns := []session.Turn{
			{Role: session.RoleUser, Content: question, CreatedAt: now},
			{Role: session.RoleAssistant, Content: answer.Text, CreatedAt: now},
		}
		for _, t := range turns {
			if err := h.sessions.store.AppendTurn(ctx, sess.ID, t); err != nil {
				if !errors.Is(err, session.ErrNotFound) {
					h.logger.Warn("appending turn", "session_id", sess.ID, "error", err)
				}
				break
			}
		}
	}

	sources := engine.SourceFiles(answer.Sources)
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: answer.Text, Sources: sources})
}
