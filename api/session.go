package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"docchat/internal/session"
)

// sessionCookieName identifies the signed session cookie.
const sessionCookieName = "rag_session"

// sessionManager resolves the session behind each request's cookie.
type sessionManager struct {
	store      session.Store
	hmacSecret []byte
	ttl        time.Duration
	isDev      bool
	logger     *slog.Logger
}

// resolve returns the request's session, creating one when the cookie is
// absent, tampered with, or references a session that has expired. The
// cookie is re-issued on every response so active sessions slide their
// expiry forward.
func (sm *sessionManager) resolve(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if id, ok := session.Verify(cookie.Value, sm.hmacSecret); ok {
			sess, err := sm.store.Get(ctx, id)
			if err == nil {
				if err := sm.store.Touch(ctx, id); err != nil {
					sm.logger.Warn("refreshing session activity failed", "id", id, "error", err)
				}
				sm.setCookie(w, cookie.Value)
				return sess, nil
			}
			if !errors.Is(err, session.ErrNotFound) {
				return nil, err
			}
			sm.logger.Debug("cookie references unknown session, creating new", "id", id)
		}
	}

	sess, err := sm.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	sm.setCookie(w, session.Sign(sess.ID, sm.hmacSecret))
	return sess, nil
}

func (sm *sessionManager) setCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Secure:   !sm.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})
}
