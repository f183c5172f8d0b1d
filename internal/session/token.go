package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// Sign produces the tamper-evident cookie value for a session identity:
// "id.base64url(HMAC-SHA256(secret, id))". The token binds to the identity
// only; no session content ever travels in the cookie.
func Sign(id uuid.UUID, secret []byte) string {
	raw := id.String()
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(raw))
	return raw + "." + base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// Verify checks a presented token's signature and returns the session ID.
// Any malformed, forged, or non-UUID value fails closed with ok=false; the
// caller responds by minting a fresh session.
func Verify(value string, secret []byte) (uuid.UUID, bool) {
	idx := strings.LastIndex(value, ".")
	if idx < 1 {
		return uuid.Nil, false
	}

	raw := value[:idx]
	sig, err := base64.URLEncoding.DecodeString(value[idx+1:])
	if err != nil {
		return uuid.Nil, false
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(raw))
	if subtle.ConstantTimeCompare(sig, h.Sum(nil)) != 1 {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
