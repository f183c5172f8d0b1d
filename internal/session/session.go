// Package session holds the unit of user identity and state isolation.
//
// A Session owns one chat history, one uploaded-file list, and (after the
// first successful upload) one vector collection. Two Store implementations
// are provided: an in-memory map for tests and development, and a sqlite
// backend so sessions survive restarts. Both serialize mutations to a single
// session while keeping distinct sessions independent.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested session does not exist. The HTTP layer
// never surfaces it: an unknown token simply resolves to a fresh session.
var ErrNotFound = errors.New("session not found")

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is a snapshot of one user's state. Store methods return copies;
// mutations go through the Store, never through the snapshot.
type Session struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	LastActive time.Time

	// Collection is empty until the first successful upload, then
	// immutable. Derived from the session ID via CollectionName.
	Collection string

	Files []UploadedFile
	Turns []Turn
}

// UploadedFile records one successfully processed upload. Append-only.
type UploadedFile struct {
	Name       string    `json:"name"`
	StoredPath string    `json:"-"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Turn is one chat message. Append-only, ordered by insertion.
type Turn struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Store is the session registry contract shared by the memory and sqlite
// backends.
type Store interface {
	// Create registers a new session with a fresh random identity.
	Create(ctx context.Context) (*Session, error)

	// Get returns a snapshot of the session, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Session, error)

	// Touch refreshes the session's last-active timestamp.
	Touch(ctx context.Context, id uuid.UUID) error

	// SetCollection binds the session to its vector collection. The
	// binding is first-write-wins: setting the same name again is a
	// no-op, setting a different one is an error.
	SetCollection(ctx context.Context, id uuid.UUID, name string) error

	// RecordUpload appends a file record and refreshes last-active.
	RecordUpload(ctx context.Context, id uuid.UUID, f UploadedFile) error

	// AppendTurn appends a chat turn and refreshes last-active.
	AppendTurn(ctx context.Context, id uuid.UUID, t Turn) error

	// DeleteExpired removes sessions whose last activity predates cutoff
	// and returns their IDs so callers can clean up owned resources.
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	// Close releases backend resources.
	Close() error
}

// CollectionName derives the vector collection name for a session.
// Deterministic and injective in the session identity, so collections can
// never leak across sessions.
func CollectionName(id uuid.UUID) string {
	return "session-" + id.String()
}

// ErrCollectionConflict indicates an attempt to rebind a session to a
// different collection, which the immutability invariant forbids.
var ErrCollectionConflict = errors.New("session collection already set")
