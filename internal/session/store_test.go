package session

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"docchat/internal/database"
)

// storeBackends runs the same contract suite against both Store
// implementations.
func storeBackends(t *testing.T) map[string]func(t *testing.T) (Store, func(time.Time)) {
	t.Helper()
	return map[string]func(t *testing.T) (Store, func(time.Time)){
		"memory": func(t *testing.T) (Store, func(time.Time)) {
			t.Helper()
			m := NewMemoryStore()
			return m, func(now time.Time) {
				m.now = func() time.Time { return now }
			}
		},
		"sqlite": func(t *testing.T) (Store, func(time.Time)) {
			t.Helper()
			db, err := database.Open(filepath.Join(t.TempDir(), "sessions.db"))
			if err != nil {
				t.Fatalf("opening database: %v", err)
			}
			t.Cleanup(func() {
				_ = db.Close()
			})
			if err := database.Migrate(db); err != nil {
				t.Fatalf("migrating: %v", err)
			}
			s := NewSQLiteStore(db, slog.New(slog.DiscardHandler))
			return s, func(now time.Time) {
				s.now = func() time.Time { return now }
			}
		},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t)
			ctx := context.Background()

			created, err := store.Create(ctx)
			if err != nil {
				t.Fatalf("Create() error: %v", err)
			}
			if created.ID == uuid.Nil {
				t.Fatal("Create() returned nil UUID")
			}
			if created.Collection != "" {
				t.Errorf("new session collection = %q, want empty", created.Collection)
			}

			got, err := store.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if got.ID != created.ID {
				t.Errorf("Get() ID = %s, want %s", got.ID, created.ID)
			}
			if len(got.Files) != 0 || len(got.Turns) != 0 {
				t.Errorf("new session has files=%d turns=%d, want 0/0", len(got.Files), len(got.Turns))
			}
		})
	}
}

func TestStoreGetUnknown(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t)

			_, err := store.Get(context.Background(), uuid.New())
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreSetCollection(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t)
			ctx := context.Background()

			sess, err := store.Create(ctx)
			if err != nil {
				t.Fatal(err)
			}
			col := CollectionName(sess.ID)

			if err := store.SetCollection(ctx, sess.ID, col); err != nil {
				t.Fatalf("SetCollection() error: %v", err)
			}
			// Same name again is a no-op.
			if err := store.SetCollection(ctx, sess.ID, col); err != nil {
				t.Errorf("SetCollection() with same name error: %v", err)
			}
			// A different name violates immutability.
			if err := store.SetCollection(ctx, sess.ID, "other"); !errors.Is(err, ErrCollectionConflict) {
				t.Errorf("SetCollection() rebind error = %v, want ErrCollectionConflict", err)
			}

			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Collection != col {
				t.Errorf("Collection = %q, want %q", got.Collection, col)
			}
		})
	}
}

func TestStoreAppendTurnOrdering(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t)
			ctx := context.Background()

			sess, err := store.Create(ctx)
			if err != nil {
				t.Fatal(err)
			}

			turns := []Turn{
				{Role: RoleUser, Content: "first question", CreatedAt: time.Now().UTC()},
				{Role: RoleAssistant, Content: "first answer", CreatedAt: time.Now().UTC()},
				{Role: RoleUser, Content: "second question", CreatedAt: time.Now().UTC()},
			}
			for _, turn := range turns {
				if err := store.AppendTurn(ctx, sess.ID, turn); err != nil {
					t.Fatalf("AppendTurn() error: %v", err)
				}
			}

			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Turns) != len(turns) {
				t.Fatalf("got %d turns, want %d", len(got.Turns), len(turns))
			}
			for i, want := range turns {
				if got.Turns[i].Role != want.Role || got.Turns[i].Content != want.Content {
					t.Errorf("turn %d = %s %q, want %s %q",
						i, got.Turns[i].Role, got.Turns[i].Content, want.Role, want.Content)
				}
			}
		})
	}
}

func TestStoreAppendTurnMetadata(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t)
			ctx := context.Background()

			sess, err := store.Create(ctx)
			if err != nil {
				t.Fatal(err)
			}
			turn := Turn{
				Role:      RoleAssistant,
				Content:   "answer",
				CreatedAt: time.Now().UTC(),
				Metadata:  map[string]string{"sources": "a.pdf"},
			}
			if err := store.AppendTurn(ctx, sess.ID, turn); err != nil {
				t.Fatal(err)
			}

			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Turns[0].Metadata["sources"] != "a.pdf" {
				t.Errorf("metadata = %v, want sources=a.pdf", got.Turns[0].Metadata)
			}
		})
	}
}

func TestStoreRecordUpload(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t)
			ctx := context.Background()

			sess, err := store.Create(ctx)
			if err != nil {
				t.Fatal(err)
			}

			files := []UploadedFile{
				{Name: "report.pdf", StoredPath: "/tmp/x_report.pdf", Type: "pdf", Size: 1024, UploadedAt: time.Now().UTC()},
				{Name: "data.csv", StoredPath: "/tmp/y_data.csv", Type: "csv", Size: 64, UploadedAt: time.Now().UTC()},
			}
			for _, f := range files {
				if err := store.RecordUpload(ctx, sess.ID, f); err != nil {
					t.Fatalf("RecordUpload() error: %v", err)
				}
			}

			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Files) != 2 {
				t.Fatalf("got %d files, want 2", len(got.Files))
			}
			if got.Files[0].Name != "report.pdf" || got.Files[1].Name != "data.csv" {
				t.Errorf("file order = %q, %q; want upload order", got.Files[0].Name, got.Files[1].Name)
			}
		})
	}
}

func TestStoreMutationsOnUnknownSession(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t)
			ctx := context.Background()
			id := uuid.New()

			if err := store.Touch(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("Touch(unknown) error = %v, want ErrNotFound", err)
			}
			if err := store.SetCollection(ctx, id, "c"); !errors.Is(err, ErrNotFound) {
				t.Errorf("SetCollection(unknown) error = %v, want ErrNotFound", err)
			}
			if err := store.AppendTurn(ctx, id, Turn{Role: RoleUser, Content: "q"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("AppendTurn(unknown) error = %v, want ErrNotFound", err)
			}
			if err := store.RecordUpload(ctx, id, UploadedFile{Name: "f"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("RecordUpload(unknown) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreDeleteExpired(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, setNow := setup(t)
			ctx := context.Background()

			base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

			setNow(base)
			stale, err := store.Create(ctx)
			if err != nil {
				t.Fatal(err)
			}

			setNow(base.Add(48 * time.Hour))
			fresh, err := store.Create(ctx)
			if err != nil {
				t.Fatal(err)
			}

			deleted, err := store.DeleteExpired(ctx, base.Add(24*time.Hour))
			if err != nil {
				t.Fatalf("DeleteExpired() error: %v", err)
			}
			if len(deleted) != 1 || deleted[0] != stale.ID {
				t.Fatalf("DeleteExpired() = %v, want [%s]", deleted, stale.ID)
			}

			if _, err := store.Get(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("expired session still present, Get error = %v", err)
			}
			if _, err := store.Get(ctx, fresh.ID); err != nil {
				t.Errorf("fresh session was deleted: %v", err)
			}
		})
	}
}

func TestStoreActivityExtendsLifetime(t *testing.T) {
	for name, setup := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store, setNow := setup(t)
			ctx := context.Background()

			base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			setNow(base)
			sess, err := store.Create(ctx)
			if err != nil {
				t.Fatal(err)
			}

			// Activity after creation pushes last-active past the cutoff.
			setNow(base.Add(36 * time.Hour))
			if err := store.AppendTurn(ctx, sess.ID, Turn{Role: RoleUser, Content: "still here"}); err != nil {
				t.Fatal(err)
			}

			deleted, err := store.DeleteExpired(ctx, base.Add(24*time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if len(deleted) != 0 {
				t.Errorf("DeleteExpired() removed an active session: %v", deleted)
			}
		})
	}
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AppendTurn(ctx, sess.ID, Turn{Role: RoleUser, Content: "original"}); err != nil {
		t.Fatal(err)
	}

	snap, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	snap.Turns[0].Content = "mutated"

	again, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Turns[0].Content != "original" {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestCollectionName(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	if CollectionName(a) == CollectionName(b) {
		t.Error("distinct sessions mapped to the same collection")
	}
	if CollectionName(a) != CollectionName(a) {
		t.Error("collection name is not deterministic")
	}
}
