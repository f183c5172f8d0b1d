// Package vecstore adapts chromem-go into docchat's per-session vector index.
//
// Each chat session owns at most one named collection; collections are
// persisted on disk and survive process restarts. The store guarantees
// all-or-nothing batches: the whole batch is embedded before anything is
// written, and a failed write is rolled back.
package vecstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/ai"
	chromem "github.com/philippgille/chromem-go"

	"docchat/internal/ingest"
)

// Sentinel errors. Check with errors.Is.
var (
	// ErrEmbedding indicates the embedding provider failed. No documents
	// were written when this is returned.
	ErrEmbedding = errors.New("embedding provider error")

	// ErrStorage indicates the persistence layer failed.
	ErrStorage = errors.New("vector storage error")
)

// Result is one retrieved chunk, nearest-first by cosine similarity.
type Result struct {
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Store manages persistent vector collections keyed by collection name.
// Safe for concurrent use; upserts into the same collection are serialized
// to keep batches atomic, different collections never block each other.
type Store struct {
	db       *chromem.DB
	embedder ai.Embedder
	logger   *slog.Logger

	mu    sync.Mutex             // guards locks
	locks map[string]*sync.Mutex // per-collection upsert serialization
}

// New creates a Store persisting collections under dir.
func New(dir string, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("%w: opening vector db: %w", ErrStorage, err)
	}

	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// collectionLock returns the mutex serializing upserts for one collection.
func (s *Store) collectionLock(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.Mutex{}
		s.locks[collection] = l
	}
	return l
}

// Upsert embeds chunks and persists them under collection. Calls are
// cumulative: existing documents stay, re-ingested content overwrites the
// matching IDs. The batch is atomic: an embedding failure writes nothing,
// and a partially failed write is rolled back before returning ErrStorage.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []ingest.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Embed the whole batch up front so provider failures leave the
	// collection untouched.
	vectors, err := s.embedBatch(ctx, chunks)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        chunkID(collection, c),
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: vectors[i],
		}
	}

	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	col, err := s.db.GetOrCreateCollection(collection, nil, s.embeddingFunc())
	if err != nil {
		return fmt.Errorf("%w: creating collection %q: %w", ErrStorage, collection, err)
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		// Documents carry precomputed embeddings, so a failure here is a
		// persistence problem. Remove whatever landed from this batch.
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		if delErr := col.Delete(context.WithoutCancel(ctx), nil, nil, ids...); delErr != nil {
			s.logger.Error("rollback of partial upsert failed",
				"collection", collection, "error", delErr)
		}
		return fmt.Errorf("%w: writing %d documents to %q: %w", ErrStorage, len(docs), collection, err)
	}

	s.logger.Debug("upserted chunks",
		"collection", collection, "count", len(docs), "total", col.Count())
	return nil
}

// Search embeds query and returns the k nearest chunks from collection.
// A collection that does not exist yet, or holds no documents, yields an
// empty result and no error: that is the normal state before any upload.
func (s *Store) Search(ctx context.Context, collection, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	vector, err := s.embedText(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %q: %w", ErrStorage, collection, err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Content:    h.Content,
			Metadata:   h.Metadata,
			Similarity: h.Similarity,
		}
	}
	return results, nil
}

// Count reports the number of documents in collection, 0 if it doesn't exist.
func (s *Store) Count(collection string) int {
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return 0
	}
	return col.Count()
}

// DeleteCollection removes a collection and its persisted documents.
// Deleting a collection that does not exist is a no-op.
func (s *Store) DeleteCollection(collection string) error {
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("%w: deleting collection %q: %w", ErrStorage, collection, err)
	}
	return nil
}

// embedBatch embeds every chunk's content in a single provider request.
func (s *Store) embedBatch(ctx context.Context, chunks []ingest.Chunk) ([][]float32, error) {
	input := make([]*ai.Document, len(chunks))
	for i, c := range chunks {
		input[i] = ai.DocumentFromText(c.Content, nil)
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding %d chunks: %w", ErrEmbedding, len(chunks), err)
	}
	if len(resp.Embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", ErrEmbedding, len(resp.Embeddings), len(chunks))
	}

	vectors := make([][]float32, len(chunks))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmbedding, i)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// embedText embeds a single query string.
func (s *Store) embedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrEmbedding, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding for query", ErrEmbedding)
	}
	return resp.Embeddings[0].Embedding, nil
}

// embeddingFunc bridges the genkit embedder to chromem's callback shape.
// chromem only calls it for documents without precomputed embeddings, which
// Upsert never produces, but collection handles require one regardless.
func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedText(ctx, text)
	}
}

// chunkID derives a stable document ID from the chunk's identity so
// re-ingesting identical content upserts instead of duplicating.
func chunkID(collection string, c ingest.Chunk) string {
	h := sha256.New()
	h.Write([]byte(collection))
	h.Write([]byte{0})
	h.Write([]byte(c.Metadata[ingest.MetaFileName]))
	h.Write([]byte{0})
	h.Write([]byte(c.Metadata[ingest.MetaSource]))
	h.Write([]byte{0})
	h.Write([]byte(c.Metadata[ingest.MetaChunk]))
	h.Write([]byte{0})
	h.Write([]byte(c.Content))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
