// Package engine answers questions over a session's uploaded documents.
// It retrieves the most relevant chunks from the session's vector
// collection, grounds the model on them, and returns the reply together
// with the chunks it drew from.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"docchat/internal/ingest"
	"docchat/internal/vecstore"
)

const (
	// NoDocumentsMessage is returned verbatim when the session has no
	// uploaded documents to search.
	NoDocumentsMessage = "You haven't uploaded any documents yet. Please upload a file first, then ask me questions about it."

	// softFailureMessage is the user-facing reply when the model provider
	// fails after retries. The request still succeeds at the HTTP level.
	softFailureMessage = "I apologize, but I ran into a problem while generating a response. Please try again in a moment."

	// emptyResponseMessage covers the rare case of a successful call that
	// produced no text.
	emptyResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."
)

// ErrGeneration indicates the model call failed after retries.
var ErrGeneration = errors.New("generation failed")

// Retriever finds the chunks most similar to a query within one collection.
type Retriever interface {
	Search(ctx context.Context, collection, query string, k int) ([]vecstore.Result, error)
}

// Request is a single question against a session's documents.
type Request struct {
	Question     string
	History      []QA   // Prior exchanges, oldest first
	Collection   string // Empty means no documents uploaded yet
	UseWebSearch bool   // Allow the model to supplement from general knowledge
}

// Response is the engine's answer.
type Response struct {
	Text    string
	Sources []vecstore.Result // The exact chunks the answer was grounded on
	Soft    bool              // True when Text is an apology for a provider failure
}

// Config contains all required parameters for the engine.
type Config struct {
	Genkit    *genkit.Genkit
	Retriever Retriever
	Logger    *slog.Logger

	ModelName   string  // Provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Temperature float64 // 0 uses the provider default
	TopK        int     // Chunks retrieved per question

	RetryConfig RetryConfig   // Zero value uses defaults
	RateLimiter *rate.Limiter // nil creates a default limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Engine is stateless and safe for concurrent use. All configuration is
// captured immutably at construction time.
type Engine struct {
	modelName   string
	temperature float64
	topK        int

	retryConfig RetryConfig
	rateLimiter *rate.Limiter

	g         *genkit.Genkit
	retriever Retriever
	logger    *slog.Logger

	// Wraps genkit.Generate. Tests substitute a stub here.
	generate func(ctx context.Context, g *genkit.Genkit, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

// New creates an engine with required configuration.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	return &Engine{
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		topK:        topK,
		retryConfig: retryConfig,
		rateLimiter: rl,
		g:           cfg.Genkit,
		retriever:   cfg.Retriever,
		logger:      cfg.Logger,
		generate:    genkit.Generate,
	}, nil
}

// Answer retrieves context for the question and generates a grounded reply.
//
// Retrieval and provider failures are downgraded: the returned Response
// carries an apology with Soft set, and the error is nil. The chat surface
// stays available no matter what the providers do. A non-nil error means
// the request itself was malformed.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errors.New("question is empty")
	}

	if req.Collection == "" {
		return &Response{Text: NoDocumentsMessage}, nil
	}

	results, err := e.retriever.Search(ctx, req.Collection, question, e.topK)
	if err != nil {
		e.logger.Error("retrieval failed, answering softly",
			"collection", req.Collection,
			"error", err)
		return &Response{Text: softFailureMessage, Soft: true}, nil
	}
	if len(results) == 0 {
		return &Response{Text: NoDocumentsMessage}, nil
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(e.modelName),
		ai.WithSystem(e.systemPrompt(results, req.UseWebSearch)),
		ai.WithMessages(buildMessages(req.History, question)...),
	}
	if e.temperature > 0 {
		opts = append(opts, ai.WithConfig(map[string]any{"temperature": e.temperature}))
	}

	start := time.Now()
	resp, err := e.generateWithRetry(ctx, opts...)
	if err != nil {
		e.logger.Error("generation failed, answering softly",
			"collection", req.Collection,
			"elapsed", time.Since(start),
			"error", err)
		return &Response{Text: softFailureMessage, Soft: true}, nil
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		e.logger.Warn("model returned empty response", "collection", req.Collection)
		text = emptyResponseMessage
	}

	e.logger.Debug("answered question",
		"collection", req.Collection,
		"chunks", len(results),
		"elapsed", time.Since(start))

	return &Response{Text: text, Sources: results}, nil
}

// systemPrompt assembles the grounding instruction with the retrieved
// chunks inlined, each labelled by its origin.
func (e *Engine) systemPrompt(results []vecstore.Result, useWebSearch bool) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that answers questions about the user's uploaded documents.\n")
	b.WriteString("Base your answer on the document excerpts below.")
	if useWebSearch {
		b.WriteString(" You may supplement with your general knowledge when the excerpts are insufficient, and say so when you do.")
	} else {
		b.WriteString(" If the excerpts do not contain the answer, say you could not find it in the uploaded documents.")
	}
	b.WriteString("\n\nDocument excerpts:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, r.Metadata[ingest.MetaFileName], r.Metadata[ingest.MetaSource], r.Content)
	}
	return b.String()
}

// SourceFiles returns the distinct file names behind the results, sorted
// for a stable response shape.
func SourceFiles(results []vecstore.Result) []string {
	seen := make(map[string]struct{}, len(results))
	var files []string
	for _, r := range results {
		name := r.Metadata[ingest.MetaFileName]
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}
