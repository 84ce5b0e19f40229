// Package embedding implements the Vectorizer (spec §4.4): it produces
// fixed-dimension semantic embeddings of text content via an external
// embedding model, and exposes the cosine-similarity utilities the
// Classification Pipeline's semantic analyzer depends on.
package embedding

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"siteguard/internal/logging"
	"siteguard/internal/model"
)

// Engine generates vector embeddings for text. It is the concrete
// implementation behind the Embedding port (spec §6): Embed is
// deterministic for a fixed model; failure means the caller must treat the
// vector as omitted, never fatal.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HealthChecker is an optional interface for engines that support an
// explicit health probe before a batch operation is attempted.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config selects and tunes an embedding engine.
type Config struct {
	Provider string // "ollama" or "genai"

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
	TaskType    string

	// MaxContentLength truncates text before embedding (spec §4.4).
	MaxContentLength int
	// ChunkThreshold: texts longer than this are split on sentence
	// boundaries into chunks of roughly this size, embedded separately,
	// and combined by element-wise mean.
	ChunkThreshold int
	// Dimension is the requested embedding width (spec §6's
	// Vector.dimension). A provider that cannot honor it returns
	// whatever it actually produces; Dimensions() reports what was
	// configured, not a model-specific constant.
	Dimension int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:         "ollama",
		OllamaEndpoint:   "http://localhost:11434",
		OllamaModel:      "embeddinggemma",
		GenAIModel:       "gemini-embedding-001",
		TaskType:         "SEMANTIC_SIMILARITY",
		MaxContentLength: 20000,
		ChunkThreshold:   8000,
		Dimension:        3072,
	}
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("creating embedding engine with provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Dimension)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 for a zero-magnitude vector rather than dividing by zero.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMag, bMag float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dotProduct / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// Mean computes the element-wise mean of a set of equal-length vectors,
// used to combine chunk embeddings back into one snapshot vector (§4.4).
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	out := make([]float32, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			out[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// Preprocess strips whitespace runs and truncates to maxLen, per §4.4's
// preprocessing step (HTML stripping happens upstream in the extractor;
// this operates on already-extracted text).
func Preprocess(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	text = strings.ToLower(text)
	if maxLen > 0 && len(text) > maxLen {
		text = text[:maxLen]
	}
	return text
}

// Chunk splits text into roughly chunkSize-sized pieces on sentence
// boundaries, used when text exceeds the configured chunk threshold.
func Chunk(text string, chunkSize int) []string {
	if chunkSize <= 0 || len(text) <= chunkSize {
		return []string{text}
	}

	sentences := sentenceBoundary.Split(text, -1)
	var chunks []string
	var current strings.Builder
	for _, s := range sentences {
		if current.Len()+len(s) > chunkSize && current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	if len(chunks) == 0 {
		chunks = []string{text}
	}
	return chunks
}

// EmbedForSnapshot runs the full §4.4 pipeline (preprocess, chunk if
// needed, embed, mean-combine) and returns a Vector ready to persist.
// A nil return with a non-nil error means the caller should omit the
// vector and continue — vectorization failure is never fatal (§7).
func EmbedForSnapshot(ctx context.Context, eng Engine, siteID, snapshotID string, kind model.VectorKind, text string, cfg Config) (*model.Vector, error) {
	if eng == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}

	clean := Preprocess(text, cfg.MaxContentLength)
	if clean == "" {
		return nil, fmt.Errorf("empty text after preprocessing")
	}

	chunks := Chunk(clean, cfg.ChunkThreshold)

	var payload []float32
	if len(chunks) == 1 {
		v, err := eng.Embed(ctx, chunks[0])
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		payload = v
	} else {
		vecs, err := eng.EmbedBatch(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("embed batch (%d chunks): %w", len(chunks), err)
		}
		payload = Mean(vecs)
	}

	return &model.Vector{
		SiteID:     siteID,
		SnapshotID: snapshotID,
		Kind:       kind,
		Dimension:  len(payload),
		Payload:    payload,
	}, nil
}
