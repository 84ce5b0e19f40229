package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	dim int
	fn  func(text string) []float32
}

func (s *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.fn(text), nil
}

func (s *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.fn(t)
	}
	return out, nil
}

func (s *stubEngine) Dimensions() int { return s.dim }
func (s *stubEngine) Name() string    { return "stub" }

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float32{1, 2, 3}
	sim, err := CosineSimilarity(a, a)
	require.NoError(t, err)
	require.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.0, sim, 1e-9)
}

func TestCosineSimilarityZeroMagnitude(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	require.Equal(t, 0.0, sim)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	require.Error(t, err)
}

func TestMeanCombinesChunkVectors(t *testing.T) {
	mean := Mean([][]float32{{1, 1}, {3, 3}})
	require.Equal(t, []float32{2, 2}, mean)
}

func TestChunkShortTextUnchanged(t *testing.T) {
	chunks := Chunk("short text", 1000)
	require.Equal(t, []string{"short text"}, chunks)
}

func TestChunkSplitsLongText(t *testing.T) {
	text := "Sentence one. Sentence two. Sentence three. Sentence four."
	chunks := Chunk(text, 20)
	require.Greater(t, len(chunks), 1)
}

func TestEmbedForSnapshotSingleChunk(t *testing.T) {
	eng := &stubEngine{dim: 3, fn: func(string) []float32 { return []float32{1, 2, 3} }}
	v, err := EmbedForSnapshot(context.Background(), eng, "site1", "snap1", "main", "hello world", DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, 3, v.Dimension)
	require.Equal(t, "site1", v.SiteID)
}

func TestEmbedForSnapshotEmptyTextErrors(t *testing.T) {
	eng := &stubEngine{dim: 3, fn: func(string) []float32 { return []float32{1, 2, 3} }}
	_, err := EmbedForSnapshot(context.Background(), eng, "site1", "snap1", "main", "   ", DefaultConfig())
	require.Error(t, err)
}

func TestEmbedForSnapshotChunksAndAverages(t *testing.T) {
	eng := &stubEngine{dim: 2, fn: func(string) []float32 { return []float32{2, 4} }}
	cfg := DefaultConfig()
	cfg.ChunkThreshold = 5
	text := "one two three. four five six. seven eight nine."
	v, err := EmbedForSnapshot(context.Background(), eng, "s", "sn", "combined", text, cfg)
	require.NoError(t, err)
	require.Equal(t, []float32{2, 4}, v.Payload)
}
