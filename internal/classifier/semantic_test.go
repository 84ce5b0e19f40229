package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"siteguard/internal/model"
)

func TestClassifyRiskBoundaries(t *testing.T) {
	require.Equal(t, RiskLow, ClassifyRisk(0.99))
	require.Equal(t, RiskMedium, ClassifyRisk(0.85))
	require.Equal(t, RiskHigh, ClassifyRisk(0.65))
	require.Equal(t, RiskCritical, ClassifyRisk(0.2))
}

func TestSemanticClassifierAbstainsWithoutVectors(t *testing.T) {
	s := NewSemanticClassifier()
	v := s.Classify(VectorPair{}, nil)
	require.True(t, v.Abstained)
}

func TestSemanticClassifierHighSimilarityIsBenign(t *testing.T) {
	s := NewSemanticClassifier()
	v := s.Classify(VectorPair{Kind: model.VectorMain, Baseline: []float32{1, 0, 0}, New: []float32{1, 0, 0}}, nil)
	require.False(t, v.Abstained)
	require.Equal(t, model.VerdictBenign, v.Verdict)
}

func TestSemanticClassifierLowSimilarityIsDefacement(t *testing.T) {
	s := NewSemanticClassifier()
	v := s.Classify(VectorPair{Kind: model.VectorMain, Baseline: []float32{1, 0}, New: []float32{0, 1}}, nil)
	require.Equal(t, model.VerdictDefacement, v.Verdict)
}

func TestSemanticClassifierReportsTopicDrift(t *testing.T) {
	s := NewSemanticClassifier()
	main := VectorPair{Kind: model.VectorMain, Baseline: []float32{1, 0}, New: []float32{0.9, 0.1}}
	title := VectorPair{Kind: model.VectorTitle, Baseline: []float32{1, 0}, New: []float32{0, 1}}
	v := s.Classify(main, []VectorPair{title})
	require.Contains(t, v.Evidence[1], "title")
}
