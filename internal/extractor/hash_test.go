package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"siteguard/internal/model"
)

func TestComputeFingerprintsDeterministic(t *testing.T) {
	content := model.ExtractedContent{
		NormalizedText: "acme corp builds widgets",
		Outline: []model.DOMNode{
			{Tag: "h1", Depth: 1, Classes: []string{"hero"}},
			{Tag: "p", Depth: 1},
		},
		TextBlocks: []string{"Acme Corp", "We build widgets"},
	}

	fp1 := ComputeFingerprints(content)
	fp2 := ComputeFingerprints(content)
	require.True(t, fp1.Equal(fp2))
}

func TestOutlineSignatureOrderSensitive(t *testing.T) {
	a := outlineSignature([]model.DOMNode{{Tag: "h1", Depth: 1}, {Tag: "p", Depth: 1}})
	b := outlineSignature([]model.DOMNode{{Tag: "p", Depth: 1}, {Tag: "h1", Depth: 1}})
	require.NotEqual(t, a, b)
}

func TestTextBlockSignatureOrderInsensitive(t *testing.T) {
	a := textBlockSignature([]string{"one", "two"})
	b := textBlockSignature([]string{"two", "one"})
	require.Equal(t, a, b)
}

func TestComputeFingerprintsChangesWithStructure(t *testing.T) {
	base := model.ExtractedContent{
		NormalizedText: "same text",
		Outline:        []model.DOMNode{{Tag: "h1", Depth: 1}, {Tag: "p", Depth: 1}},
		TextBlocks:     []string{"same text"},
	}
	reordered := model.ExtractedContent{
		NormalizedText: "same text",
		Outline:        []model.DOMNode{{Tag: "p", Depth: 1}, {Tag: "h1", Depth: 1}},
		TextBlocks:     []string{"same text"},
	}

	fpBase := ComputeFingerprints(base)
	fpReordered := ComputeFingerprints(reordered)

	require.Equal(t, fpBase.ContentHash, fpReordered.ContentHash)
	require.NotEqual(t, fpBase.StructureHash, fpReordered.StructureHash)
}

func TestOutlineSequenceForDetector(t *testing.T) {
	seq := OutlineSequence([]model.DOMNode{{Tag: "h1", Depth: 1, ID: "top"}})
	require.Len(t, seq, 1)
	require.Contains(t, seq[0], "h1:1")
}
