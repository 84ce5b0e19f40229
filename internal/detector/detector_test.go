package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"siteguard/internal/model"
)

func kwSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func TestKeywordSimilarityIdentical(t *testing.T) {
	a := kwSet("foo", "bar", "baz")
	sim := KeywordSimilarity(a, a)
	require.InDelta(t, 1.0, sim, 1e-9)
}

func TestKeywordSimilarityDisjoint(t *testing.T) {
	sim := KeywordSimilarity(kwSet("foo"), kwSet("bar"))
	require.Equal(t, 0.0, sim)
}

func TestKeywordSimilarityEmptyBoth(t *testing.T) {
	sim := KeywordSimilarity(kwSet(), kwSet())
	require.Equal(t, 0.0, sim)
}

func TestKeywordSimilarityPartialOverlapBonus(t *testing.T) {
	a := kwSet("foo", "bar")
	b := kwSet("foo", "bar", "baz", "qux")
	sim := KeywordSimilarity(a, b)
	require.Greater(t, sim, 0.6)
	require.LessOrEqual(t, sim, 1.0)
}

func TestStructuralSimilarityIdenticalOutline(t *testing.T) {
	outline := []model.DOMNode{{Tag: "h1", Depth: 1}, {Tag: "p", Depth: 1}}
	sim := StructuralSimilarity(outline, outline)
	require.InDelta(t, 1.0, sim, 1e-9)
}

func TestStructuralSimilarityBothEmpty(t *testing.T) {
	sim := StructuralSimilarity(nil, nil)
	require.Equal(t, 1.0, sim)
}

func TestStructuralSimilarityDropsTowardZeroOnRewrite(t *testing.T) {
	a := []model.DOMNode{{Tag: "h1", Depth: 1}, {Tag: "p", Depth: 1}, {Tag: "div", Depth: 1}}
	b := []model.DOMNode{{Tag: "script", Depth: 1}, {Tag: "iframe", Depth: 1}}
	sim := StructuralSimilarity(a, b)
	require.Less(t, sim, 0.5)
}

func fingerprintsEqual() (model.Fingerprints, model.Fingerprints) {
	fp := model.Fingerprints{ContentHash: "a", StructureHash: "b", TextBlockHash: "c", SemanticHash: "d"}
	return fp, fp
}

func TestCompareUnchangedWhenFingerprintsEqual(t *testing.T) {
	fpA, fpB := fingerprintsEqual()
	d := Compare(model.ExtractedContent{}, model.ExtractedContent{}, fpA, fpB, DefaultThresholds())
	require.Equal(t, model.ChangeUnchanged, d.Magnitude)
}

func TestCompareMinorChangeWhenHighSimilarity(t *testing.T) {
	base := model.ExtractedContent{
		Keywords: kwSet("widgets", "acme", "quality", "support"),
		Outline:  []model.DOMNode{{Tag: "h1", Depth: 1}, {Tag: "p", Depth: 1}},
	}
	cur := model.ExtractedContent{
		Keywords: kwSet("widgets", "acme", "quality", "support"),
		Outline:  []model.DOMNode{{Tag: "h1", Depth: 1}, {Tag: "p", Depth: 1}},
	}
	fpA := model.Fingerprints{ContentHash: "a"}
	fpB := model.Fingerprints{ContentHash: "b"}
	d := Compare(base, cur, fpA, fpB, DefaultThresholds())
	require.Equal(t, model.ChangeMinor, d.Magnitude)
}

func TestCompareSignificantChangeWhenKeywordsDiverge(t *testing.T) {
	base := model.ExtractedContent{
		Keywords: kwSet("acme", "widgets", "quality"),
		Outline:  []model.DOMNode{{Tag: "h1", Depth: 1}},
	}
	cur := model.ExtractedContent{
		Keywords: kwSet("hacked", "pwned", "defaced"),
		Outline:  []model.DOMNode{{Tag: "h1", Depth: 1}},
	}
	fpA := model.Fingerprints{ContentHash: "a"}
	fpB := model.Fingerprints{ContentHash: "b"}
	d := Compare(base, cur, fpA, fpB, DefaultThresholds())
	require.Equal(t, model.ChangeSignificant, d.Magnitude)
}

func TestResolveOverridesOnlyNonZeroFields(t *testing.T) {
	global := DefaultThresholds()
	site := model.Site{SimilarityThreshold: 0.95}
	t2 := Resolve(global, site)
	require.Equal(t, 0.95, t2.SimilarityThreshold)
	require.Equal(t, global.StructuralThreshold, t2.StructuralThreshold)
}
