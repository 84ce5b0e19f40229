// Package detector implements the Change Detector (spec §4.3): it decides
// whether two snapshots differ meaningfully enough to invoke the
// classification pipeline, using fingerprint equality as a fast path and a
// weighted keyword/structural similarity pair otherwise.
package detector

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"siteguard/internal/extractor"
	"siteguard/internal/logging"
	"siteguard/internal/model"
)

// Thresholds holds the detector's decision-tree parameters. Resolve
// overlays a site's non-zero overrides onto a global Thresholds value; it
// does not fill zero global fields from DefaultThresholds.
type Thresholds struct {
	SimilarityThreshold     float64
	StructuralThreshold     float64
	CriticalChangeThreshold float64
}

// DefaultThresholds returns the spec's global defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SimilarityThreshold:     0.85,
		StructuralThreshold:     0.90,
		CriticalChangeThreshold: 0.50,
	}
}

// Resolve overlays per-site overrides (non-zero fields of site) onto the
// global defaults.
func Resolve(global Thresholds, site model.Site) Thresholds {
	t := global
	if site.SimilarityThreshold != 0 {
		t.SimilarityThreshold = site.SimilarityThreshold
	}
	if site.StructuralThreshold != 0 {
		t.StructuralThreshold = site.StructuralThreshold
	}
	if site.CriticalChangeThreshold != 0 {
		t.CriticalChangeThreshold = site.CriticalChangeThreshold
	}
	return t
}

// Decision is the detector's verdict on a pair of snapshots.
type Decision struct {
	Magnitude           model.ChangeMagnitude
	KeywordSimilarity   float64
	StructuralSimilarity float64
	Priority            int // lower runs first; ambiguous changes get reduced priority
}

// Compare runs the §4.3 decision tree against a baseline and a new
// extraction, honoring per-site threshold overrides.
func Compare(baseline, current model.ExtractedContent, baselineFP, currentFP model.Fingerprints, t Thresholds) Decision {
	timer := logging.StartTimer(logging.CategoryDetector, "Compare")
	defer timer.Stop()

	if baselineFP.Equal(currentFP) {
		return Decision{Magnitude: model.ChangeUnchanged, KeywordSimilarity: 1, StructuralSimilarity: 1}
	}

	kw := KeywordSimilarity(baseline.Keywords, current.Keywords)
	structSim := StructuralSimilarity(baseline.Outline, current.Outline)

	structurallyDifferent := baselineFP.StructureHash != currentFP.StructureHash && structSim < t.StructuralThreshold

	switch {
	case kw >= t.SimilarityThreshold && structSim >= t.StructuralThreshold:
		return Decision{Magnitude: model.ChangeMinor, KeywordSimilarity: kw, StructuralSimilarity: structSim, Priority: 0}
	case kw < t.CriticalChangeThreshold || structurallyDifferent:
		return Decision{Magnitude: model.ChangeSignificant, KeywordSimilarity: kw, StructuralSimilarity: structSim, Priority: 0}
	default:
		return Decision{Magnitude: model.ChangeAmbiguous, KeywordSimilarity: kw, StructuralSimilarity: structSim, Priority: 1}
	}
}

// KeywordSimilarity implements the weighted Jaccard/Overlap/Dice
// combination from §4.3, with the near-subset bonus term.
func KeywordSimilarity(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter

	var j, o, d float64
	if union > 0 {
		j = float64(inter) / float64(union)
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	if minLen > 0 {
		o = float64(inter) / float64(minLen)
	}
	if len(a)+len(b) > 0 {
		d = 2 * float64(inter) / float64(len(a)+len(b))
	}

	base := 0.2*j + 0.6*o + 0.2*d

	if minLen > 0 {
		ratio := float64(inter) / float64(minLen)
		if ratio >= 0.5 {
			bonus := 0.2 * ratio
			if bonus > 0.15 {
				bonus = 0.15
			}
			base += bonus
		}
	}

	if base > 1 {
		base = 1
	}
	if base < 0 {
		base = 0
	}
	return base
}

// StructuralSimilarity is 1 minus the normalized Levenshtein edit distance
// over the outline tuple sequence, computed via diffmatchpatch's line-mode
// diff (each outline tuple treated as one "line"). See DESIGN.md for why
// this resolves the spec's unspecified edit-distance normalization.
func StructuralSimilarity(a, b []model.DOMNode) float64 {
	seqA := extractor.OutlineSequence(a)
	seqB := extractor.OutlineSequence(b)

	maxLen := len(seqA)
	if len(seqB) > maxLen {
		maxLen = len(seqB)
	}
	if maxLen == 0 {
		return 1
	}

	dmp := diffmatchpatch.New()
	// Every tuple gets a trailing newline so the last one is the same
	// "line" token as an equal tuple elsewhere. The distance is taken on the
	// line-encoded diffs, where each rune stands for one tuple, so it counts
	// tuples rather than characters.
	textA, textB, _ := dmp.DiffLinesToChars(strings.Join(seqA, "\n")+"\n", strings.Join(seqB, "\n")+"\n")
	diffs := dmp.DiffMain(textA, textB, false)
	dist := dmp.DiffLevenshtein(diffs)

	sim := 1 - float64(dist)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}
