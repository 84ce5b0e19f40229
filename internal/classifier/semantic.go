package classifier

import (
	"fmt"

	"siteguard/internal/embedding"
	"siteguard/internal/model"
)

// RiskLevel buckets a cosine similarity into the §4.5.2 risk scale.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ClassifyRisk maps a cosine similarity into a risk level per §4.5.2.
func ClassifyRisk(similarity float64) RiskLevel {
	switch {
	case similarity >= 0.95:
		return RiskLow
	case similarity >= 0.80:
		return RiskMedium
	case similarity >= 0.50:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// VectorPair is one (baseline, new) vector pair for a given projection.
type VectorPair struct {
	Kind     model.VectorKind
	Baseline []float32
	New      []float32
}

// SemanticClassifier compares baseline and new embeddings via cosine
// similarity and reports the projected verdict, plus topic drift across
// independently-compared vector kinds.
type SemanticClassifier struct{}

// NewSemanticClassifier constructs a semantic analyzer. It holds no state;
// every call is a pure function of its inputs.
func NewSemanticClassifier() *SemanticClassifier { return &SemanticClassifier{} }

// Classify compares the main vector pair (required) and any additional
// per-kind pairs (title/meta/text_blocks), reporting the maximum observed
// shift as topic drift evidence. A missing main vector pair means the
// classifier abstains (§4.4: missing vectors are tolerated, never fatal).
func (s *SemanticClassifier) Classify(main VectorPair, others []VectorPair) model.ClassifierVerdict {
	if len(main.Baseline) == 0 || len(main.New) == 0 {
		return model.ClassifierVerdict{Source: "semantic", Abstained: true, Reasoning: "no vector available"}
	}

	sim, err := embedding.CosineSimilarity(main.Baseline, main.New)
	if err != nil {
		return model.ClassifierVerdict{Source: "semantic", Abstained: true, Reasoning: fmt.Sprintf("cosine similarity failed: %v", err)}
	}

	risk := ClassifyRisk(sim)

	var maxDrift float64
	var driftKind model.VectorKind
	for _, p := range others {
		if len(p.Baseline) == 0 || len(p.New) == 0 {
			continue
		}
		pairSim, err := embedding.CosineSimilarity(p.Baseline, p.New)
		if err != nil {
			continue
		}
		shift := 1 - pairSim
		if shift > maxDrift {
			maxDrift = shift
			driftKind = p.Kind
		}
	}

	evidence := []string{fmt.Sprintf("main_similarity=%.3f risk=%s", sim, risk)}
	if driftKind != "" {
		evidence = append(evidence, fmt.Sprintf("max_drift_kind=%s shift=%.3f", driftKind, maxDrift))
	}

	return model.ClassifierVerdict{
		Source:     "semantic",
		Verdict:    projectRisk(risk),
		Confidence: confidenceFromRisk(risk, sim),
		Reasoning:  fmt.Sprintf("similarity %.3f classified as %s risk", sim, risk),
		Evidence:   evidence,
	}
}

// projectRisk is the §4.5.4 risk-to-verdict projection, independent of the
// ensemble weighting that's applied on top of it.
func projectRisk(r RiskLevel) model.Verdict {
	switch r {
	case RiskCritical, RiskHigh:
		return model.VerdictDefacement
	case RiskLow:
		return model.VerdictBenign
	default:
		return model.VerdictUnclear
	}
}

// confidenceFromRisk gives the sub-classifier's own reported confidence,
// separate from the 0.8/0.6 multipliers the ensemble applies when
// aggregating (§4.5.4). A similarity far from the bucket boundary yields
// higher self-confidence.
func confidenceFromRisk(r RiskLevel, sim float64) float64 {
	switch r {
	case RiskLow:
		return sim
	case RiskCritical:
		return 1 - sim
	default:
		return 0.6
	}
}
