package classifier

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"siteguard/internal/breaker"
	"siteguard/internal/logging"
	"siteguard/internal/model"
)

// Weights are the per-classifier base weights from §4.5.4.
type Weights struct {
	LLM      float64
	Semantic float64
	Rules    float64
}

// DefaultWeights are the spec's base weights.
func DefaultWeights() Weights {
	return Weights{LLM: 0.5, Semantic: 0.3, Rules: 0.2}
}

func (w Weights) asMap() map[string]float64 {
	return map[string]float64{"llm": w.LLM, "semantic": w.Semantic, "rules": w.Rules}
}

// Adapt implements the §4.5.4 adaptive-weighting rule: agreement below 0.3
// shrinks all base weights by 0.8; at or above 0.8 they're left alone.
// Values in between are likewise left alone — the spec only names the two
// boundary actions.
func (w Weights) Adapt(recentAgreement float64) Weights {
	if recentAgreement < 0.3 {
		return Weights{LLM: w.LLM * 0.8, Semantic: w.Semantic * 0.8, Rules: w.Rules * 0.8}
	}
	return w
}

// Breakers bundles the three per-sub-classifier circuit breakers (§9: no
// cross-domain sharing, so the classifier's breakers are distinct instances
// from the scheduler's per-site ones).
type Breakers struct {
	LLM      *breaker.Breaker
	Semantic *breaker.Breaker
	Rules    *breaker.Breaker
}

// NewBreakers constructs one breaker per sub-classifier with the shared
// default config.
func NewBreakers() Breakers {
	cfg := breaker.DefaultConfig()
	return Breakers{
		LLM:      breaker.New(cfg, nil),
		Semantic: breaker.New(cfg, nil),
		Rules:    breaker.New(cfg, nil),
	}
}

// HistoricalStats feeds the confidence formula's historical and context
// terms; the caller (store-backed) supplies a per-site trailing window.
type HistoricalStats struct {
	FalsePositiveRate float64 // normalized over a trailing window
	HasBaseline       bool
	HasSiteMetadata   bool
}

// Input bundles everything the ensemble needs to run one classification
// round for a single significant/ambiguous change.
type Input struct {
	Rules     func() model.ClassifierVerdict
	Semantic  func() model.ClassifierVerdict
	LLM       func(ctx context.Context) model.ClassifierVerdict
	Weights   Weights
	Breakers  Breakers
	Stats     HistoricalStats
	VectorsOK bool // semantic_quality term: whether vectors were computable
}

// Run executes the sub-classifiers whose circuits allow a call concurrently
// in one errgroup and adjudicates a final ClassificationResult. A
// sub-classifier whose breaker is open is not called and counts as
// abstained. There is no sequential mode: the same concurrent path is used
// whether or not a breaker is open.
func Run(ctx context.Context, in Input) model.ClassificationResult {
	start := time.Now()

	rulesOpen := !in.Breakers.Rules.Allow()
	semanticOpen := !in.Breakers.Semantic.Allow()
	llmOpen := !in.Breakers.LLM.Allow()

	var rulesV, semanticV, llmV model.ClassifierVerdict
	rulesV.Source, semanticV.Source, llmV.Source = "rules", "semantic", "llm"

	run := func() error {
		g, gctx := errgroup.WithContext(ctx)
		if !rulesOpen {
			g.Go(func() error {
				rulesV = in.Rules()
				recordOutcome(in.Breakers.Rules, rulesV)
				return nil
			})
		} else {
			rulesV = model.ClassifierVerdict{Source: "rules", Abstained: true, Reasoning: "circuit open"}
		}
		if !semanticOpen {
			g.Go(func() error {
				semanticV = in.Semantic()
				recordOutcome(in.Breakers.Semantic, semanticV)
				return nil
			})
		} else {
			semanticV = model.ClassifierVerdict{Source: "semantic", Abstained: true, Reasoning: "circuit open"}
		}
		if !llmOpen {
			g.Go(func() error {
				llmV = in.LLM(gctx)
				recordOutcome(in.Breakers.LLM, llmV)
				return nil
			})
		} else {
			llmV = model.ClassifierVerdict{Source: "llm", Abstained: true, Reasoning: "circuit open"}
		}
		return g.Wait()
	}
	_ = run()

	subResults := []model.ClassifierVerdict{rulesV, semanticV, llmV}
	weightsUsed := in.Weights.asMap()

	votes := map[model.Verdict]float64{}
	effWeights := map[string]float64{}
	for _, sr := range subResults {
		if sr.Abstained {
			effWeights[sr.Source] = 0
			continue
		}
		base := weightsUsed[sr.Source]
		eff := base * sr.Confidence
		effWeights[sr.Source] = eff

		verdict := sr.Verdict
		switch sr.Source {
		case "semantic":
			// projectRisk already folded the risk bucket into sr.Verdict;
			// the §4.5.4 multiplier replaces the base*confidence weight, so
			// the semantic vote is multiplier*base regardless of confidence.
			switch sr.Verdict {
			case model.VerdictDefacement:
				eff = 0.8 * base
			case model.VerdictBenign:
				eff = 0.8 * base
			case model.VerdictUnclear:
				eff = 0.6 * base
			}
			effWeights[sr.Source] = eff
		}
		votes[verdict] += eff
	}

	final := pickVerdict(votes)
	confidence := computeConfidence(subResults, effWeights, final, in.Stats, in.VectorsOK)

	logging.Classifier("ensemble verdict=%s confidence=%.3f rules=%v semantic=%v llm=%v",
		final, confidence, !rulesV.Abstained, !semanticV.Abstained, !llmV.Abstained)

	return model.ClassificationResult{
		Verdict:         final,
		Confidence:      confidence,
		ConfidenceLabel: confidenceLabel(confidence),
		Reasoning:       reasoningSummary(subResults, final),
		SubResults:      subResults,
		WeightsUsed:     weightsUsed,
		ProcessingTime:  time.Since(start),
	}
}

func recordOutcome(b *breaker.Breaker, v model.ClassifierVerdict) {
	if v.Abstained {
		b.RecordFailure()
		return
	}
	b.RecordSuccess()
}

// verdictPreference implements the defacement ≻ suspicious ≻ unclear ≻
// benign tie-break order (§4.5.4).
var verdictPreference = map[model.Verdict]int{
	model.VerdictDefacement: 0,
	model.VerdictSuspicious: 1,
	model.VerdictUnclear:    2,
	model.VerdictBenign:     3,
}

func pickVerdict(votes map[model.Verdict]float64) model.Verdict {
	var best model.Verdict = model.VerdictUnclear
	bestScore := -1.0
	bestPref := 99
	for v, score := range votes {
		pref := verdictPreference[v]
		if score > bestScore || (score == bestScore && pref < bestPref) {
			best = v
			bestScore = score
			bestPref = pref
		}
	}
	return best
}

func computeConfidence(subResults []model.ClassifierVerdict, effWeights map[string]float64, final model.Verdict, stats HistoricalStats, vectorsOK bool) float64 {
	var totalWeight, concurringWeight, concurringConfSum float64
	var concurringCount int
	var nonAbstained int

	for _, sr := range subResults {
		if sr.Abstained {
			continue
		}
		nonAbstained++
		w := effWeights[sr.Source]
		totalWeight += w
		if sr.Verdict == final {
			concurringWeight += w
			concurringConfSum += sr.Confidence
			concurringCount++
		}
	}

	agreement := 0.0
	if totalWeight > 0 {
		agreement = concurringWeight / totalWeight
	}

	clarity := 0.0
	if concurringCount > 0 {
		clarity = concurringConfSum / float64(concurringCount)
	}

	context := 1.0
	if !stats.HasBaseline || !stats.HasSiteMetadata {
		context = 0.5
	}

	historical := 1 - stats.FalsePositiveRate
	if historical < 0 {
		historical = 0
	}

	semanticQuality := 0.0
	if vectorsOK {
		semanticQuality = 1.0
	}

	confidence := 0.30*agreement + 0.20*clarity + 0.20*context + 0.15*historical + 0.15*semanticQuality
	return clamp01(confidence)
}

func confidenceLabel(c float64) string {
	switch {
	case c >= 0.8:
		return "very_high"
	case c >= 0.6:
		return "high"
	case c >= 0.4:
		return "medium"
	case c >= 0.2:
		return "low"
	default:
		return "very_low"
	}
}

func reasoningSummary(subResults []model.ClassifierVerdict, final model.Verdict) string {
	for _, sr := range subResults {
		if !sr.Abstained && sr.Verdict == final && sr.Reasoning != "" {
			return sr.Reasoning
		}
	}
	return "ensemble adjudication: " + string(final)
}
