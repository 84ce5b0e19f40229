package workflow

import (
	"context"
	"fmt"

	"siteguard/internal/classifier"
	"siteguard/internal/logging"
	"siteguard/internal/model"
	"siteguard/internal/store"
)

// classify wires the three sub-classifiers into an ensemble run for one
// significant/ambiguous change, maintaining per-site breakers and adaptive
// weights in memory (persisted afterward in the persist step, per §9).
func (e *Engine) classify(
	ctx context.Context,
	site model.Site,
	content, baselineContent model.ExtractedContent,
	baselineSnap model.Snapshot,
	mainVec, titleVec, metaVec, blocksVec *model.Vector,
	baselineVectors []model.Vector,
) model.ClassificationResult {
	breakers := e.breakersFor(site.ID)
	weights := e.weightsFor(site.ID)

	main := classifier.VectorPair{Kind: model.VectorMain}
	if mainVec != nil {
		main.New = mainVec.Payload
	}
	main.Baseline = payloadForKind(baselineVectors, model.VectorMain)

	var others []classifier.VectorPair
	for kind, v := range map[model.VectorKind]*model.Vector{
		model.VectorTitle:      titleVec,
		model.VectorMeta:       metaVec,
		model.VectorTextBlocks: blocksVec,
	} {
		baseline := payloadForKind(baselineVectors, kind)
		if v == nil && len(baseline) == 0 {
			continue
		}
		pair := classifier.VectorPair{Kind: kind, Baseline: baseline}
		if v != nil {
			pair.New = v.Payload
		}
		others = append(others, pair)
	}

	input := classifier.Input{
		Rules: func() model.ClassifierVerdict {
			return e.rules.Classify(content.NormalizedText, content.TextBlocks, content.Title, content.MetaDescription)
		},
		Semantic: func() model.ClassifierVerdict {
			return e.semantic.Classify(main, others)
		},
		LLM: func(ctx context.Context) model.ClassifierVerdict {
			if e.llm == nil {
				return model.ClassifierVerdict{Source: "llm", Abstained: true, Reasoning: "no LLM classifier configured"}
			}
			return e.llm.Classify(ctx, classifier.PromptContext{
				SiteURL:        site.URL,
				ChangedExcerpt: diffSummary(baselineContent.NormalizedText, content.NormalizedText),
				StaticContext:  fmt.Sprintf("title: %s", content.Title),
				PriorVerdict:   baselineSnap.Verdict,
			})
		},
		Weights:  weights,
		Breakers: breakers,
		Stats: classifier.HistoricalStats{
			HasBaseline:     true,
			HasSiteMetadata: site.DisplayName != "",
		},
		VectorsOK: len(main.Baseline) > 0 && len(main.New) > 0,
	}

	result := classifier.Run(ctx, input)
	e.recordAgreement(site.ID, agreementFraction(result))
	return result
}

func payloadForKind(vectors []model.Vector, kind model.VectorKind) []float32 {
	for _, v := range vectors {
		if v.Kind == kind {
			return v.Payload
		}
	}
	return nil
}

// agreementFraction is the share of non-abstaining sub-classifiers that
// concurred with the final verdict, feeding the adaptive-weighting window.
func agreementFraction(result model.ClassificationResult) float64 {
	var total, concur int
	for _, sr := range result.SubResults {
		if sr.Abstained {
			continue
		}
		total++
		if sr.Verdict == result.Verdict {
			concur++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(concur) / float64(total)
}

func (e *Engine) breakersFor(siteID string) classifier.Breakers {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[siteID]
	if !ok {
		b = classifier.NewBreakers()
		e.breakers[siteID] = b
	}
	return b
}

func (e *Engine) weightsFor(siteID string) classifier.Weights {
	base := classifier.DefaultWeights()
	if w, err := e.store.GetWeights(siteID); err == nil {
		base = classifier.Weights{LLM: w.LLM, Semantic: w.Semantic, Rules: w.Rules}
	}
	return base.Adapt(e.recentAgreement(siteID))
}

const agreementWindow = 10

func (e *Engine) recordAgreement(siteID string, agreement float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hist := append(e.agreementHist[siteID], agreement)
	if len(hist) > agreementWindow {
		hist = hist[len(hist)-agreementWindow:]
	}
	e.agreementHist[siteID] = hist
}

func (e *Engine) recentAgreement(siteID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	hist := e.agreementHist[siteID]
	if len(hist) == 0 {
		return 1 // optimistic default: no history yet, don't shrink weights
	}
	var sum float64
	for _, a := range hist {
		sum += a
	}
	return sum / float64(len(hist))
}

// persistAdaptiveWeights writes the site's adapted weights so the next run
// starts from them (spec §4.5.4/§9: updated only in the persist step to
// avoid read-modify-write races with a concurrently running check).
func (e *Engine) persistAdaptiveWeights(siteID string, result model.ClassificationResult) {
	w := e.weightsFor(siteID)
	err := e.store.SetWeights(store.SiteWeights{SiteID: siteID, LLM: w.LLM, Semantic: w.Semantic, Rules: w.Rules})
	if err != nil {
		logging.Get(logging.CategoryWorkflow).Warn("persist adaptive weights for site %s failed: %v", siteID, err)
	}
}
