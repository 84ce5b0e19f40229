// Package classifier implements the Classification Pipeline (spec §4.5):
// three independent sub-classifiers (rules, semantic, LLM) whose verdicts
// are merged by a confidence-weighted ensemble.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"siteguard/internal/model"
)

// KeywordWeight pairs a defacement-indicator token with its prior weight.
type KeywordWeight struct {
	Token  string
	Weight float64
}

// DefaultKeywordTable is the §4.5.1 keyword table.
var DefaultKeywordTable = []KeywordWeight{
	{"hacked", 0.9},
	{"pwned", 0.8},
	{"defaced", 0.95},
	{"owned", 0.8},
	{"unauthorized", 0.7},
	{"breached", 0.7},
	{"compromised", 0.7},
}

// PatternWeight pairs a case-insensitive regular expression with its
// weight. Order matters only for evidence ordering; scoring takes the max.
type PatternWeight struct {
	Pattern *regexp.Regexp
	Weight  float64
	Label   string
}

// DefaultPatternTable is the §4.5.1 pattern table.
var DefaultPatternTable = []PatternWeight{
	{regexp.MustCompile(`(?i)hacked\s+by\s+\w+`), 0.95, `hacked\s+by\s+\w+`},
}

// RuleClassifier scans normalized text against the keyword and pattern
// tables and never abstains: a lack of matches simply scores benign.
type RuleClassifier struct {
	keywords map[string]float64
	patterns []PatternWeight
}

// NewRuleClassifier builds a classifier from the given tables, lowercasing
// keyword tokens once; Classify matches them against whole alphanumeric
// tokens of the input.
func NewRuleClassifier(keywords []KeywordWeight, patterns []PatternWeight) *RuleClassifier {
	kw := make(map[string]float64, len(keywords))
	for _, k := range keywords {
		kw[strings.ToLower(k.Token)] = k.Weight
	}
	return &RuleClassifier{keywords: kw, patterns: patterns}
}

// DefaultRuleClassifier builds a classifier from the spec's default tables.
func DefaultRuleClassifier() *RuleClassifier {
	return NewRuleClassifier(DefaultKeywordTable, DefaultPatternTable)
}

var wordSplit = regexp.MustCompile(`[a-zA-Z0-9]+`)

// Classify scores the given content and returns a tagged verdict. Rules
// never abstain.
func (c *RuleClassifier) Classify(normalizedText string, textBlocks []string, title, meta string) model.ClassifierVerdict {
	haystack := strings.ToLower(strings.Join(append([]string{normalizedText, title, meta}, textBlocks...), " "))

	var score float64
	var evidence []string

	tokens := wordSplit.FindAllString(haystack, -1)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}
	for token, weight := range c.keywords {
		if tokenSet[token] && weight > score {
			score = weight
		}
		if tokenSet[token] {
			evidence = append(evidence, token)
		}
	}

	for _, p := range c.patterns {
		if p.Pattern.MatchString(haystack) {
			if p.Weight > score {
				score = p.Weight
			}
			evidence = append(evidence, p.Label)
		}
	}

	verdict := model.VerdictBenign
	switch {
	case score >= 0.85:
		verdict = model.VerdictDefacement
	case score >= 0.6:
		verdict = model.VerdictSuspicious
	}

	return model.ClassifierVerdict{
		Source:     "rules",
		Verdict:    verdict,
		Confidence: score,
		Reasoning:  fmt.Sprintf("matched %d indicator(s)", len(evidence)),
		Evidence:   evidence,
	}
}
