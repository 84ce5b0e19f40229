package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"siteguard/internal/logging"
	"siteguard/internal/model"
)

// PromptContext is the structured input sent to the LLM classifier
// (§4.5.3): site URL, changed excerpts, static context, and the prior
// verdict.
type PromptContext struct {
	SiteURL        string
	ChangedExcerpt string
	StaticContext  string
	PriorVerdict   model.Verdict
}

type llmReply struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// LLMClassifier sends a structured classification prompt to a genai model
// and parses the structured reply. Any failure — timeout, malformed reply,
// upstream rate-limit — is reported as an abstention rather than an error,
// matching §4.5.3.
type LLMClassifier struct {
	client *genai.Client
	model  string
	timeout time.Duration
}

// NewLLMClassifier builds a classifier bound to a genai API key and model.
func NewLLMClassifier(apiKey, model string) (*LLMClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &LLMClassifier{client: client, model: model, timeout: 20 * time.Second}, nil
}

const classificationPrompt = `You are a website-defacement triage assistant. Given a site URL, the text that changed, supporting static context, and the prior verdict, classify the change.

Site: %s
Prior verdict: %s

Static context:
%s

Changed excerpt:
%s

Respond with ONLY a JSON object of the exact shape:
{"verdict": "benign|suspicious|defacement|unclear", "confidence": 0.0-1.0, "reasoning": "one sentence"}`

// Classify sends the prompt and parses the reply. Abstains on any failure.
func (c *LLMClassifier) Classify(ctx context.Context, pc PromptContext) model.ClassifierVerdict {
	timer := logging.StartTimer(logging.CategoryClassifier, "LLM.Classify")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf(classificationPrompt, pc.SiteURL, pc.PriorVerdict, pc.StaticContext, pc.ChangedExcerpt)

	result, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, nil)
	if err != nil {
		logging.Get(logging.CategoryClassifier).Warn("LLM classify failed, abstaining: %v", err)
		return abstain(classifyLLMFailure(err))
	}

	text := extractText(result)
	reply, err := parseLLMReply(text)
	if err != nil {
		logging.Get(logging.CategoryClassifier).Warn("LLM reply malformed, abstaining: %v", err)
		return abstain("malformed reply")
	}

	verdict, ok := parseVerdict(reply.Verdict)
	if !ok {
		return abstain(fmt.Sprintf("unrecognized verdict %q", reply.Verdict))
	}

	return model.ClassifierVerdict{
		Source:     "llm",
		Verdict:    verdict,
		Confidence: clamp01(reply.Confidence),
		Reasoning:  reply.Reasoning,
	}
}

func abstain(reason string) model.ClassifierVerdict {
	return model.ClassifierVerdict{Source: "llm", Abstained: true, Reasoning: reason}
}

func classifyLLMFailure(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "context canceled"):
		return "timeout"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "resource_exhausted"):
		return "upstream rate-limit"
	default:
		return fmt.Sprintf("request failed: %v", err)
	}
}

func extractText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func parseLLMReply(text string) (llmReply, error) {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return llmReply{}, fmt.Errorf("no JSON object found in reply")
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return llmReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

func parseVerdict(s string) (model.Verdict, bool) {
	switch model.Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case model.VerdictBenign:
		return model.VerdictBenign, true
	case model.VerdictSuspicious:
		return model.VerdictSuspicious, true
	case model.VerdictDefacement:
		return model.VerdictDefacement, true
	case model.VerdictUnclear:
		return model.VerdictUnclear, true
	default:
		return "", false
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
