// Package llm turns market snapshots into MarketAnalysis drafts with a
// language model. Only cmd/trader depends on it; the engine itself never
// calls a model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/babylon-markets/a2a/logger"
	"github.com/babylon-markets/a2a/types"
)

const defaultModel = "gemini-1.5-flash"

// Analyst drafts market analyses from reference data and peer opinions.
type Analyst struct {
	model llms.Model
	log   *logger.Logger
}

// NewAnalyst wraps an existing model, used by tests to inject a fake.
func NewAnalyst(model llms.Model, log *logger.Logger) *Analyst {
	if log == nil {
		log = logger.New("analyst")
	}
	return &Analyst{model: model, log: log}
}

// NewGeminiAnalyst connects to the Gemini API. An empty model name uses the
// default.
func NewGeminiAnalyst(ctx context.Context, apiKey, model string) (*Analyst, error) {
	if model == "" {
		model = defaultModel
	}
	m, err := googleai.New(
		ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize gemini model: %w", err)
	}
	return NewAnalyst(m, nil), nil
}

// verdict is the JSON shape the model is asked to answer with.
type verdict struct {
	Prediction float64 `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Analyze produces a ShareAnalysisParams draft for a market, seeded with the
// most recent peer analyses for context.
func (a *Analyst) Analyze(ctx context.Context, market types.Market, peers []types.MarketAnalysis) (*types.ShareAnalysisParams, error) {
	prompt := a.buildPrompt(market, peers)

	response, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate analysis: %w", err)
	}

	v, err := parseVerdict(response)
	if err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}

	return &types.ShareAnalysisParams{
		MarketID:   market.ID,
		Prediction: clamp01(v.Prediction),
		Confidence: clamp01(v.Confidence),
		Reasoning:  v.Reasoning,
		DataPoints: map[string]any{
			"model":         "llm",
			"peerAnalyses":  len(peers),
			"priceSnapshot": market.YesPrice,
		},
	}, nil
}

func (a *Analyst) buildPrompt(market types.Market, peers []types.MarketAnalysis) string {
	var b strings.Builder
	b.WriteString("You are a trading analyst for prediction markets. ")
	b.WriteString("Estimate the probability that this market resolves YES.\n\n")

	fmt.Fprintf(&b, "Market: %s\n", market.ID)
	if market.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n", market.Question)
	}
	fmt.Fprintf(&b, "Current prices: yes=%.3f no=%.3f\n", market.YesPrice, market.NoPrice)
	if market.Volume24h > 0 {
		fmt.Fprintf(&b, "24h volume: %.2f\n", market.Volume24h)
	}

	if len(peers) > 0 {
		b.WriteString("\nRecent peer analyses (newest first):\n")
		for i, p := range peers {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- %s: prediction=%.2f confidence=%.2f: %s\n",
				p.Analyst, p.Prediction, p.Confidence, p.Reasoning)
		}
	}

	b.WriteString("\nAnswer with only a JSON object: ")
	b.WriteString(`{"prediction": <0..1>, "confidence": <0..1>, "reasoning": "<one sentence>"}`)
	return b.String()
}

// parseVerdict extracts the JSON object from a model response, tolerating
// markdown code fences and surrounding prose.
func parseVerdict(response string) (*verdict, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", response)
	}

	var v verdict
	if err := json.Unmarshal([]byte(response[start:end+1]), &v); err != nil {
		return nil, err
	}
	if v.Reasoning == "" {
		return nil, fmt.Errorf("verdict missing reasoning")
	}
	return &v, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
