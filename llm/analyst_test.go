package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/babylon-markets/a2a/types"
)

type fakeModel struct {
	response string
	prompt   string
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompt += text.Text
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	m.prompt = prompt
	return m.response, nil
}

func TestAnalyzeParsesModelVerdict(t *testing.T) {
	model := &fakeModel{
		response: "Here is my take:\n```json\n{\"prediction\": 0.72, \"confidence\": 0.6, \"reasoning\": \"volume trending up\"}\n```",
	}
	a := NewAnalyst(model, nil)

	market := types.Market{ID: "MKT-1", Question: "Will it rain?", YesPrice: 0.4, NoPrice: 0.6}
	got, err := a.Analyze(context.Background(), market, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.MarketID != "MKT-1" || got.Prediction != 0.72 || got.Confidence != 0.6 {
		t.Errorf("analysis = %+v", got)
	}
	if got.Reasoning != "volume trending up" {
		t.Errorf("reasoning = %q", got.Reasoning)
	}
	if !strings.Contains(model.prompt, "MKT-1") || !strings.Contains(model.prompt, "Will it rain?") {
		t.Errorf("prompt missing market facts: %q", model.prompt)
	}
}

func TestAnalyzeClampsOutOfRangeVerdict(t *testing.T) {
	model := &fakeModel{
		response: `{"prediction": 1.8, "confidence": -0.2, "reasoning": "overconfident"}`,
	}
	a := NewAnalyst(model, nil)

	got, err := a.Analyze(context.Background(), types.Market{ID: "MKT-1"}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Prediction != 1 || got.Confidence != 0 {
		t.Errorf("prediction=%v confidence=%v, want clamped", got.Prediction, got.Confidence)
	}
}

func TestAnalyzeRejectsProseOnlyResponse(t *testing.T) {
	a := NewAnalyst(&fakeModel{response: "I cannot answer that."}, nil)
	if _, err := a.Analyze(context.Background(), types.Market{ID: "MKT-1"}, nil); err == nil {
		t.Error("prose-only response accepted")
	}
}

func TestPromptIncludesPeerAnalyses(t *testing.T) {
	model := &fakeModel{
		response: `{"prediction": 0.5, "confidence": 0.5, "reasoning": "mixed signals"}`,
	}
	a := NewAnalyst(model, nil)

	peers := []types.MarketAnalysis{
		{Analyst: "1:2", Prediction: 0.8, Confidence: 0.9, Reasoning: "strong momentum"},
	}
	if _, err := a.Analyze(context.Background(), types.Market{ID: "MKT-1"}, peers); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(model.prompt, "strong momentum") {
		t.Errorf("prompt missing peer context: %q", model.prompt)
	}
}
