package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/pkg/logger"
	"github.com/markdave123-py/textbook-index/pkg/metrics"
)

const (
	DefaultGenerationModel = "gemini-1.5-flash"

	defaultTemperature     = 0.4
	defaultMaxOutputTokens = 4096
)

// ErrBlocked is returned when the model refuses the prompt or stops its answer
// on a safety or recitation filter.
var ErrBlocked = errors.New("generation blocked")

var tracer = otel.Tracer("llm")

// GeminiLLM writes lesson content from a system prompt and a grounded user
// prompt. Answers cut short by the token limit are returned as they are.
type GeminiLLM struct {
	client          *genai.Client
	modelName       string
	temperature     float32
	maxOutputTokens int32
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGenerationModel
	}
	return &GeminiLLM{
		client:          cl,
		modelName:       modelName,
		temperature:     defaultTemperature,
		maxOutputTokens: defaultMaxOutputTokens,
	}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.modelName),
		attribute.Int("llm.prompt_chars", len(systemPrompt)+len(userPrompt)),
	)

	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(g.temperature)
	m.SetMaxOutputTokens(g.maxOutputTokens)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			metrics.GenerationRequests.WithLabelValues(g.modelName, "blocked").Inc()
			return "", fmt.Errorf("gemini generate: %w: %s", ErrBlocked, blocked.Error())
		}
		metrics.GenerationRequests.WithLabelValues(g.modelName, "error").Inc()
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	g.recordUsage(resp.UsageMetadata)

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		metrics.GenerationRequests.WithLabelValues(g.modelName, "empty").Inc()
		return "", nil
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		logger.Warn(ctx, "generation hit the output token limit", "model", g.modelName, "max_tokens", g.maxOutputTokens)
	}

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	metrics.GenerationRequests.WithLabelValues(g.modelName, "ok").Inc()
	span.SetAttributes(attribute.Int("llm.output_chars", b.Len()))
	return b.String(), nil
}

func (g *GeminiLLM) recordUsage(u *genai.UsageMetadata) {
	if u == nil {
		return
	}
	metrics.GenerationTokens.WithLabelValues(g.modelName, "prompt").Add(float64(u.PromptTokenCount))
	metrics.GenerationTokens.WithLabelValues(g.modelName, "output").Add(float64(u.CandidatesTokenCount))
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
