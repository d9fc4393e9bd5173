package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/quantive/sage/internal/assemble"
	"github.com/quantive/sage/internal/query"
)

const renderTemperature = 0.3

// ProseRenderer narrates a structured response through an OpenAI-compatible
// chat endpoint.
type ProseRenderer struct {
	llm llms.Model
}

// RenderConfig points the renderer at a chat completion service.
type RenderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

func NewProseRenderer(cfg RenderConfig) (*ProseRenderer, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating render client: %w", err)
	}
	return &ProseRenderer{llm: llm}, nil
}

// Render produces a short prose answer grounded in the structured response.
// The model is instructed to stay within the provided material.
func (r *ProseRenderer) Render(ctx context.Context, qctx query.Context, resp assemble.Response) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, r.llm, buildPrompt(qctx, resp),
		llms.WithTemperature(renderTemperature))
	if err != nil {
		return "", fmt.Errorf("generating prose: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func buildPrompt(qctx query.Context, resp assemble.Response) string {
	var sb strings.Builder
	sb.WriteString("You are a business advisor. Write a concise prose answer using only the material below. ")
	sb.WriteString("Do not invent facts. Mention the limitations if they matter.\n\n")

	fmt.Fprintf(&sb, "Question intent: %s", qctx.Intent)
	if qctx.Industry != "" {
		fmt.Fprintf(&sb, " (industry: %s)", qctx.Industry)
	}
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Summary: %s\n\n", resp.Summary)
	fmt.Fprintf(&sb, "Findings:\n%s\n", resp.Explanation)

	if len(resp.Insights) > 0 {
		sb.WriteString("\nRecommended actions:\n")
		for _, in := range resp.Insights {
			fmt.Fprintf(&sb, "- [%s priority, %s] %s\n", in.Priority, in.Timeframe, in.Action)
		}
	}
	if len(resp.Conflicts) > 0 {
		sb.WriteString("\nSource disagreements:\n")
		for _, c := range resp.Conflicts {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Topic, c.Note)
		}
	}
	if len(resp.Limitations) > 0 {
		sb.WriteString("\nLimitations:\n")
		for _, l := range resp.Limitations {
			fmt.Fprintf(&sb, "- %s\n", l)
		}
	}
	return sb.String()
}
