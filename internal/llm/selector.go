package llm

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"redgate/internal/tools"
)

// Selection is the phase-1 outcome: exactly one category and where it
// came from.
type Selection struct {
	Category  string `json:"category"`
	Source    string `json:"source"` // keyword, model, or fallback
	Reasoning string `json:"reasoning,omitempty"`
}

const selectorTokenCap = 100

const selectorPrompt = "You route a user request to exactly one tool category. " +
	"Call select_tool_category with the single best category. Do not answer the request itself."

// Selector runs the phase-1 category round: keyword prefilter first, one
// cheap forced-tool model call second, first-enabled fallback last. It
// never fails the request.
type Selector struct {
	provider Provider
	model    anthropic.Model
	logger   *slog.Logger
}

// NewSelector builds a Selector on the given provider.
func NewSelector(provider Provider, model anthropic.Model, logger *slog.Logger) *Selector {
	return &Selector{provider: provider, model: model, logger: logger}
}

// Select picks one enabled category for the utterance.
func (s *Selector) Select(ctx context.Context, utterance string, enabled map[string]bool) Selection {
	categories := tools.EnabledCategories(enabled)
	if len(categories) == 0 {
		categories = tools.Categories()
	}

	if cat, ok := tools.MatchKeyword(utterance, enabled); ok {
		return Selection{Category: cat, Source: "keyword"}
	}

	if sel, ok := s.modelRound(ctx, utterance, categories); ok {
		return sel
	}

	return Selection{Category: categories[0], Source: "fallback"}
}

// modelRound asks the model with a single meta-tool whose only permitted
// action is naming a category.
func (s *Selector) modelRound(ctx context.Context, utterance string, categories []string) (Selection, bool) {
	metaTool := anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        "select_tool_category",
			Description: anthropic.String("Select which category of tools fits the user's request"),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"category": map[string]any{
						"type":        "string",
						"enum":        categories,
						"description": "The tool category to use",
					},
					"reasoning": map[string]any{
						"type":        "string",
						"description": "Brief explanation of the choice",
					},
				},
				Required: []string{"category"},
			},
		},
	}

	msg, err := s.provider.CreateMessage(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: selectorTokenCap,
		System:    []anthropic.TextBlockParam{{Text: selectorPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(utterance)),
		},
		Tools: []anthropic.ToolUnionParam{metaTool},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: "select_tool_category"},
		},
	})
	if err != nil {
		s.logger.Warn("category selector model round failed", "error", err)
		return Selection{}, false
	}

	for _, block := range msg.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok || tu.Name != "select_tool_category" {
			continue
		}
		var choice struct {
			Category  string `json:"category"`
			Reasoning string `json:"reasoning"`
		}
		if err := json.Unmarshal(tu.Input, &choice); err != nil {
			continue
		}
		for _, cat := range categories {
			if choice.Category == cat {
				return Selection{Category: cat, Source: "model", Reasoning: choice.Reasoning}, true
			}
		}
	}
	return Selection{}, false
}
