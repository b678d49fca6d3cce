package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"redgate/internal/tools"
)

// Loop caps. The model gets maxIterations rounds of tool use, at most
// maxToolsPerIteration executed per round, then is forced to answer.
const (
	maxIterations        = 3
	maxToolsPerIteration = 2
	replyTokenCap        = 4096
	historyTail          = 10
	toolResultCap        = 8192
)

// Message is the wire form of one conversation turn as exchanged with the
// chat endpoint.
type Message struct {
	Role       string `json:"role"` // user, assistant, or tool
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolExecutor dispatches one validated tool call.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (payload string, isError bool)
}

const loopPrompt = `You are a project-management assistant for an issue tracker.
Prefer a single tool call per request. Tool results are authoritative: report
their numbers exactly and include analytics JSON objects verbatim in your
reply so the renderer can display them. When the user asks for multiple
analytics, call each needed tool once. If a tool fails, explain the failure
briefly instead of inventing data.`

// Loop drives the phase-2 bounded tool conversation.
type Loop struct {
	provider Provider
	model    anthropic.Model
	executor ToolExecutor
	reserve  time.Duration
	logger   *slog.Logger
}

// NewLoop builds the tool-loop runtime. reserve is subtracted from the
// request deadline before each round so a reply can still be assembled.
func NewLoop(provider Provider, model anthropic.Model, executor ToolExecutor, reserve time.Duration, logger *slog.Logger) *Loop {
	return &Loop{provider: provider, model: model, executor: executor, reserve: reserve, logger: logger}
}

// Run executes the bounded loop and returns the assistant's final text.
func (l *Loop) Run(ctx context.Context, utterance string, history []Message, category string, enabled map[string]bool) (string, error) {
	var toolParams []anthropic.ToolUnionParam
	for _, d := range tools.ForCategory(category, enabled) {
		toolParams = append(toolParams, d.ToAnthropic())
	}

	messages := convertHistory(history)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(utterance)))

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := l.checkBudget(ctx); err != nil {
			return "", err
		}

		msg, err := l.provider.CreateMessage(ctx, anthropic.MessageNewParams{
			Model:     l.model,
			MaxTokens: replyTokenCap,
			System:    []anthropic.TextBlockParam{{Text: loopPrompt}},
			Messages:  messages,
			Tools:     toolParams,
		})
		if err != nil {
			return "", err
		}

		text, toolUses := splitContent(msg)
		if len(toolUses) == 0 {
			return text, nil
		}

		l.logger.Debug("tool round",
			"iteration", iteration+1,
			"category", category,
			"requested", len(toolUses),
		)

		messages = append(messages, msg.ToParam())
		messages = append(messages, l.executeRound(ctx, toolUses))
	}

	return l.forceAnswer(ctx, messages)
}

// executeRound runs up to the per-iteration cap of tool calls in the order
// the model produced them. Every tool_use gets a tool_result; calls beyond
// the cap are answered with a skip error the model can react to.
func (l *Loop) executeRound(ctx context.Context, toolUses []anthropic.ToolUseBlock) anthropic.MessageParam {
	var results []anthropic.ContentBlockParamUnion
	for i, tu := range toolUses {
		if i >= maxToolsPerIteration {
			results = append(results, anthropic.NewToolResultBlock(tu.ID,
				`{"success":false,"error":"tool call skipped: per-iteration limit reached, retry next round","kind":"tool_limit"}`, true))
			continue
		}

		var args map[string]any
		if len(tu.Input) > 0 {
			if err := json.Unmarshal(tu.Input, &args); err != nil {
				results = append(results, anthropic.NewToolResultBlock(tu.ID,
					fmt.Sprintf(`{"success":false,"error":"invalid tool arguments: %v","kind":"tool_argument_invalid"}`, err), true))
				continue
			}
		}

		payload, isError := l.executor.Execute(ctx, tu.Name, args)
		results = append(results, anthropic.NewToolResultBlock(tu.ID, truncate(payload), isError))
	}
	return anthropic.NewUserMessage(results...)
}

// forceAnswer runs one last round with no tools after the iteration cap.
func (l *Loop) forceAnswer(ctx context.Context, messages []anthropic.MessageParam) (string, error) {
	if err := l.checkBudget(ctx); err != nil {
		return "", err
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(
		"Provide your final answer from the tool results above. Do not request more tools.")))
	msg, err := l.provider.CreateMessage(ctx, anthropic.MessageNewParams{
		Model:     l.model,
		MaxTokens: replyTokenCap,
		System:    []anthropic.TextBlockParam{{Text: loopPrompt}},
		Messages:  messages,
	})
	if err != nil {
		return "", err
	}
	text, _ := splitContent(msg)
	return text, nil
}

// checkBudget short-circuits when the remaining deadline cannot cover the
// reserve needed to assemble a reply.
func (l *Loop) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < l.reserve {
		return context.DeadlineExceeded
	}
	return nil
}

// convertHistory maps the wire history into provider messages. Tool turns
// are folded into user-visible text; only the most recent turns are kept.
func convertHistory(history []Message) []anthropic.MessageParam {
	if len(history) > historyTail {
		history = history[len(history)-historyTail:]
	}
	var out []anthropic.MessageParam
	for _, m := range history {
		switch m.Role {
		case "assistant":
			if m.Content != "" {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		case "tool":
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(
					fmt.Sprintf("[earlier %s result] %s", m.Name, truncate(m.Content)))))
			}
		default:
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return out
}

// splitContent separates a response into its text and tool-use blocks.
func splitContent(msg *anthropic.Message) (string, []anthropic.ToolUseBlock) {
	var sb strings.Builder
	var toolUses []anthropic.ToolUseBlock
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			toolUses = append(toolUses, b)
		}
	}
	return strings.TrimSpace(sb.String()), toolUses
}

func truncate(s string) string {
	if len(s) <= toolResultCap {
		return s
	}
	return s[:toolResultCap] + "…[truncated]"
}
