package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mkeller/taskpilot/internal/config"
)

// defaultMaxTokens bounds the model's output per call.
const defaultMaxTokens = 4096

// AnthropicClient implements Client on top of the official Anthropic
// SDK (Messages API).
type AnthropicClient struct {
	client    anthropic.Client
	logger    *slog.Logger
	maxTokens int64
}

// NewAnthropicClient creates an Anthropic-backed client. An empty
// apiKey defers to the SDK's environment lookup.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		logger:    logger.With("provider", "anthropic"),
		maxTokens: defaultMaxTokens,
	}
}

// Chat sends the conversation and tool definitions and returns the
// model's next message with its content blocks preserved verbatim.
func (c *AnthropicClient) Chat(ctx context.Context, model, system string, messages []Message, tools []ToolSpec) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  convertMessages(messages),
		Tools:     convertTools(tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(messages),
		"tools", len(tools),
		"system_len", len(system),
	)
	if payload, err := json.Marshal(messages); err == nil {
		c.logger.Log(ctx, config.LevelTrace, "request messages", "json", string(payload))
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	resp := convertResponse(msg)

	c.logger.Debug("response received",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_uses", len(resp.Message.ToolUses()),
	)

	return resp, nil
}

// convertMessages maps neutral history onto SDK message params.
func convertMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ID,
						Name:  b.Name,
						Input: b.Input,
					},
				})
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Text, b.IsError))
			}
		}

		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// convertTools maps tool specs onto SDK tool params. Schemas arrive as
// plain maps (built-ins and bridged remote tools share the shape
// {"type":"object","properties":...,"required":...}).
func convertTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: t.InputSchema["properties"],
		}
		if required, ok := t.InputSchema["required"]; ok {
			schema.ExtraFields = map[string]any{"required": required}
		}

		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

// convertResponse maps an SDK message onto the neutral Response,
// preserving content block order.
func convertResponse(msg *anthropic.Message) *Response {
	out := &Response{
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	out.Message.Role = "assistant"

	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Message.Content = append(out.Message.Content, TextBlock(v.Text))
		case anthropic.ToolUseBlock:
			out.Message.Content = append(out.Message.Content, ContentBlock{
				Type:  BlockToolUse,
				ID:    v.ID,
				Name:  v.Name,
				Input: json.RawMessage(v.JSON.Input.Raw()),
			})
		}
	}
	return out
}
