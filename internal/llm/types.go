// Package llm provides the model-service client used by the
// conversation loop. Wire format conversion happens at the provider
// boundary (anthropic.go); the rest of the program works with the
// neutral types defined here.
package llm

import "encoding/json"

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons, normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ContentBlock is one element of a message's content array. Type
// selects which fields are meaningful: Text for text blocks; ID, Name
// and Input for tool_use; ToolUseID, Text and IsError for tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolResultBlock creates a tool_result block answering the tool_use
// block with the given id.
func ToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Text:      text,
		IsError:   isError,
	}
}

// Message is one role-tagged entry in the conversation history.
type Message struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []ContentBlock `json:"content"`
}

// UserMessage creates a user message from content blocks.
func UserMessage(blocks ...ContentBlock) Message {
	return Message{Role: "user", Content: blocks}
}

// ToolUses returns the tool_use blocks of a message, in content order.
func (m *Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Text joins the message's text blocks with newlines.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type != BlockText || b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Response is the outcome of one model call.
type Response struct {
	Message    Message
	Model      string
	StopReason string

	InputTokens  int
	OutputTokens int
}
