package llm

import "context"

// Client is the interface the conversation loop drives. Implementations
// convert between the neutral types and their provider's wire format.
type Client interface {
	// Chat sends the full conversation plus tool definitions and
	// returns the model's next message.
	Chat(ctx context.Context, model, system string, messages []Message, tools []ToolSpec) (*Response, error)
}
