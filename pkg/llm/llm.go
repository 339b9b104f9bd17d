// Package llm defines the chat model contract used by the conversation
// orchestrator, together with the response cache that fronts it for
// non-streaming calls.
package llm

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message is a single turn in the conversation history.
type Message struct {
	Role    Role
	Content string
	Name    string // set for function result messages
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name      string
	Arguments string // JSON-encoded
}

// FunctionDefinition advertises a callable function to the model.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ChatRequest carries the full message sequence plus sampling options.
type ChatRequest struct {
	Messages    []Message
	Functions   []FunctionDefinition
	MaxTokens   int
	Temperature float32
}

// ChatResponse is the model's reply. FunctionCall is non-nil when the
// model wants a tool executed before answering.
type ChatResponse struct {
	Message      Message
	FunctionCall *FunctionCall
	TokensUsed   int
	FinishReason string
}

// StreamDelta is one increment of a streamed completion. Done is set on
// the terminal delta; a terminal delta may also carry a FunctionCall.
type StreamDelta struct {
	Content      string
	Done         bool
	FunctionCall *FunctionCall
	Err          error
}

// LLM is the chat model contract. ChatStream delivers deltas on the
// returned channel, which closes after the terminal delta.
type LLM interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
