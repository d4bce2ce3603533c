// Package llmclient wraps the two external model collaborators the
// diagnosis engine treats as black boxes: a chat-completion model for
// llm_chat (cluster canonicalization, feedback extraction, response
// summaries) and an embedding model for embed (ticket/anomaly/phenomenon
// vectors). Both are interfaces so the rest of the engine never imports
// a provider SDK directly.
package llmclient

import "context"

// ChatMessage is one turn of a chat-completion conversation.
type ChatMessage struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is a single llm_chat invocation. When Schema is non-nil the
// model is asked to return JSON satisfying it (via tool-use/structured
// output where the provider supports it) instead of free text.
type ChatRequest struct {
	Messages    []ChatMessage
	Schema      *JSONSchema
	Temperature *float64
	MaxTokens   int
}

// JSONSchema constrains a ChatRequest's output to a named, schema-shaped
// JSON object, modeled as an Anthropic tool definition under the hood.
type JSONSchema struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatResponse is the result of an llm_chat call. Text holds the model's
// free-text answer; JSON holds the raw structured-output payload when
// the request carried a Schema (nil otherwise).
type ChatResponse struct {
	Text string
	JSON []byte
}

// ChatModel is the llm_chat collaborator.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Embedder is the embed collaborator. Embed returns one vector per input
// text, in the same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
