// Package providers implements the LLM provider manager (component C1):
// a registry of chat/embedding backends behind one uniform interface,
// selection strategies across them, and a shared rate limiter per
// provider.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// Type is the closed set of provider backends this package knows how to
// construct a concrete transport for, plus the open "custom" extension
// point for anything implementing Provider directly.
type Type string

const (
	TypeOllama    Type = "ollama"
	TypeLMStudio  Type = "lmstudio"
	TypeAnthropic Type = "anthropic"
	TypeOpenAI    Type = "openai"
	TypeAzure     Type = "azure"
	TypeCustom    Type = "custom"
)

// Role is a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn of a chat request, in the unified wire shape
// every provider transport translates to and from.
type ChatMessage struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Tool describes a function the model may call. Parameters is a JSON
// Schema document; ValidateToolParameters checks a tool call's
// arguments against it.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a model-issued request to invoke a Tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage reports token accounting for a completed chat request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UnifiedChatRequest is the provider-agnostic shape of a chat call.
type UnifiedChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// UnifiedChatResponse is the provider-agnostic shape of a chat reply.
type UnifiedChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// StreamChunk is one increment of a streamed chat reply.
type StreamChunk struct {
	Delta string
	Done  bool
	Err   error
}

// UnifiedModel describes one model a provider can serve, with
// capability flags inferred by capabilities.go when a provider's own
// listing API doesn't report them directly.
type UnifiedModel struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Provider           string `json:"provider"`
	Family             string `json:"family,omitempty"`
	ContextLength      int    `json:"context_length"`
	MaxOutputTokens    int    `json:"max_output_tokens,omitempty"`
	SupportsTools      bool   `json:"supports_tools"`
	SupportsCode       bool   `json:"supports_code"`
	SupportsStreaming  bool   `json:"supports_streaming"`
	SupportsEmbeddings bool   `json:"supports_embeddings"`
}

// ProviderHealth is the result of a provider's last health check.
type ProviderHealth struct {
	Provider  string        `json:"provider"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
}

// Provider is the interface every backend transport implements: a
// unified surface over chat, streaming chat, embeddings, model listing
// and health checks.
type Provider interface {
	Name() string
	Type() Type
	ListModels(ctx context.Context) ([]UnifiedModel, error)
	Chat(ctx context.Context, req UnifiedChatRequest) (*UnifiedChatResponse, error)
	StreamChat(ctx context.Context, req UnifiedChatRequest) (<-chan StreamChunk, error)
	Embed(ctx context.Context, input []string) ([][]float32, error)
	CheckHealth(ctx context.Context) ProviderHealth
}

// SelectionStrategy is the closed set of policies the manager uses to
// pick a provider when the caller doesn't name one.
type SelectionStrategy string

const (
	StrategyFirstAvailable SelectionStrategy = "first-available"
	StrategyLowestLatency  SelectionStrategy = "lowest-latency"
	StrategyPreferred      SelectionStrategy = "preferred"
	StrategyRoundRobin     SelectionStrategy = "round-robin"
)
