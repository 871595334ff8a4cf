package providers

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIProvider. Setting BaseURL points the
// client at any OpenAI-wire-compatible endpoint — this is how
// NewLMStudioProvider is built on top of the same transport.
// NewAzureOpenAIProvider reuses the OpenAIProvider type with an Azure
// client configuration instead of this struct.
type OpenAIConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	OrgID   string
}

// OpenAIProvider talks to the OpenAI chat completions API, or any
// backend that speaks its wire format (LM Studio, Azure OpenAI).
type OpenAIProvider struct {
	name   string
	client *openai.Client
}

// NewOpenAIProvider constructs an OpenAIProvider against the real
// OpenAI API, or against cfg.BaseURL if set.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.OrgID != "" {
		clientCfg.OrgID = cfg.OrgID
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{name: name, client: openai.NewClientWithConfig(clientCfg)}
}

// DefaultLMStudioBaseURL is LM Studio's default OpenAI-compatible
// listen address.
const DefaultLMStudioBaseURL = "http://localhost:1234/v1"

// NewLMStudioProvider constructs an OpenAIProvider pointed at a local
// or remote LM Studio instance's OpenAI-compatible /v1 endpoint. LM
// Studio does not require a real API key; any non-empty string
// satisfies the client.
func NewLMStudioProvider(name, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultLMStudioBaseURL
	}
	if name == "" {
		name = "lmstudio"
	}
	return NewOpenAIProvider(OpenAIConfig{Name: name, APIKey: "lm-studio", BaseURL: baseURL})
}

// AzureConfig configures an Azure OpenAI deployment, which speaks the
// OpenAI wire format against a tenant-specific base URL and API
// version.
type AzureConfig struct {
	Name       string
	APIKey     string
	BaseURL    string
	APIVersion string
}

// NewAzureOpenAIProvider constructs an OpenAIProvider against an Azure
// OpenAI deployment.
func NewAzureOpenAIProvider(cfg AzureConfig) *OpenAIProvider {
	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}
	name := cfg.Name
	if name == "" {
		name = "azure"
	}
	return &OpenAIProvider{name: name, client: openai.NewClientWithConfig(clientCfg)}
}

func (p *OpenAIProvider) Name() string { return p.name }
func (p *OpenAIProvider) Type() Type   { return TypeOpenAI }

// ListModels calls the models listing endpoint.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]UnifiedModel, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, NewProviderError(p.name, classifyOpenAIError(err), err)
	}
	models := make([]UnifiedModel, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, DescribeModel(p.name, m.ID))
	}
	return models, nil
}

func buildOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func buildOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Chat calls the chat completions endpoint with stream disabled.
func (p *OpenAIProvider) Chat(ctx context.Context, req UnifiedChatRequest) (*UnifiedChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    buildOpenAIMessages(req.Messages),
		Tools:       buildOpenAITools(req.Tools),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, NewProviderError(p.name, classifyOpenAIError(err), err)
	}
	if len(resp.Choices) == 0 {
		return &UnifiedChatResponse{}, nil
	}

	choice := resp.Choices[0]
	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	return &UnifiedChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// StreamChat calls the chat completions endpoint with stream enabled
// and forwards each delta as a StreamChunk.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req UnifiedChatRequest) (<-chan StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    buildOpenAIMessages(req.Messages),
		Tools:       buildOpenAITools(req.Tools),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, NewProviderError(p.name, classifyOpenAIError(err), err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case ch <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case ch <- StreamChunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			select {
			case ch <- StreamChunk{Delta: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Embed calls the embeddings endpoint.
func (p *OpenAIProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: input,
		Model: openai.AdaEmbeddingV2,
	})
	if err != nil {
		return nil, NewProviderError(p.name, classifyOpenAIError(err), err)
	}
	out := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, d.Embedding)
	}
	return out, nil
}

// CheckHealth calls ListModels and measures its latency.
func (p *OpenAIProvider) CheckHealth(ctx context.Context) ProviderHealth {
	started := time.Now()
	_, err := p.client.ListModels(ctx)
	health := ProviderHealth{
		Provider:  p.name,
		Healthy:   err == nil,
		Latency:   time.Since(started),
		CheckedAt: time.Now(),
	}
	if err != nil {
		health.Error = err.Error()
	}
	return health
}

func classifyOpenAIError(err error) FailoverReason {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatusCode(apiErr.HTTPStatusCode)
	}
	return ReasonUnknown
}
