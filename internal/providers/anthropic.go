package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider talks to Anthropic's Messages API.
type AnthropicProvider struct {
	name         string
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs an AnthropicProvider. APIKey is
// required.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: anthropic api key is required")
	}
	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		name:         name,
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return p.name }
func (p *AnthropicProvider) Type() Type   { return TypeAnthropic }

// ListModels returns the statically known set of current Claude
// models; Anthropic has no public models-listing endpoint equivalent
// to OpenAI's.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]UnifiedModel, error) {
	ids := []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-sonnet-20241022",
		"claude-3-haiku-20240307",
	}
	models := make([]UnifiedModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, DescribeModel(p.name, id))
	}
	return models, nil
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func maxTokensOrDefault(n int) int64 {
	if n <= 0 {
		return 4096
	}
	return int64(n)
}

func splitSystemPrompt(msgs []ChatMessage) (system string, rest []ChatMessage) {
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func buildAnthropicMessages(msgs []ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			// user and tool roles both become user turns; Anthropic has
			// no native "tool" role outside dedicated tool-result blocks.
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func buildAnthropicTools(tools []Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("providers: invalid schema for tool %q: %w", t.Name, err)
			}
		}
		tp := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tp.OfTool != nil {
			tp.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, tp)
	}
	return out, nil
}

func (p *AnthropicProvider) newParams(req UnifiedChatRequest) (anthropic.MessageNewParams, error) {
	system, rest := splitSystemPrompt(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  buildAnthropicMessages(rest),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	tools, err := buildAnthropicTools(req.Tools)
	if err != nil {
		return params, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// Chat sends a non-streaming Messages request.
func (p *AnthropicProvider) Chat(ctx context.Context, req UnifiedChatRequest) (*UnifiedChatResponse, error) {
	params, err := p.newParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	resp := &UnifiedChatResponse{
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(variant.Input),
			})
		}
	}
	return resp, nil
}

// StreamChat sends a streaming Messages request and forwards text
// deltas as StreamChunks.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req UnifiedChatRequest) (<-chan StreamChunk, error) {
	params, err := p.newParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Text != "" {
					select {
					case ch <- StreamChunk{Delta: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
				select {
				case ch <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- StreamChunk{Err: p.wrapError(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Embed is not supported by Anthropic's API.
func (p *AnthropicProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, NewProviderError(p.name, ReasonInvalidRequest, errors.New("anthropic does not offer an embeddings endpoint"))
}

// CheckHealth sends a minimal one-token request and measures latency.
func (p *AnthropicProvider) CheckHealth(ctx context.Context) ProviderHealth {
	started := time.Now()
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
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

func (p *AnthropicProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError(p.name, classifyStatusCode(apiErr.StatusCode), err)
	}
	return NewProviderError(p.name, ReasonUnknown, err)
}
