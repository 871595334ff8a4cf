package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultOllamaBaseURL is Ollama's default local listen address.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	Name    string
	BaseURL string
	Client  *http.Client
}

// OllamaProvider talks to a local or remote Ollama daemon's native API
// (/api/tags, /api/chat, /api/embeddings), not its OpenAI-compatible
// shim.
type OllamaProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewOllamaProvider constructs an OllamaProvider, defaulting BaseURL to
// DefaultOllamaBaseURL and Client to a 60s-timeout http.Client.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	name := cfg.Name
	if name == "" {
		name = "ollama"
	}
	return &OllamaProvider{name: name, baseURL: baseURL, client: client}
}

func (p *OllamaProvider) Name() string { return p.name }
func (p *OllamaProvider) Type() Type   { return TypeOllama }

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels calls GET /api/tags.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]UnifiedModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewProviderError(p.name, ReasonUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError(p.name, classifyStatusCode(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("providers: decoding ollama tags: %w", err)
	}

	models := make([]UnifiedModel, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, DescribeModel(p.name, m.Name))
	}
	return models, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string            `json:"model"`
	Messages []ollamaMessage   `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  ollamaChatOptions `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func buildOllamaMessages(msgs []ChatMessage) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == RoleTool {
			role = "user"
		}
		out = append(out, ollamaMessage{Role: role, Content: m.Content})
	}
	return out
}

// Chat calls POST /api/chat with stream=false.
func (p *OllamaProvider) Chat(ctx context.Context, req UnifiedChatRequest) (*UnifiedChatResponse, error) {
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: buildOllamaMessages(req.Messages),
		Stream:   false,
		Options:  ollamaChatOptions{NumPredict: req.MaxTokens},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(p.name, ReasonUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError(p.name, classifyStatusCode(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("providers: decoding ollama chat response: %w", err)
	}

	return &UnifiedChatResponse{
		Content:      chatResp.Message.Content,
		FinishReason: "stop",
	}, nil
}

// StreamChat calls POST /api/chat with stream=true and forwards each
// NDJSON line as a StreamChunk.
func (p *OllamaProvider) StreamChat(ctx context.Context, req UnifiedChatRequest) (<-chan StreamChunk, error) {
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: buildOllamaMessages(req.Messages),
		Stream:   true,
		Options:  ollamaChatOptions{NumPredict: req.MaxTokens},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(p.name, ReasonUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, NewProviderError(p.name, classifyStatusCode(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				select {
				case ch <- StreamChunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- StreamChunk{Delta: chunk.Message.Content, Done: chunk.Done}:
			case <-ctx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

type ollamaEmbeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls POST /api/embeddings once per input string, since
// Ollama's native API embeds a single prompt per call.
func (p *OllamaProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	out := make([][]float32, 0, len(input))
	for _, text := range input {
		payload, err := json.Marshal(ollamaEmbeddingsRequest{Model: "nomic-embed-text", Prompt: text})
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return nil, NewProviderError(p.name, ReasonUnavailable, err)
		}
		var embResp ollamaEmbeddingsResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&embResp)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, NewProviderError(p.name, classifyStatusCode(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("providers: decoding ollama embeddings: %w", decodeErr)
		}
		out = append(out, embResp.Embedding)
	}
	return out, nil
}

// CheckHealth calls GET /api/tags and measures its latency.
func (p *OllamaProvider) CheckHealth(ctx context.Context) ProviderHealth {
	started := time.Now()
	_, err := p.ListModels(ctx)
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

func classifyStatusCode(code int) FailoverReason {
	switch {
	case code == http.StatusTooManyRequests:
		return ReasonRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ReasonAuthFailed
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ReasonTimeout
	case code >= 500:
		return ReasonUnavailable
	default:
		return ReasonUnknown
	}
}
