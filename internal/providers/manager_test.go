package providers

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devassist/conductor/internal/ratelimit"
)

type fakeProvider struct {
	name    string
	typ     Type
	latency time.Duration
	chatErr error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Type() Type   { return f.typ }

func (f *fakeProvider) ListModels(ctx context.Context) ([]UnifiedModel, error) {
	return []UnifiedModel{DescribeModel(f.name, f.name+"-model")}, nil
}

func (f *fakeProvider) Chat(ctx context.Context, req UnifiedChatRequest) (*UnifiedChatResponse, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &UnifiedChatResponse{Content: "ok from " + f.name}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, req UnifiedChatRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Delta: "ok", Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return [][]float32{{1, 2, 3}}, nil
}

func (f *fakeProvider) CheckHealth(ctx context.Context) ProviderHealth {
	return ProviderHealth{Provider: f.name, Healthy: true, Latency: f.latency, CheckedAt: time.Now()}
}

func permissiveLimiterConfig() ratelimit.Config {
	return ratelimit.Config{MaxRequestsPerMinute: 1000, WindowSeconds: 60, BaseDelayMs: 10, MaxDelayMs: 20, Enabled: true}
}

func TestRegisterProvider_FirstBecomesActive(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	if err := m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom}); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	active, err := m.GetActiveProvider()
	if err != nil {
		t.Fatalf("GetActiveProvider: %v", err)
	}
	if active.Name() != "a" {
		t.Errorf("active = %q, want a", active.Name())
	}
}

func TestRegisterProvider_RejectsDuplicateName(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})
	if err := m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom}); !errors.Is(err, ErrProviderExists) {
		t.Fatalf("expected ErrProviderExists, got %v", err)
	}
}

func TestSelectProvider_FirstAvailableSkipsUnhealthy(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})
	_ = m.RegisterProvider(&fakeProvider{name: "b", typ: TypeCustom})

	m.mu.Lock()
	m.lastHealth["a"] = ProviderHealth{Provider: "a", Healthy: false}
	m.mu.Unlock()

	p, err := m.SelectProvider()
	if err != nil {
		t.Fatalf("SelectProvider: %v", err)
	}
	if p.Name() != "b" {
		t.Errorf("selected %q, want b (a is unhealthy)", p.Name())
	}
}

func TestSelectProvider_LowestLatency(t *testing.T) {
	m := NewManager(StrategyLowestLatency, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "slow", typ: TypeCustom})
	_ = m.RegisterProvider(&fakeProvider{name: "fast", typ: TypeCustom})

	m.mu.Lock()
	m.lastHealth["slow"] = ProviderHealth{Provider: "slow", Healthy: true, Latency: 500 * time.Millisecond}
	m.lastHealth["fast"] = ProviderHealth{Provider: "fast", Healthy: true, Latency: 10 * time.Millisecond}
	m.mu.Unlock()

	p, err := m.SelectProvider()
	if err != nil {
		t.Fatalf("SelectProvider: %v", err)
	}
	if p.Name() != "fast" {
		t.Errorf("selected %q, want fast", p.Name())
	}
}

func TestSelectProvider_Preferred(t *testing.T) {
	m := NewManager(StrategyPreferred, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})
	_ = m.RegisterProvider(&fakeProvider{name: "b", typ: TypeCustom})
	m.SetPreferredOrder([]string{"b", "a"})

	p, err := m.SelectProvider()
	if err != nil {
		t.Fatalf("SelectProvider: %v", err)
	}
	if p.Name() != "b" {
		t.Errorf("selected %q, want b", p.Name())
	}
}

func TestSelectProvider_RoundRobinCycles(t *testing.T) {
	m := NewManager(StrategyRoundRobin, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})
	_ = m.RegisterProvider(&fakeProvider{name: "b", typ: TypeCustom})

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		p, err := m.SelectProvider()
		if err != nil {
			t.Fatalf("SelectProvider: %v", err)
		}
		seen[p.Name()]++
	}
	if seen["a"] != 2 || seen["b"] != 2 {
		t.Errorf("expected an even round-robin split, got %v", seen)
	}
}

func TestSelectProvider_NoneAvailableErrors(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	if _, err := m.SelectProvider(); !errors.Is(err, ErrNoProvidersAvailable) {
		t.Fatalf("expected ErrNoProvidersAvailable, got %v", err)
	}
}

func TestManager_ChatAcquiresRateLimiter(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, ratelimit.Config{MaxRequestsPerMinute: 1, WindowSeconds: 60, BaseDelayMs: 10, MaxDelayMs: 10, Enabled: true}, nil)
	p := &fakeProvider{name: "a", typ: TypeCustom}
	_ = m.RegisterProvider(p)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := m.Chat(ctx, UnifiedChatRequest{Model: "x"}); err != nil {
		t.Fatalf("first Chat call: %v", err)
	}
	// Second call within the same window should block on the limiter and
	// hit the short context deadline rather than succeed immediately.
	if _, err := m.Chat(ctx, UnifiedChatRequest{Model: "x"}); err == nil {
		t.Error("expected second call to be rate limited within the deadline")
	}
}

func TestManager_ChatSelectsProviderInternally(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})

	resp, err := m.Chat(context.Background(), UnifiedChatRequest{Model: "x"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok from a" {
		t.Errorf("Content = %q, want response from the only registered provider", resp.Content)
	}
}

func TestManager_ChatFallsBackWhenActiveProviderDisabled(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom}) // becomes active
	_ = m.RegisterProvider(&fakeProvider{name: "b", typ: TypeCustom})
	if err := m.SetProviderEnabled("a", false); err != nil {
		t.Fatalf("SetProviderEnabled: %v", err)
	}

	resp, err := m.Chat(context.Background(), UnifiedChatRequest{Model: "x"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok from b" {
		t.Errorf("Content = %q, want fallback to the remaining enabled provider", resp.Content)
	}
}

func TestManager_ChatErrorsWhenNoProvidersRegistered(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	if _, err := m.Chat(context.Background(), UnifiedChatRequest{Model: "x"}); !errors.Is(err, ErrNoProvidersAvailable) {
		t.Fatalf("expected ErrNoProvidersAvailable, got %v", err)
	}
}

func TestManager_StreamChatRequiresActiveProvider(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})
	_ = m.SetProviderEnabled("a", false)

	if _, err := m.StreamChat(context.Background(), UnifiedChatRequest{Model: "x"}); !errors.Is(err, ErrNoActiveProvider) {
		t.Fatalf("expected ErrNoActiveProvider when the active provider is disabled, got %v", err)
	}
}

func TestSelectProvider_SkipsDisabledProviders(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})
	_ = m.RegisterProvider(&fakeProvider{name: "b", typ: TypeCustom})
	if err := m.SetProviderEnabled("a", false); err != nil {
		t.Fatalf("SetProviderEnabled: %v", err)
	}

	p, err := m.SelectProvider()
	if err != nil {
		t.Fatalf("SelectProvider: %v", err)
	}
	if p.Name() != "b" {
		t.Errorf("selected %q, want b (a is disabled)", p.Name())
	}
}

func TestSelectProvider_AllDisabledErrors(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeCustom})
	_ = m.SetProviderEnabled("a", false)

	if _, err := m.SelectProvider(); !errors.Is(err, ErrNoProvidersAvailable) {
		t.Fatalf("expected ErrNoProvidersAvailable, got %v", err)
	}
}

func TestCheckAllHealth_ConcurrentFanOut(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	for _, name := range []string{"a", "b", "c"} {
		_ = m.RegisterProvider(&fakeProvider{name: name, typ: TypeCustom, latency: time.Millisecond})
	}

	results := m.CheckAllHealth(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, name := range []string{"a", "b", "c"} {
		if h, ok := results[name]; !ok || !h.Healthy {
			t.Errorf("expected %q to be healthy, got %+v (ok=%v)", name, h, ok)
		}
	}
}

func TestExportApplyState_RoundTrip(t *testing.T) {
	m := NewManager(StrategyPreferred, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeOllama})
	_ = m.RegisterProvider(&fakeProvider{name: "b", typ: TypeOpenAI})
	m.SetPreferredOrder([]string{"b", "a"})
	_ = m.SetActiveProvider("b")

	configs := map[string]ProviderConfig{
		"a": {Name: "a", Type: TypeOllama, Enabled: true},
		"b": {Name: "b", Type: TypeOpenAI, APIKeyEnv: "OPENAI_API_KEY", Enabled: true},
	}
	state := m.ExportState(configs)

	var buf bytes.Buffer
	if err := SaveState(&buf, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := LoadState(&buf)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.ActiveProvider != "b" {
		t.Errorf("ActiveProvider = %q, want b", loaded.ActiveProvider)
	}
	if loaded.SelectionStrategy != StrategyPreferred {
		t.Errorf("SelectionStrategy = %q, want preferred", loaded.SelectionStrategy)
	}
	if len(loaded.ProviderConfigs) != 2 {
		t.Fatalf("expected 2 provider configs, got %d", len(loaded.ProviderConfigs))
	}

	m2 := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m2.RegisterProvider(&fakeProvider{name: "a", typ: TypeOllama})
	_ = m2.RegisterProvider(&fakeProvider{name: "b", typ: TypeOpenAI})
	if err := m2.ApplyState(loaded); err != nil {
		t.Fatalf("ApplyState: %v", err)
	}
	active, err := m2.GetActiveProvider()
	if err != nil || active.Name() != "b" {
		t.Errorf("expected active provider b after ApplyState, got %v (err=%v)", active, err)
	}
}

func TestApplyState_RejectsUnknownActiveProvider(t *testing.T) {
	m := NewManager(StrategyFirstAvailable, permissiveLimiterConfig(), nil)
	_ = m.RegisterProvider(&fakeProvider{name: "a", typ: TypeOllama})
	err := m.ApplyState(PersistentState{ActiveProvider: "ghost"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
