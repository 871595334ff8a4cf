package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devassist/conductor/internal/observability"
	"github.com/devassist/conductor/internal/ratelimit"
)

// Manager is the registry of providers, their rate limiters, and the
// policy used to pick one when a caller doesn't name a specific
// provider.
type Manager struct {
	mu sync.RWMutex

	providers    map[string]Provider
	limiters     map[string]*ratelimit.Limiter
	limiterCfg   ratelimit.Config
	lastHealth   map[string]ProviderHealth
	enabled      map[string]bool
	activeName   string
	strategy     SelectionStrategy
	preferred    []string
	roundRobinAt int

	metrics *observability.Metrics
	log     *slog.Logger
}

// NewManager constructs an empty Manager. limiterCfg is applied to
// every provider registered afterward; metrics may be nil.
func NewManager(strategy SelectionStrategy, limiterCfg ratelimit.Config, metrics *observability.Metrics) *Manager {
	if strategy == "" {
		strategy = StrategyFirstAvailable
	}
	return &Manager{
		providers:  make(map[string]Provider),
		limiters:   make(map[string]*ratelimit.Limiter),
		limiterCfg: limiterCfg,
		lastHealth: make(map[string]ProviderHealth),
		enabled:    make(map[string]bool),
		strategy:   strategy,
		metrics:    metrics,
		log:        slog.Default().With("component", "providers"),
	}
}

// RegisterProvider adds p to the registry under p.Name(), with its own
// rate limiter. The first provider registered becomes active by
// default.
func (m *Manager) RegisterProvider(p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderExists, name)
	}
	limiter, err := ratelimit.NewLimiter(m.limiterCfg)
	if err != nil {
		return fmt.Errorf("providers: building rate limiter for %s: %w", name, err)
	}
	m.providers[name] = p
	m.limiters[name] = limiter
	m.enabled[name] = true
	if m.activeName == "" {
		m.activeName = name
	}
	return nil
}

// UnregisterProvider removes a provider and its rate limiter.
func (m *Manager) UnregisterProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	delete(m.providers, name)
	delete(m.limiters, name)
	delete(m.lastHealth, name)
	delete(m.enabled, name)
	if m.activeName == name {
		m.activeName = ""
	}
	return nil
}

// SetProviderEnabled toggles whether a registered provider is eligible
// for selection. Disabling the active provider does not clear it as
// active, but SelectProvider skips it and Chat, Embed and StreamChat
// stop using it as the active provider until it is re-enabled or
// replaced with SetActiveProvider.
func (m *Manager) SetProviderEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.getProviderLocked(name); err != nil {
		return err
	}
	m.enabled[name] = enabled
	return nil
}

func (m *Manager) getProviderLocked(name string) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// GetProvider returns a registered provider by name.
func (m *Manager) GetProvider(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProviderLocked(name)
}

// GetAllProviders returns every registered provider.
func (m *Manager) GetAllProviders() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p)
	}
	return out
}

// SetActiveProvider pins the provider that Chat and Embed try first and
// that StreamChat always uses. SelectProvider's strategies, including
// StrategyPreferred, do not consult the active provider;
// StrategyPreferred follows SetPreferredOrder.
func (m *Manager) SetActiveProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.getProviderLocked(name); err != nil {
		return err
	}
	m.activeName = name
	return nil
}

// GetActiveProvider returns the currently pinned provider.
func (m *Manager) GetActiveProvider() (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeName == "" {
		return nil, ErrNoActiveProvider
	}
	return m.getProviderLocked(m.activeName)
}

// SetPreferredOrder sets the provider name order used by
// StrategyPreferred.
func (m *Manager) SetPreferredOrder(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferred = append([]string(nil), names...)
}

// SetSelectionStrategy changes the policy used by SelectProvider.
func (m *Manager) SetSelectionStrategy(s SelectionStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = s
}

// SelectProvider picks a provider according to the manager's
// configured strategy:
//
//   - first-available: the first healthy registered provider, in
//     registration-stable (name-sorted) order.
//   - lowest-latency: the healthy provider with the lowest latency from
//     its last health check; providers never checked are treated as
//     available with zero latency.
//   - preferred: the first name in SetPreferredOrder that is registered
//     and healthy, falling back to first-available.
//   - round-robin: cycles through registered providers on each call,
//     skipping unhealthy ones.
func (m *Manager) SelectProvider() (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.providers) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	names := m.sortedNamesLocked()
	healthy := make([]string, 0, len(names))
	for _, n := range names {
		if !m.enabled[n] {
			continue
		}
		if h, ok := m.lastHealth[n]; !ok || h.Healthy {
			healthy = append(healthy, n)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	switch m.strategy {
	case StrategyLowestLatency:
		best := healthy[0]
		bestLatency := m.lastHealth[best].Latency
		for _, n := range healthy[1:] {
			if l := m.lastHealth[n].Latency; l < bestLatency {
				best, bestLatency = n, l
			}
		}
		return m.getProviderLocked(best)

	case StrategyPreferred:
		for _, want := range m.preferred {
			for _, n := range healthy {
				if n == want {
					return m.getProviderLocked(n)
				}
			}
		}
		return m.getProviderLocked(healthy[0])

	case StrategyRoundRobin:
		idx := m.roundRobinAt % len(healthy)
		m.roundRobinAt++
		return m.getProviderLocked(healthy[idx])

	default: // StrategyFirstAvailable
		return m.getProviderLocked(healthy[0])
	}
}

func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.providers))
	for n := range m.providers {
		names = append(names, n)
	}
	// Simple insertion sort: registries stay small (a handful of
	// providers), and this avoids importing sort for one call site.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

func (m *Manager) limiterFor(name string) (*ratelimit.Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[name]
	return l, ok
}

// activeLocked returns the active provider if one is pinned and
// enabled. Callers must hold m.mu (read or write).
func (m *Manager) activeLocked() (Provider, error) {
	if m.activeName == "" || !m.enabled[m.activeName] {
		return nil, ErrNoActiveProvider
	}
	return m.getProviderLocked(m.activeName)
}

// selectWithFallback returns the active provider if it's set, enabled
// and not reported unhealthy by its last health check, falling back to
// SelectProvider's best-available choice otherwise.
func (m *Manager) selectWithFallback() (Provider, error) {
	m.mu.RLock()
	p, err := m.activeLocked()
	if err == nil {
		if h, checked := m.lastHealth[m.activeName]; checked && !h.Healthy {
			err = ErrNoActiveProvider
		}
	}
	m.mu.RUnlock()
	if err == nil {
		return p, nil
	}
	return m.SelectProvider()
}

// Chat selects a provider internally — the active one if set, enabled
// and not unhealthy, otherwise the best available by the configured selection
// strategy — and dispatches req to it, honoring its rate limiter.
// Returns ErrNoProvidersAvailable if no provider is registered and
// healthy.
func (m *Manager) Chat(ctx context.Context, req UnifiedChatRequest) (*UnifiedChatResponse, error) {
	provider, err := m.selectWithFallback()
	if err != nil {
		return nil, err
	}
	name := provider.Name()
	if limiter, ok := m.limiterFor(name); ok {
		if err := limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	resp, err := provider.Chat(ctx, req)
	m.recordRequest(name, "chat", started, err)
	return resp, err
}

// StreamChat is Chat's streaming counterpart, but only ever dispatches
// to the pinned active provider — a stream can't transparently fail
// over mid-flight — returning ErrNoActiveProvider if none is pinned or
// the pinned one is disabled.
func (m *Manager) StreamChat(ctx context.Context, req UnifiedChatRequest) (<-chan StreamChunk, error) {
	m.mu.RLock()
	provider, err := m.activeLocked()
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	name := provider.Name()
	if limiter, ok := m.limiterFor(name); ok {
		if err := limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	ch, err := provider.StreamChat(ctx, req)
	m.recordRequest(name, "stream_chat", started, err)
	return ch, err
}

// Embed is Chat's embedding counterpart: active provider first, best
// available otherwise.
func (m *Manager) Embed(ctx context.Context, input []string) ([][]float32, error) {
	provider, err := m.selectWithFallback()
	if err != nil {
		return nil, err
	}
	name := provider.Name()
	if limiter, ok := m.limiterFor(name); ok {
		if err := limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	vectors, err := provider.Embed(ctx, input)
	m.recordRequest(name, "embed", started, err)
	return vectors, err
}

func (m *Manager) recordRequest(provider, operation string, started time.Time, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.ProviderRequestsTotal.WithLabelValues(provider, operation).Inc()
	m.metrics.ProviderLatency.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.metrics.ProviderRequestErrors.WithLabelValues(provider, operation).Inc()
	}
}

// ListAllModels aggregates ListModels across every registered provider.
// A provider whose listing fails is logged and skipped; its error is
// not returned.
func (m *Manager) ListAllModels(ctx context.Context) ([]UnifiedModel, error) {
	var all []UnifiedModel
	for _, p := range m.GetAllProviders() {
		models, err := p.ListModels(ctx)
		if err != nil {
			m.log.Warn("listing models failed", "provider", p.Name(), "error", err)
			continue
		}
		all = append(all, models...)
	}
	return all, nil
}

// CheckAllHealth runs CheckHealth concurrently across every registered
// provider and records the results for SelectProvider to consult.
func (m *Manager) CheckAllHealth(ctx context.Context) map[string]ProviderHealth {
	providers := m.GetAllProviders()
	results := make(map[string]ProviderHealth, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			health := p.CheckHealth(ctx)
			mu.Lock()
			results[p.Name()] = health
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	m.mu.Lock()
	for name, h := range results {
		m.lastHealth[name] = h
		if m.metrics != nil {
			v := 0.0
			if h.Healthy {
				v = 1.0
			}
			m.metrics.ProviderHealthy.WithLabelValues(name).Set(v)
		}
	}
	m.mu.Unlock()

	return results
}

// RateLimiterStats returns the sliding-window stats for a provider's
// rate limiter.
func (m *Manager) RateLimiterStats(name string) (ratelimit.Stats, error) {
	limiter, ok := m.limiterFor(name)
	if !ok {
		return ratelimit.Stats{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return limiter.Stats(), nil
}

// UpdateRateLimitConfig applies a new rate-limit configuration to a
// single provider's limiter.
func (m *Manager) UpdateRateLimitConfig(name string, cfg ratelimit.Config) error {
	limiter, ok := m.limiterFor(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return limiter.UpdateConfig(cfg)
}

// ResetRateLimiter clears a provider's rate-limiter window and counters.
func (m *Manager) ResetRateLimiter(name string) error {
	limiter, ok := m.limiterFor(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	limiter.Reset()
	return nil
}
