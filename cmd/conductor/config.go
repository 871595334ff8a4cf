package main

import (
	"fmt"
	"os"

	"github.com/devassist/conductor/internal/providers"
	"github.com/devassist/conductor/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config is conductor's on-disk configuration: which providers to
// construct at startup, the rate-limit curve applied to each of them,
// and where workflow definitions live.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Workflows WorkflowsConfig `yaml:"workflows"`
}

// ProvidersConfig configures the provider registry.
type ProvidersConfig struct {
	Strategy       providers.SelectionStrategy `yaml:"strategy"`
	PreferredOrder []string                    `yaml:"preferred_order"`
	RateLimit      ratelimit.Config            `yaml:"rate_limit"`
	Entries        []providers.ProviderConfig  `yaml:"entries"`
}

// WorkflowsConfig configures the workflow engine's definitions source.
type WorkflowsConfig struct {
	DefinitionsPath string `yaml:"definitions_path"`
}

// DefaultConfigPath is used when --config isn't given.
const DefaultConfigPath = "conductor.yaml"

// DefaultConfig returns a Config with one Ollama provider pointed at
// the local daemon and a permissive rate limit, suitable for getting
// started without any setup.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Strategy:  providers.StrategyFirstAvailable,
			RateLimit: ratelimit.DefaultConfig(),
			Entries: []providers.ProviderConfig{
				{Name: "ollama", Type: providers.TypeOllama, Enabled: true},
			},
		},
		Workflows: WorkflowsConfig{DefinitionsPath: "workflows.yaml"},
	}
}

// LoadConfig reads and parses a Config from path. A missing file is
// not an error; DefaultConfig is returned instead.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("conductor: reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("conductor: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// buildProvider constructs a live Provider from its declarative config,
// resolving the API key from the named environment variable when set.
func buildProvider(entry providers.ProviderConfig) (providers.Provider, error) {
	apiKey := ""
	if entry.APIKeyEnv != "" {
		apiKey = os.Getenv(entry.APIKeyEnv)
	}

	switch entry.Type {
	case providers.TypeOllama:
		return providers.NewOllamaProvider(providers.OllamaConfig{Name: entry.Name, BaseURL: entry.BaseURL}), nil
	case providers.TypeLMStudio:
		return providers.NewLMStudioProvider(entry.Name, entry.BaseURL), nil
	case providers.TypeOpenAI:
		return providers.NewOpenAIProvider(providers.OpenAIConfig{Name: entry.Name, APIKey: apiKey, BaseURL: entry.BaseURL}), nil
	case providers.TypeAzure:
		return providers.NewAzureOpenAIProvider(providers.AzureConfig{Name: entry.Name, APIKey: apiKey, BaseURL: entry.BaseURL}), nil
	case providers.TypeAnthropic:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{Name: entry.Name, APIKey: apiKey, DefaultModel: entry.Model})
	default:
		return nil, fmt.Errorf("conductor: unknown provider type %q for %q (custom providers must be wired by embedding this package)", entry.Type, entry.Name)
	}
}

// buildManager constructs a Manager and registers every enabled entry
// from cfg.
func buildManager(cfg ProvidersConfig) (*providers.Manager, error) {
	mgr := providers.NewManager(cfg.Strategy, cfg.RateLimit, nil)
	mgr.SetPreferredOrder(cfg.PreferredOrder)
	for _, entry := range cfg.Entries {
		if !entry.Enabled {
			continue
		}
		p, err := buildProvider(entry)
		if err != nil {
			return nil, err
		}
		if err := mgr.RegisterProvider(p); err != nil {
			return nil, fmt.Errorf("conductor: registering provider %q: %w", entry.Name, err)
		}
	}
	return mgr, nil
}
