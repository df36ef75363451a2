// Package config loads and validates hound's configuration. Configuration
// errors are fatal at startup; nothing downstream ever sees a half-valid
// Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"hound/pkg/llm"
)

// Defaults applied when the file or field is absent.
const (
	DefaultConfidenceThreshold  = 96
	DefaultCoordinatorRuntime   = 60 * time.Minute
	DefaultInvestigatorDeadline = 5 * time.Minute
	DefaultTerminationGrace     = 10 * time.Second
	DefaultListenAddr           = ":8080"
	DefaultDataDir              = "hound-data"
	DefaultTokenBudget          = 64000
)

// Config is the root configuration.
type Config struct {
	Provider     ProviderConfig     `yaml:"provider"`
	DataDir      string             `yaml:"data_dir"`
	Server       ServerConfig       `yaml:"server"`
	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	Investigator InvestigatorConfig `yaml:"investigator"`
	TokenBudget  int                `yaml:"token_budget"`
}

// ProviderConfig names the model provider and credential source.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"` // env var or secret name holding the key
	Host      string `yaml:"host"`        // ollama only
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Duration wraps time.Duration so YAML values like "10m" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// D returns the underlying time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// CoordinatorConfig bounds the coordinator loop.
type CoordinatorConfig struct {
	MaxRuntime          Duration `yaml:"max_runtime"`
	ConfidenceThreshold int      `yaml:"confidence_threshold"`
	NotesDB             string   `yaml:"notes_db"`
}

// InvestigatorConfig bounds investigator subprocesses.
type InvestigatorConfig struct {
	Deadline Duration `yaml:"deadline"`
	Grace    Duration `yaml:"grace"`
}

// Default returns a config with every default applied and no provider set.
func Default() Config {
	return Config{
		DataDir:     DefaultDataDir,
		Server:      ServerConfig{Listen: DefaultListenAddr},
		TokenBudget: DefaultTokenBudget,
		Coordinator: CoordinatorConfig{
			MaxRuntime:          Duration(DefaultCoordinatorRuntime),
			ConfidenceThreshold: DefaultConfidenceThreshold,
		},
		Investigator: InvestigatorConfig{
			Deadline: Duration(DefaultInvestigatorDeadline),
			Grace:    Duration(DefaultTerminationGrace),
		},
	}
}

// Load reads path (optional), applies defaults and environment overrides, and
// validates. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.Coordinator.MaxRuntime <= 0 {
		c.Coordinator.MaxRuntime = Duration(DefaultCoordinatorRuntime)
	}
	if c.Coordinator.ConfidenceThreshold <= 0 {
		c.Coordinator.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.Coordinator.NotesDB == "" {
		c.Coordinator.NotesDB = filepath.Join(c.DataDir, "notes.db")
	}
	if c.Investigator.Deadline <= 0 {
		c.Investigator.Deadline = Duration(DefaultInvestigatorDeadline)
	}
	if c.Investigator.Grace <= 0 {
		c.Investigator.Grace = Duration(DefaultTerminationGrace)
	}
}

// applyEnv lets the environment override file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("HOUND_PROVIDER"); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv("HOUND_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("HOUND_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HOUND_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("HOUND_OLLAMA_HOST"); v != "" {
		c.Provider.Host = v
	}
}

// Validate rejects configurations the system cannot run with.
func (c *Config) Validate() error {
	if c.Provider.Name == "" {
		return fmt.Errorf("config: provider.name is required")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("config: provider.model is required")
	}
	switch c.Provider.Name {
	case llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGoogle, llm.ProviderOllama:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider.Name)
	}
	if c.Coordinator.ConfidenceThreshold > 100 {
		return fmt.Errorf("config: confidence_threshold must be <= 100, got %d", c.Coordinator.ConfidenceThreshold)
	}
	return nil
}

// LLMConfig resolves the provider API key and returns the adapter config.
// secrets holds decrypted values from the secrets file; the environment is
// the fallback.
func (c *Config) LLMConfig(secrets map[string]string) (llm.ProviderConfig, error) {
	keyName := c.Provider.APIKeyEnv
	if keyName == "" {
		keyName = defaultKeyName(c.Provider.Name)
	}

	apiKey := secrets[keyName]
	if apiKey == "" {
		apiKey = os.Getenv(keyName)
	}
	if apiKey == "" && c.Provider.Name != llm.ProviderOllama {
		return llm.ProviderConfig{}, fmt.Errorf("config: no API key found under %q in secrets or environment", keyName)
	}

	return llm.ProviderConfig{
		Provider: c.Provider.Name,
		Model:    c.Provider.Model,
		APIKey:   apiKey,
		Host:     c.Provider.Host,
	}, nil
}

func defaultKeyName(provider string) string {
	switch provider {
	case llm.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case llm.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case llm.ProviderGoogle:
		return "GEMINI_API_KEY"
	default:
		return "HOUND_API_KEY"
	}
}
