package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hound/pkg/llm"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaultsFromMinimalFile(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: anthropic
  model: claude-sonnet-4-20250514
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, cfg.Coordinator.MaxRuntime.D())
	assert.Equal(t, 96, cfg.Coordinator.ConfidenceThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Investigator.Deadline.D())
	assert.Equal(t, DefaultListenAddr, cfg.Server.Listen)
	assert.NotEmpty(t, cfg.Coordinator.NotesDB, "notes db path derives from data dir")
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: ollama
  model: llama3
  host: http://ollama:11434
data_dir: /var/lib/hound
coordinator:
  max_runtime: 10m
  confidence_threshold: 90
investigator:
  deadline: 2m
  grace: 5s
server:
  listen: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Coordinator.MaxRuntime.D())
	assert.Equal(t, 90, cfg.Coordinator.ConfidenceThreshold)
	assert.Equal(t, 5*time.Second, cfg.Investigator.Grace.D())
	assert.Equal(t, "http://ollama:11434", cfg.Provider.Host)
	assert.Equal(t, ":9090", cfg.Server.Listen)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: skynet
  model: t800
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOUND_PROVIDER", "ollama")
	t.Setenv("HOUND_MODEL", "llama3")
	t.Setenv("HOUND_LISTEN", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Provider.Name)
	assert.Equal(t, "llama3", cfg.Provider.Model)
	assert.Equal(t, ":7070", cfg.Server.Listen)
}

func TestLLMConfigResolvesKey(t *testing.T) {
	cfg := Default()
	cfg.Provider = ProviderConfig{Name: llm.ProviderAnthropic, Model: "claude-sonnet-4-20250514"}

	// From the secrets map.
	pc, err := cfg.LLMConfig(map[string]string{"ANTHROPIC_API_KEY": "sk-from-secrets"})
	require.NoError(t, err)
	assert.Equal(t, "sk-from-secrets", pc.APIKey)

	// From the environment.
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")
	pc, err = cfg.LLMConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", pc.APIKey)
}

func TestLLMConfigMissingKey(t *testing.T) {
	cfg := Default()
	cfg.Provider = ProviderConfig{Name: llm.ProviderAnthropic, Model: "m", APIKeyEnv: "HOUND_TEST_NO_SUCH_KEY"}
	_, err := cfg.LLMConfig(nil)
	assert.Error(t, err)
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := map[string]string{"ANTHROPIC_API_KEY": "sk-test-123"}

	require.NoError(t, EncryptSecrets(dir, "hunter2", in))
	require.True(t, SecretsFileExists(dir))

	out, err := DecryptSecrets(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", out["ANTHROPIC_API_KEY"])
}

func TestSecretsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecrets(dir, "right", map[string]string{"k": "v"}))

	_, err := DecryptSecrets(dir, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}
