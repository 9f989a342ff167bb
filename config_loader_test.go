package wickchat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wick_chat/models"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadModelsFile(t *testing.T) {
	path := writeFile(t, `
defaults:
  assistant_id: research
  configurable:
    temperature: 0.2
    system_prompt: be brief
models:
  gpt-4o:
    label: GPT-4o
    description: Fast general model
    configurable:
      temperature: 0.7
  claude:
    assistant_id: writer
`)
	reg := models.NewRegistry()
	ids, err := LoadModelsFile(path, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "gpt-4o"}, ids)
	assert.Equal(t, 2, reg.Count())

	gpt, err := reg.Get("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "GPT-4o", gpt.Label)
	assert.Equal(t, "research", gpt.AssistantID)
	assert.Equal(t, map[string]any{
		"temperature":   0.7,
		"system_prompt": "be brief",
		"model":         "gpt-4o",
	}, gpt.RunConfigurable())

	claude, err := reg.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, "writer", claude.AssistantID)
	assert.Equal(t, "claude", claude.Label)
	assert.Equal(t, 0.2, claude.Configurable["temperature"])
}

func TestLoadModelsFileWithoutDefaults(t *testing.T) {
	path := writeFile(t, "models:\n  plain:\n")
	reg := models.NewRegistry()
	_, err := LoadModelsFile(path, reg)
	require.NoError(t, err)

	m, err := reg.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultAssistantID, m.AssistantID)
}

func TestLoadModelsFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadModelsFile(filepath.Join(t.TempDir(), "nope.yaml"), models.NewRegistry())
		assert.ErrorContains(t, err, "failed to read models config")
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := LoadModelsFile(writeFile(t, "models: [unclosed"), models.NewRegistry())
		assert.ErrorContains(t, err, "failed to parse models config")
	})
	t.Run("no models", func(t *testing.T) {
		_, err := LoadModelsFile(writeFile(t, "defaults:\n  assistant_id: x\n"), models.NewRegistry())
		assert.ErrorContains(t, err, "defines no models")
	})
}

func TestRegisterDefaultModel(t *testing.T) {
	reg := models.NewRegistry()
	require.NoError(t, RegisterDefaultModel(reg))
	m, err := reg.Get(DefaultModelID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultAssistantID, m.AssistantID)
}
