package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/adapter/llm"
	"streamchat/internal/domain"
	"streamchat/internal/infra/config"
)

func TestParseFlags(t *testing.T) {
	flags := parseFlags([]string{"--model", "gpt-4o-mini", "--key=sk-test", "--config", "x.yaml"})
	assert.Equal(t, "gpt-4o-mini", flags.Model)
	assert.Equal(t, "sk-test", flags.APIKey)

	flags = parseFlags([]string{"--model=gpt-4", "--key", "sk-2"})
	assert.Equal(t, "gpt-4", flags.Model)
	assert.Equal(t, "sk-2", flags.APIKey)

	assert.Equal(t, cliFlags{}, parseFlags([]string{"--model"}))
}

func TestConfigPath(t *testing.T) {
	t.Setenv("STREAMCHAT_CONFIG", "")
	assert.Equal(t, "a.yaml", configPath([]string{"--config", "a.yaml"}))
	assert.Equal(t, "b.yaml", configPath([]string{"--config=b.yaml"}))
	assert.Equal(t, "streamchat.yaml", configPath(nil))

	t.Setenv("STREAMCHAT_CONFIG", "/etc/streamchat.yaml")
	assert.Equal(t, "/etc/streamchat.yaml", configPath(nil))
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, applyFlags(cfg, cliFlags{Model: "gpt-4o", APIKey: "sk-x"}))
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "sk-x", cfg.LLM.APIKey)

	cfg = config.Defaults()
	cfg.LLM.APIKey = "from-env"
	require.NoError(t, applyFlags(cfg, cliFlags{}))
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
}

func TestApplyFlagsRequiresAPIKey(t *testing.T) {
	err := applyFlags(config.Defaults(), cliFlags{Model: "gpt-4o"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestSessionConfig(t *testing.T) {
	sc := sessionConfig(config.Defaults().Session)
	assert.Equal(t, 4096, sc.MaxContextTokens)
	assert.Equal(t, 0.1, sc.TemperatureStep)
	assert.Equal(t, 1.0, sc.TemperatureCeiling)
	assert.Equal(t, 5, sc.MaxRateLimitRetries)
	assert.Equal(t, 60*time.Second, sc.MaxRetryAfter)
}

func TestInitLLMChain(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	_, ok := initLLM(cfg, log).(*llm.OpenAIProvider)
	assert.True(t, ok, "no wrappers by default")

	cfg.LLM.RequestsPerMinute = 60
	_, ok = initLLM(cfg, log).(*llm.ThrottledProvider)
	assert.True(t, ok)

	cfg.LLM.CircuitBreaker.Enabled = true
	p := initLLM(cfg, log)
	_, ok = p.(*llm.CircuitBreakerProvider)
	assert.True(t, ok, "the breaker is outermost")
	assert.Equal(t, "openai", p.Name())
}
