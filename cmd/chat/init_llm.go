package main

import (
	"log/slog"

	"streamchat/internal/adapter/llm"
	"streamchat/internal/domain"
	"streamchat/internal/infra/config"
)

// initLLM builds the provider chain: circuit breaker, then throttle, then
// the OpenAI-compatible endpoint. Wrappers are only added when configured.
func initLLM(cfg *config.Config, log *slog.Logger) domain.StreamingLLMProvider {
	var provider domain.StreamingLLMProvider = llm.NewOpenAIProvider(cfg.LLM, log.With("component", "llm"))

	if rpm := cfg.LLM.RequestsPerMinute; rpm > 0 {
		provider = llm.NewThrottledProvider(provider, rpm, log)
		log.Info("llm request throttle enabled", "requests_per_minute", rpm)
	}

	// Wrap with circuit breaker if enabled.
	if cbCfg := cfg.LLM.CircuitBreaker; cbCfg.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cbCfg, log)
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	return provider
}
