package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// A missing API key is not checked here; the entry point reports it.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateSession(cfg, ve)
	validateLLM(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateSession(cfg *Config, ve *ValidationError) {
	s := cfg.Session
	if strings.TrimSpace(s.SystemPrompt) == "" {
		ve.Add("session.system_prompt must not be empty")
	}
	if s.MaxContextTokens <= 0 {
		ve.Add("session.max_context_tokens must be > 0")
	}
	if s.TemperatureStep < 0 {
		ve.Add("session.temperature_step must be >= 0")
	}
	if s.TemperatureCeiling < 0 || s.TemperatureCeiling > 2 {
		ve.Add("session.temperature_ceiling must be within [0, 2]")
	}
	if s.MaxRateLimitRetries < 0 {
		ve.Add("session.max_rate_limit_retries must be >= 0")
	}
	if s.MaxRetryAfter <= 0 {
		ve.Add("session.max_retry_after must be > 0")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	l := cfg.LLM
	if l.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	if u, err := url.Parse(l.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("llm.base_url %q is not an absolute URL", l.BaseURL)
	}
	if l.MaxResponseTokens <= 0 {
		ve.Add("llm.max_response_tokens must be > 0")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		ve.Add("llm.temperature must be within [0, 2], got %v", l.Temperature)
	}
	if l.ConnTimeout < 0 || l.RespTimeout < 0 {
		ve.Add("llm timeouts must be >= 0")
	}
	if l.RequestsPerMinute < 0 {
		ve.Add("llm.requests_per_minute must be >= 0")
	}
	if l.CircuitBreaker.Enabled && l.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}
