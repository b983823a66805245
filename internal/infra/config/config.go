package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"streamchat/internal/domain"
)

// DefaultSystemPrompt asks the model to tag every reply with a sentiment
// marker that the session reads back after each turn.
const DefaultSystemPrompt = "You are a helpful assistant. You should always append one of the following strings to each and every response: 'Sentiment: Positive', 'Sentiment: Negative', or 'Sentiment: Neutral', based on your analysis of the sentiment of the text the entered by the user. If you don't detect a particular sentiment, append ' Sentiment: Neutral'."

// configKeyEnv holds the passphrase used to decrypt "enc:" values.
const configKeyEnv = "STREAMCHAT_CONFIG_KEY"

// Config is the top-level application configuration.
type Config struct {
	Session SessionConfig `yaml:"session"`
	LLM     LLMConfig     `yaml:"llm"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	UI      UIConfig      `yaml:"ui"`
}

// SessionConfig holds conversation and turn-policy settings.
type SessionConfig struct {
	SystemPrompt       string  `yaml:"system_prompt" env:"STREAMCHAT_SYSTEM_PROMPT"`
	MaxContextTokens   int     `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	TemperatureStep    float64 `yaml:"temperature_step" env:"STREAMCHAT_TEMPERATURE_STEP"`
	TemperatureCeiling float64 `yaml:"temperature_ceiling" env:"STREAMCHAT_TEMPERATURE_CEILING"`
	// MaxRateLimitRetries caps 429 retries within one turn.
	MaxRateLimitRetries int `yaml:"max_rate_limit_retries" env:"STREAMCHAT_MAX_RATE_LIMIT_RETRIES"`
	// MaxRetryAfter clamps a single server-requested pause.
	MaxRetryAfter time.Duration `yaml:"max_retry_after" env:"STREAMCHAT_MAX_RETRY_AFTER"`
}

// LLMConfig holds settings for the completions endpoint.
type LLMConfig struct {
	Name              string               `yaml:"name" env:"STREAMCHAT_PROVIDER_NAME"`
	BaseURL           string               `yaml:"base_url" env:"STREAMCHAT_BASE_URL"`
	APIKey            string               `yaml:"api_key" env:"API_KEY"`
	Model             string               `yaml:"model" env:"LANGUAGE_MODEL"`
	MaxResponseTokens int                  `yaml:"max_response_tokens" env:"MAX_RESPONSE_TOKENS"`
	Temperature       float64              `yaml:"temperature" env:"TEMPERATURE"`
	ConnTimeout       time.Duration        `yaml:"conn_timeout" env:"STREAMCHAT_CONN_TIMEOUT"`
	RespTimeout       time.Duration        `yaml:"resp_timeout" env:"STREAMCHAT_RESP_TIMEOUT"`
	RequestsPerMinute int                  `yaml:"requests_per_minute" env:"STREAMCHAT_REQUESTS_PER_MINUTE"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
	Pool              PoolConfig           `yaml:"pool"`
}

// CircuitBreakerConfig holds circuit breaker settings for the provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled" env:"STREAMCHAT_CIRCUIT_BREAKER_ENABLED"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level" env:"STREAMCHAT_LOGGER_LEVEL"`
	Format string `yaml:"format" env:"STREAMCHAT_LOGGER_FORMAT"`
	Output string `yaml:"output" env:"STREAMCHAT_LOGGER_OUTPUT"`
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled" env:"STREAMCHAT_TRACER_ENABLED"`
	Exporter string `yaml:"exporter" env:"STREAMCHAT_TRACER_EXPORTER"`
}

// UIConfig holds terminal front-end settings.
type UIConfig struct {
	RenderMarkdown bool   `yaml:"render_markdown" env:"STREAMCHAT_RENDER_MARKDOWN"`
	HistoryFile    string `yaml:"history_file" env:"STREAMCHAT_HISTORY_FILE"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Session: SessionConfig{
			SystemPrompt:        DefaultSystemPrompt,
			MaxContextTokens:    4096,
			TemperatureStep:     0.1,
			TemperatureCeiling:  1.0,
			MaxRateLimitRetries: 5,
			MaxRetryAfter:       60 * time.Second,
		},
		LLM: LLMConfig{
			Name:              "openai",
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-3.5-turbo",
			MaxResponseTokens: 512,
			Temperature:       0.7,
			ConnTimeout:       10 * time.Second,
			RespTimeout:       10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		UI: UIConfig{
			HistoryFile: filepath.Join(os.TempDir(), ".streamchat_history"),
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %w", domain.ErrConfigLoad, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("%w: read config: %w", domain.ErrConfigLoad, err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if passphrase := os.Getenv(configKeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps environment variables onto tagged config fields.
// Unset variables leave the current value untouched.
func ApplyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("%w: env: %w", domain.ErrConfigLoad, err)
	}
	cfg.LLM.BaseURL = strings.TrimRight(cfg.LLM.BaseURL, "/")
	return nil
}

// decryptSecrets decrypts an "enc:..." API key in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	key := cfg.LLM.APIKey
	if !strings.HasPrefix(key, "enc:") {
		return nil
	}
	decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
	if err != nil {
		return fmt.Errorf("llm api_key: %w", err)
	}
	cfg.LLM.APIKey = decrypted
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %w", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %w", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
