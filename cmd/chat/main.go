package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"streamchat/internal/adapter/cli"
	"streamchat/internal/adapter/tokenizer"
	"streamchat/internal/domain"
	"streamchat/internal/infra/config"
	"streamchat/internal/infra/logger"
	"streamchat/internal/infra/tracer"
	"streamchat/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`streamchat - streaming chat with a completions endpoint

USAGE:
    streamchat [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./streamchat.yaml)
    --model NAME       Model name (e.g. gpt-3.5-turbo)
    --key KEY          API key for the endpoint

CONFIGURATION:
    Config file: ./streamchat.yaml (optional)
    Environment: API_KEY, LANGUAGE_MODEL, MAX_RESPONSE_TOKENS, TEMPERATURE,
                 MAX_CONTEXT_TOKENS and STREAMCHAT_* variables override the file

Type "quit" or "exit" to end the session.`)
}

func run(args []string) error {
	// 1. Config
	flags := parseFlags(args)
	cfg, err := config.Load(configPath(args))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := applyFlags(cfg, flags); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Tokenizer
	counter, err := tokenizer.New(cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("tokenizer: %w", err)
	}

	// 4. LLM provider chain
	provider := initLLM(cfg, log)

	// 5. Conversation & session
	conv := usecase.NewConversation(cfg.Session.SystemPrompt, domain.GenerationParams{
		Model:             cfg.LLM.Model,
		MaxResponseTokens: cfg.LLM.MaxResponseTokens,
		Temperature:       cfg.LLM.Temperature,
		Stream:            true,
	}, counter, logger.Component(log, "conversation"))
	session := usecase.NewSession(conv, provider, sessionConfig(cfg.Session), logger.Component(log, "session"))

	log.Info("session started",
		"session_id", conv.ID(),
		"provider", provider.Name(),
		"model", cfg.LLM.Model,
		"max_context_tokens", cfg.Session.MaxContextTokens,
	)

	// 6. REPL
	renderer := cli.NewRenderer(os.Stdout, cfg.UI.RenderMarkdown, 0)
	reader := cli.NewLineReader(cfg.UI, cli.Prompt(), log)
	repl := cli.NewREPL(session, reader, os.Stdout, renderer, logger.Component(log, "repl"))

	if err := repl.Run(ctx); err != nil {
		return err
	}
	log.Info("session ended", "session_id", conv.ID(), "total_tokens", conv.TotalTokens())
	return nil
}

// cliFlags holds optional CLI overrides.
type cliFlags struct {
	Model  string
	APIKey string
}

// parseFlags extracts --model and --key from args.
func parseFlags(args []string) cliFlags {
	var flags cliFlags
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--model" && i+1 < len(args):
			flags.Model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--model="):
			flags.Model = strings.TrimPrefix(args[i], "--model=")
		case args[i] == "--key" && i+1 < len(args):
			flags.APIKey = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--key="):
			flags.APIKey = strings.TrimPrefix(args[i], "--key=")
		}
	}
	return flags
}

// applyFlags layers CLI flags over the loaded config. An API key is
// required from one source or another.
func applyFlags(cfg *config.Config, flags cliFlags) error {
	if flags.Model != "" {
		cfg.LLM.Model = flags.Model
	}
	if flags.APIKey != "" {
		cfg.LLM.APIKey = flags.APIKey
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("%w: API_KEY is not set (use the environment, llm.api_key or --key)", domain.ErrInvalidInput)
	}
	return nil
}

func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("STREAMCHAT_CONFIG"); p != "" {
		return p
	}
	return "streamchat.yaml"
}

func sessionConfig(cfg config.SessionConfig) usecase.SessionConfig {
	return usecase.SessionConfig{
		MaxContextTokens:    cfg.MaxContextTokens,
		TemperatureStep:     cfg.TemperatureStep,
		TemperatureCeiling:  cfg.TemperatureCeiling,
		MaxRateLimitRetries: cfg.MaxRateLimitRetries,
		MaxRetryAfter:       cfg.MaxRetryAfter,
	}
}

