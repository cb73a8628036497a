package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/bbn/patchbay/internal/config"
	"github.com/bbn/patchbay/internal/engine"
	"github.com/bbn/patchbay/internal/gear"
	"github.com/bbn/patchbay/internal/llm"
	"github.com/bbn/patchbay/internal/server"
	"github.com/bbn/patchbay/internal/store"
	"github.com/bbn/patchbay/internal/urlguard"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  patchbay serve [--addr <host:port>] [--config <file.yaml>] [--dev]")
}

func serve(args []string) {
	var addr string
	var configPath string
	var dev bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--dev":
			dev = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	// Best-effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if dev {
		cfg.Dev = true
	}

	logger := newLogger(cfg.Dev)

	guard := urlguard.New(cfg.AllowHosts)
	st := store.NewMemory()
	client := newLLMClient(cfg, logger)

	bus := server.NewStatusBus()
	fwd := gear.NewForwarder(guard, cfg.PublicOrigin, logger)
	gears := gear.NewService(st, client, fwd, bus, logger)

	runner := engine.NewRunner(guard, logger)
	runner.DevMode = cfg.Dev

	srv := server.New(server.Config{Addr: cfg.Addr, DevMode: cfg.Dev}, st, gears, runner, bus, logger)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func newLogger(dev bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if dev {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// newLLMClient selects the completion backend. In dev mode a missing API key
// falls back to the scripted client so the server still runs end to end.
func newLLMClient(cfg config.Config, logger zerolog.Logger) llm.Client {
	if cfg.LLM.Provider == "scripted" {
		return &llm.Scripted{}
	}
	key := cfg.APIKey()
	if key == "" {
		if cfg.Dev {
			logger.Warn().Str("env", cfg.LLM.APIKeyEnv).Msg("no API key set, using scripted LLM")
			return &llm.Scripted{}
		}
		fmt.Fprintf(os.Stderr, "environment variable %s must be set (or run with --dev)\n", cfg.LLM.APIKeyEnv)
		os.Exit(1)
	}
	return llm.NewOpenAI(key, cfg.LLM.Model)
}
