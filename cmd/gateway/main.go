// Command gateway is the LLM gateway server and its operator CLI.
//
// It reads configuration from environment variables, .env and config.yaml in
// the working directory.
//
// Quick-start (in-memory cache, local Ollama):
//
//	./gateway serve
//
// One-shot commands share the same configuration:
//
//	./gateway probe ollama openai
//	./gateway generate --provider ollama --model llama3.2 --text "Bonjour"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/llm-dashboard/internal/app"
	"github.com/nulpointcorp/llm-dashboard/internal/config"
	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Unified gateway in front of local and hosted LLM providers",
		Version:       version,
		SilenceUsage:  true,
	}
	root.AddCommand(newServeCmd(), newProbeCmd(), newGenerateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Run(cmd.Context()); err != nil {
				logger.Error("gateway stopped", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [provider...]",
		Short: "Probe provider reachability and list their models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range args {
				if !llm.IsKnownProvider(name) {
					return fmt.Errorf("unknown provider %q", name)
				}
			}

			a.Health().ProbeAll(cmd.Context(), args...)
			snapshots := a.Health().All()
			if len(args) > 0 {
				want := make(map[string]bool, len(args))
				for _, n := range args {
					want[n] = true
				}
				filtered := snapshots[:0]
				for _, s := range snapshots {
					if want[s.Provider] {
						filtered = append(filtered, s)
					}
				}
				snapshots = filtered
			}
			return printJSON(cmd, snapshots)
		},
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		req     llm.GenerationRequest
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a single generation through the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Gateway().GenerateDetailed(cmd.Context(), req, timeout)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				llm.GenerationResult
				Source gateway.Source `json:"source"`
			}{out.Result, out.Source})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Provider, "provider", llm.ProviderOllama, "provider name")
	f.StringVar(&req.Model, "model", "", "model name")
	f.StringVar(&req.Text, "text", "", "prompt text")
	f.StringVar(&req.Params.System, "system", "", "system instruction")
	f.Float64Var(&req.Params.Temperature, "temperature", 0, "sampling temperature")
	f.IntVar(&req.Params.MaxTokens, "max-tokens", 0, "output token limit")
	f.DurationVar(&timeout, "timeout", 0, "generation timeout (default from GENERATE_TIMEOUT)")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

// bootstrap loads configuration and builds the application.
func bootstrap(ctx context.Context) (*app.App, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	// All subsystems share this instance.
	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return nil, nil, err
	}
	return a, logger, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO. Logs go to stderr so one-shot
// commands keep stdout for their JSON output.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug, // include file:line only in debug mode
	}))
}
