package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/internal/agent/providers"
	"github.com/haasonsaas/mailpilot/internal/config"
	"github.com/haasonsaas/mailpilot/internal/gmail"
	"github.com/haasonsaas/mailpilot/internal/observability"
	"github.com/haasonsaas/mailpilot/internal/snooze"
	"github.com/haasonsaas/mailpilot/internal/tools"
	"github.com/haasonsaas/mailpilot/internal/tools/mailsearch"
	"github.com/haasonsaas/mailpilot/internal/tools/websearch"
	"github.com/haasonsaas/mailpilot/internal/web"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mailpilot server",
		Long: `Start the mailpilot server.

The server exposes the streaming chat endpoint at /api/chat, health at
/healthz, and Prometheus metrics at /metrics. Graceful shutdown is
handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	registry, err := agent.NewRegistry()
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	executor := buildExecutor(cfg, logger)

	loopConfig := &agent.LoopConfig{
		MaxIterations: cfg.LLM.MaxIterations,
		MaxTokens:     cfg.LLM.MaxTokens,
		Logger:        logger,
		Metrics:       metrics,
	}

	controllers, err := buildControllers(cfg, registry, executor, loopConfig)
	if err != nil {
		return err
	}

	server, err := web.NewServer(web.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		DefaultProvider: cfg.LLM.DefaultProvider,
	}, controllers, logger, metrics)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildExecutor wires the server tool implementations.
func buildExecutor(cfg *config.Config, logger *slog.Logger) *tools.Executor {
	searcher := websearch.NewSearcher(websearch.Config{
		SearXNGURL: cfg.Tools.SearXNGURL,
		MaxResults: cfg.Tools.SearchMaxResults,
		CacheTTL:   cfg.Tools.SearchCacheTTL,
	})
	fetcher := websearch.NewFetcher()

	gmailClient := gmail.NewClient(gmail.Config{BaseURL: cfg.Tools.GmailBaseURL})
	mailFetcher := mailsearch.NewFetcher(gmailClient, logger)

	return tools.NewExecutor(searcher, fetcher, mailFetcher, snooze.NewStore(), logger)
}

// buildControllers creates one loop controller per configured provider.
// At least one provider needs an API key.
func buildControllers(cfg *config.Config, registry *agent.Registry, executor *tools.Executor, loopConfig *agent.LoopConfig) (map[string]*agent.Controller, error) {
	controllers := make(map[string]*agent.Controller)

	if cfg.LLM.Anthropic.APIKey != "" {
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:        cfg.LLM.Anthropic.APIKey,
			DefaultModel:  cfg.LLM.Anthropic.DefaultModel,
			FallbackModel: cfg.LLM.Anthropic.FallbackModel,
		})
		if err != nil {
			return nil, err
		}
		controllers[provider.Name()] = agent.NewController(provider, registry, executor, loopConfig)
	}

	if cfg.LLM.OpenAI.APIKey != "" {
		provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:        cfg.LLM.OpenAI.APIKey,
			DefaultModel:  cfg.LLM.OpenAI.DefaultModel,
			FallbackModel: cfg.LLM.OpenAI.FallbackModel,
		})
		if err != nil {
			return nil, err
		}
		controllers[provider.Name()] = agent.NewController(provider, registry, executor, loopConfig)
	}

	if len(controllers) == 0 {
		return nil, fmt.Errorf("no provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	if _, ok := controllers[cfg.LLM.DefaultProvider]; !ok {
		for name := range controllers {
			cfg.LLM.DefaultProvider = name
			break
		}
	}

	return controllers, nil
}
