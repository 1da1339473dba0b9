package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"toolhub/internal/agent"
	"toolhub/internal/config"
	"toolhub/internal/llm"
	"toolhub/internal/render"
	"toolhub/internal/server"
	"toolhub/internal/store"
	"toolhub/internal/tools"
	"toolhub/internal/version"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolhub [question]",
		Short:         "toolhub answers questions by orchestrating registered tools",
		Version:       version.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAsk,
	}

	root.PersistentFlags().String("model", "", "model identifier (e.g. openrouter/auto)")
	root.PersistentFlags().Int("max-steps", 0, "maximum agent loop steps")
	root.PersistentFlags().String("timeout", "", "overall run timeout (e.g. 120s)")
	root.PersistentFlags().String("data-dir", "", "directory for persisted tool state")
	root.PersistentFlags().Bool("verbose", false, "verbose output")
	root.PersistentFlags().Bool("quiet", false, "suppress progress output")
	root.Flags().Bool("no-plan", false, "skip the plan step")
	root.Flags().Bool("json", false, "print the full run result as JSON")
	root.Flags().Bool("mock", false, "use the deterministic mock model")

	root.AddCommand(newServeCmd(), newToolsCmd(), newCallCmd())
	return root
}

func runAsk(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide a question, e.g. toolhub \"convert 100 kilometers to miles\"")
	}
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	reg := buildRegistry(db)

	var renderer render.Renderer
	if !cfg.JSON {
		renderer = render.NewStdoutRenderer(os.Stdout, cfg.Verbose, cfg.Quiet, cfg.NoPlan)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var result agent.RunResult
	if intent, ok := agent.Dispatch(question); ok {
		runner := agent.NewAgent(nil, reg, renderer, logger, cfg)
		result, err = runner.RunDirect(ctx, question, intent)
	} else {
		client, clientErr := buildClient(cmd, cfg)
		if clientErr != nil {
			return clientErr
		}
		runner := agent.NewAgent(client, reg, renderer, logger, cfg)
		result, err = runner.Run(ctx, question)
	}

	if cfg.JSON {
		out, marshalErr := json.MarshalIndent(result, "", "  ")
		if marshalErr != nil {
			return marshalErr
		}
		fmt.Println(string(out))
	}
	if err != nil && result.Status != "partial" {
		return err
	}
	persistRun(logger, cfg.DataDir, result)
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool registry over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg.Verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(cfg.StorePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(buildRegistry(db), cfg, logger)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (e.g. :8080)")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.StorePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			for _, desc := range buildRegistry(db).Descriptors() {
				fmt.Printf("%-12s %s\n", desc.Name, desc.Description)
			}
			return nil
		},
	}
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool> [json-input]",
		Short: "Call a tool directly with a JSON input document",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg.Verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(cfg.StorePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			reg := buildRegistry(db)

			tool, ok := reg.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown tool: %s", args[0])
			}

			input := []byte("{}")
			if len(args) == 2 {
				input = []byte(args[1])
			}
			if !json.Valid(input) {
				return fmt.Errorf("input must be valid JSON")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			meta := tools.Meta{
				DataDir:            cfg.DataDir,
				ToolTimeoutSeconds: cfg.ToolLimits.TimeoutSeconds,
				MaxBytes:           cfg.ToolLimits.APIMaxBytes,
				MaxResults:         cfg.ToolLimits.MaxResults,
			}
			res, err := tool.Execute(ctx, input, meta)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res.Payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	return cmd
}

func buildRegistry(db *store.Store) *tools.Registry {
	return tools.NewRegistry(
		tools.NewForecastTool(db),
		tools.NewRoutePlanTool(db),
		tools.NewABTestTool(db),
		tools.NewFlagsTool(db),
		tools.NewAPICheckTool(),
		tools.NewWebScrapeTool(),
		tools.NewConvertTool(),
	)
}

func buildClient(cmd *cobra.Command, cfg config.Config) (llm.Client, error) {
	if mock, _ := cmd.Flags().GetBool("mock"); mock {
		return llm.NewMockClient(), nil
	}
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("set OPENROUTER_API_KEY (or pass --mock)")
	}
	return llm.NewOpenRouterClient(apiKey, cfg.OpenRouterBaseURL, cfg.HTTPReferer, cfg.Title), nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}

func persistRun(logger *zap.Logger, dataDir string, result agent.RunResult) {
	if dataDir == "" {
		return
	}
	dir := filepath.Join(dataDir, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create runs dir", zap.Error(err))
		return
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Warn("failed to marshal run", zap.Error(err))
		return
	}
	path := filepath.Join(dir, result.RunID+".json")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		logger.Warn("failed to persist run", zap.Error(err))
	}
}
