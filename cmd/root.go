package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/abhisek/learndebug/internal/config"
	"github.com/abhisek/learndebug/internal/diagnosis"
	"github.com/abhisek/learndebug/internal/extract"
	"github.com/abhisek/learndebug/internal/llm"
	"github.com/abhisek/learndebug/internal/logger"
	"github.com/abhisek/learndebug/internal/metrics"
	"github.com/abhisek/learndebug/internal/store"
)

// v carries flag, environment and .env settings for every command.
var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "learndebug",
	Short: "Diagnose why a learner's explanation falls short",
	Long: "learndebug reads a learner's explanation of a concept, asks a language model for the\n" +
		"root cause of the gap and a Socratic repair question, and keeps the history per session.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(".env")
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Database path or PostgreSQL DSN (overrides LEARNDEBUG_DB)")
	rootCmd.PersistentFlags().String("provider", "", "Model provider: gemini, openai, anthropic, openrouter or mock (overrides LEARNDEBUG_LLM_PROVIDER)")
	_ = v.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("llm_provider", rootCmd.PersistentFlags().Lookup("provider"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveDBPath returns the --db flag or LEARNDEBUG_DB when set, then the
// default XDG path.
func resolveDBPath(cfg *config.Config) (string, error) {
	if cfg.DB != "" {
		return cfg.DB, store.EnsureDir(cfg.DB)
	}
	return store.DefaultDBPath()
}

func openStore(cfg *config.Config) (*store.Store, error) {
	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.LogMode, logger.WithRedaction(cfg.LogRedaction, cfg.LogSalt))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// newPipeline wires the configured model provider into a diagnosis
// pipeline. It fails when the provider has no API key. m may be nil.
func newPipeline(ctx context.Context, cfg *config.Config, s *store.Store, log *logger.Logger, m *metrics.Metrics) (*diagnosis.Pipeline, error) {
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}

	llmDeps := llm.Deps{
		Logger: log,
		Events: s.LLMEvents(),
		Tracer: otel.Tracer("github.com/abhisek/learndebug/internal/llm"),
	}
	if m != nil {
		llmDeps.Observer = m
	}
	provider, err := llm.NewProvider(ctx, cfg.LLM, llmDeps)
	if err != nil {
		return nil, err
	}

	invCfg := diagnosis.DefaultInvokerConfig()
	invCfg.Retry = cfg.LLM.Retry
	if cfg.LLM.Timeout > 0 {
		invCfg.Timeout = cfg.LLM.Timeout
	}

	deps := diagnosis.Deps{
		Extractor: extract.New(extract.WithPDFAsText(cfg.PDFAsText), extract.WithLogger(log)),
		Invoker:   diagnosis.NewInvoker(provider, invCfg, log),
		Store:     s.Diagnoses(),
		Logger:    log,
	}
	if m != nil {
		deps.Observer = m
	}
	return diagnosis.NewPipeline(deps), nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
