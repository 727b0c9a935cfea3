package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/learndebug/internal/metrics"
	"github.com/abhisek/learndebug/internal/server"
	"github.com/abhisek/learndebug/internal/tracing"
)

const dbPingTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides LEARNDEBUG_ADDR, default :5000)")
	_ = v.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log, tracing.Config{
		Exporter:    cfg.Tracing,
		ServiceName: "learndebug",
		Environment: cfg.Env,
		Version:     buildVersion(),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	err = s.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	log.Info("database ready", "dialect", s.Dialect())

	m := metrics.New()
	deps := server.Deps{
		Diagnoses: s.Diagnoses(),
		Logger:    log,
		Metrics:   m,
	}

	pipeline, err := newPipeline(ctx, cfg, s, log, m)
	if err != nil {
		log.Warn("model provider not configured, diagnoses are disabled", "provider", cfg.LLM.Provider, "error", err)
	} else {
		deps.Diagnoser = pipeline
		log.Info("model provider ready", "provider", cfg.LLM.Provider, "model", cfg.LLM.ModelName())
	}

	srv := server.New(server.Config{
		Addr:           cfg.Addr,
		Production:     cfg.Production(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		ServiceName:    "learndebug",
	}, deps)
	return srv.Run(ctx)
}
