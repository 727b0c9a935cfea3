// Package server exposes the diagnosis pipeline and stored history over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/learndebug/internal/diagnosis"
	"github.com/abhisek/learndebug/internal/logger"
	"github.com/abhisek/learndebug/internal/metrics"
	"github.com/abhisek/learndebug/internal/store"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	shutdownTimeout       = 10 * time.Second
)

// Diagnoser runs one learner turn through the diagnosis pipeline.
type Diagnoser interface {
	Run(ctx context.Context, in diagnosis.Input) (*diagnosis.Result, error)
}

// Config holds the HTTP surface settings.
type Config struct {
	Addr           string
	Production     bool
	MaxUploadBytes int64
	CORSOrigins    []string
	ServiceName    string
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	// Diagnoser is nil when no model provider is configured.
	Diagnoser Diagnoser
	Diagnoses store.DiagnosisRepo
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// Server is the learndebug HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	log    *logger.Logger
	engine *gin.Engine
}

// New builds the router and its middleware chain.
func New(cfg Config, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "learndebug"
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, deps: deps, log: log}
	s.engine = s.newRouter()
	return s
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.cfg.ServiceName))
	r.Use(RequestID())
	r.Use(CORS(s.cfg.CORSOrigins))
	r.Use(Metrics(s.deps.Metrics))
	r.Use(RequestLogger(s.log))

	h := &handlers{
		diagnoser:      s.deps.Diagnoser,
		diagnoses:      s.deps.Diagnoses,
		production:     s.cfg.Production,
		maxUploadBytes: s.cfg.MaxUploadBytes,
	}

	api := r.Group("/api")
	{
		api.GET("/health", h.health)
		api.POST("/diagnose", h.diagnose)
		api.GET("/history/:userId", h.history)
		api.GET("/session/:sessionId", h.session)
		api.DELETE("/diagnostic/:id", h.deleteDiagnostic)
	}

	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
