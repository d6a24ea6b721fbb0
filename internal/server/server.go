package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/previewd/previewd/internal/api/http"
	"github.com/previewd/previewd/internal/api/middleware"
	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/gateway"
	"github.com/previewd/previewd/internal/infrastructure/config"
	"github.com/previewd/previewd/internal/infrastructure/logging"
	"github.com/previewd/previewd/internal/infrastructure/monitoring"
	"github.com/previewd/previewd/internal/process"
	"github.com/previewd/previewd/internal/session"
	"github.com/previewd/previewd/internal/workspace"
)

// Server wires the gateway's components and owns the HTTP listener.
type Server struct {
	cfg        *config.Config
	log        *logging.Logger
	router     *gin.Engine
	httpServer *http.Server
	gateway    *gateway.Gateway
	catalog    *catalog.Manager
	workspace  *workspace.Adapter
}

// New builds the full component graph from configuration.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	metrics := monitoring.NewMetrics()

	cat := catalog.NewManager()
	loader := catalog.NewLoader(cat, cfg.Apps.Dir, log.Named("catalog"))
	if err := loader.LoadApps(); err != nil {
		return nil, fmt.Errorf("failed to load app catalog: %w", err)
	}

	sup := process.NewSupervisor(process.Config{
		ReadyInterval: cfg.Process.ReadyInterval,
		ReadyTimeout:  cfg.Process.ReadyTimeout,
		StopGrace:     cfg.Process.StopGrace,
		GatewayHost:   cfg.Server.Host,
		GatewayPort:   cfg.Server.Port,
	}, log.Named("process")).WithMetrics(metrics)

	sessions := session.NewRegistry().WithMetrics(metrics)

	gw := gateway.New(
		gateway.Config{ExecuteTimeout: cfg.Protocol.ExecuteTimeout},
		cat, sup, sessions,
		session.URLBuilder{Host: cfg.Server.Host, GatewayPort: cfg.Server.Port},
		log.Named("gateway"),
	).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.Embeddable())
	router.Use(monitoring.Middleware(metrics))

	handlers := api.NewHandlers(gw, cat, sessions, cfg.Server.Port, log.Named("api"))
	static := api.NewStaticRouter(cat, cfg.Apps.SDKDir, log.Named("static"))

	var ctl []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		ctl = append(ctl, middleware.RateLimit(cfg.RateLimit))
	}
	handlers.Register(router, static, gw.HandleWS, ctl...)
	router.GET("/__metrics", monitoring.Handler(metrics))

	return &Server{
		cfg:       cfg,
		log:       log,
		router:    router,
		gateway:   gw,
		catalog:   cat,
		workspace: workspace.NewAdapter(cat, log.Named("workspace")),
	}, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Workspace exposes the workspace preview adapter.
func (s *Server) Workspace() *workspace.Adapter {
	return s.workspace
}

// Run starts the HTTP listener and blocks until it stops.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.log.Info("Gateway listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the gateway down: sessions and connections first so apps
// see a clean protocol closure, then their processes, then the listener.
func (s *Server) Close() error {
	s.gateway.Shutdown()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop listener: %w", err)
		}
	}
	return nil
}
