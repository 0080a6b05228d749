package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/yoyo3287258/wol-gateway/internal/config"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
)

// Server is the HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	cfg        *config.Config
	mode       config.Mode
	startTime  time.Time
	logger     zerolog.Logger
}

// NewServer builds the router for mode. Trigger routes exist only when the
// mode runs the trigger, the webhook only when it runs the bot.
func NewServer(handler *Handler, cfg *config.Config, mode config.Mode) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := xlog.WithComponent("http")

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		logger.Warn().Err(err).Str(xlog.FieldEvent, "http.trusted_proxies").Msg("ignoring invalid trusted proxies")
	}

	engine.Use(gin.Recovery())
	engine.Use(TraceIDMiddleware())
	engine.Use(LoggerMiddleware(logger))
	engine.Use(CORSMiddleware())

	engine.Use(IPWhitelistMiddleware(&cfg.Security))
	engine.Use(RateLimitMiddleware(&cfg.Security))

	s := &Server{
		engine:    engine,
		handler:   handler,
		cfg:       cfg,
		mode:      mode,
		startTime: time.Now(),
		logger:    logger,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	cfg := s.cfg

	if s.mode.RunsTrigger() {
		s.engine.GET("/wol", s.handler.Wake)
		s.engine.GET("/ping", s.handler.Ping)
	}

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/health", s.handler.Health)

		if s.mode.RunsTrigger() {
			protected := v1.Group("")
			protected.Use(APITokenAuthMiddleware(&cfg.Security))
			protected.POST("/command", s.handler.Command)
		}

		// the webhook is checked with its own secret, not the API token
		if s.mode.RunsBot() {
			v1.POST("/webhook/telegram", s.handler.TelegramWebhook)
		}
	}

	if cfg.Metrics.Enabled {
		s.engine.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	s.engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/api/v1/health")
	})
}

// Start listens until Stop. A normal shutdown returns nil.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info().
		Str(xlog.FieldEvent, "http.listening").
		Str("addr", addr).
		Str("mode", string(s.mode)).
		Msg("http server started")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down, then waits for in-flight trigger publishes.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.handler.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StartTime is when the server was created.
func (s *Server) StartTime() time.Time {
	return s.startTime
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
