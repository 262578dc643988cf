package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"futures-trading-agent/internal/auth"
	"futures-trading-agent/internal/circuit"
	"futures-trading-agent/internal/control"
	"futures-trading-agent/internal/database"
	"futures-trading-agent/internal/events"
	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/presentation"
	"futures-trading-agent/internal/risk"
	"futures-trading-agent/internal/scheduler"
)

// RateLimiter applies a token bucket per client key
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

// NewRateLimiter allows limit requests per window per key
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.every, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// StatusProvider exposes scheduler state.
type StatusProvider interface {
	Status() scheduler.Status
}

// TradeHistory serves stored trades.
type TradeHistory interface {
	RecentTrades(ctx context.Context, symbol string, limit int) ([]database.Trade, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker func(ctx context.Context) error

// Deps wires the server to the agent. Only View and Flags are required.
type Deps struct {
	View      *presentation.Store
	Scheduler StatusProvider
	Flags     control.Source
	Breaker   *circuit.Breaker
	Risk      *risk.Gate
	History   TradeHistory
	Bus       *events.EventBus
	Auth      *auth.Service // nil leaves control endpoints open
	Health    map[string]HealthChecker
	Logger    *logging.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestsPerMin int
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	deps        Deps
	hub         *WSHub
	rateLimiter *RateLimiter
	logger      *logging.Logger
	started     time.Time
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.RequestsPerMin <= 0 {
		config.RequestsPerMin = 120
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Trace-ID"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      config,
		deps:        deps,
		hub:         NewWSHub(logger),
		rateLimiter: NewRateLimiter(config.RequestsPerMin, time.Minute),
		logger:      logger.WithComponent("api"),
		started:     time.Now(),
	}

	go s.hub.Run()
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(s.hub.BroadcastEvent)
	}
	if deps.View != nil {
		deps.View.OnUpdate(s.hub.BroadcastView)
	}

	s.setupRoutes()
	return s
}

// ParseOrigins splits a comma-separated origin list.
func ParseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/view", s.handleView)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/messages", s.handleMessages)
		api.GET("/risk", s.handleRisk)
		api.GET("/ws", s.handleWebSocket)
	}

	if s.deps.Auth != nil {
		api.POST("/auth/login", auth.NewHandlers(s.deps.Auth).Login)
	}

	ctl := api.Group("/control")
	if s.deps.Auth != nil {
		ctl.Use(auth.Middleware(s.deps.Auth.JWT()))
	} else {
		s.logger.Warn("auth disabled, control endpoints are unprotected")
	}
	{
		ctl.POST("/pause", s.handlePause)
		ctl.POST("/resume", s.handleResume)
		ctl.POST("/emergency-close", s.handleEmergencyClose)
		ctl.POST("/circuit-breaker/reset", s.handleBreakerReset)
	}
}

// rateLimitMiddleware limits requests per client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout, writeTimeout := s.config.ReadTimeout, s.config.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.hub.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// operator names the caller of a control endpoint for the audit log.
func (s *Server) operator(c *gin.Context) string {
	if s.deps.Auth == nil {
		return "anonymous"
	}
	return auth.GetUsername(c)
}
