package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/promptforge/admission-gateway/internal/config"
	"github.com/promptforge/admission-gateway/internal/handler"
	"github.com/promptforge/admission-gateway/internal/middleware"
	"github.com/promptforge/admission-gateway/internal/proxy"
	"github.com/promptforge/admission-gateway/internal/ratelimit"
	"github.com/promptforge/admission-gateway/internal/repository"
	"github.com/promptforge/admission-gateway/internal/service"
	"github.com/promptforge/admission-gateway/internal/storage"
)

type Server struct {
	router           *gin.Engine
	config           *config.Config
	limiter          *ratelimit.Limiter
	rateLimitHandler *handler.RateLimitHandler
	upstream         *proxy.Proxy
	httpServer       *http.Server
	log              *logrus.Logger
}

// Deps carries the wired collaborators. Redis may be nil, in which
// case the limiter runs on the in-process store (single-instance only).
type Deps struct {
	Redis    *storage.RedisClient
	Postgres *storage.Postgres
	Log      *logrus.Logger
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	registry := buildRegistry(cfg)

	var store ratelimit.CounterStore
	if deps.Redis != nil {
		store = ratelimit.NewRedisCounterStore(deps.Redis, cfg.RateLimit.KeyPrefix)
	} else {
		log.Warn("running on in-process counters: quota is per instance, not fleet-wide")
		store = ratelimit.NewMemoryCounterStore()
	}

	limiter := ratelimit.NewLimiter(registry, store,
		ratelimit.WithStrictMode(cfg.RateLimit.StrictMode),
		ratelimit.WithLogger(log),
	)

	var resolver service.TierResolver = service.StaticTierResolver{Tier: ratelimit.DefaultTier}
	if deps.Postgres != nil {
		resolver = service.NewDBTierResolver(repository.NewUserRepository(deps.Postgres), deps.Redis, log)
	}

	upstream, err := proxy.New(cfg.Upstream.Target)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:           gin.New(),
		config:           cfg,
		limiter:          limiter,
		rateLimitHandler: handler.NewRateLimitHandler(limiter),
		upstream:         upstream,
		log:              log,
	}

	s.setupMiddleware(resolver)
	s.setupRoutes()

	return s, nil
}

func buildRegistry(cfg *config.Config) *ratelimit.Registry {
	var opts []ratelimit.Option
	if len(cfg.RateLimit.BypassPaths) > 0 {
		opts = append(opts, ratelimit.WithBypass(cfg.RateLimit.BypassPaths...))
	}
	if len(cfg.RateLimit.BypassPrefixes) > 0 {
		opts = append(opts, ratelimit.WithBypassPrefix(cfg.RateLimit.BypassPrefixes...))
	}
	return ratelimit.NewRegistry(opts...)
}

func (s *Server) setupMiddleware(resolver service.TierResolver) {
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.log))
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.Auth(service.NewAuthService(s.config.Auth.JWTSecret)))
	s.router.Use(middleware.RateLimit(s.limiter, resolver, s.log))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	admin := s.router.Group("/admin/ratelimit")
	{
		admin.GET("/status", s.rateLimitHandler.Status)
		admin.POST("/reset", s.rateLimitHandler.Reset)
		admin.GET("/health", s.rateLimitHandler.Health)
	}

	// Everything else is dispatched to the protected upstream API.
	s.router.NoRoute(s.upstream.Handle)
}

func (s *Server) healthCheck(c *gin.Context) {
	report := s.limiter.Health(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"store_reachable": report.StoreReachable,
		"upstream":        s.upstream.Target(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.log.WithFields(logrus.Fields{
		"addr":        addr,
		"environment": s.config.Server.Environment,
	}).Info("gateway listening")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
