package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/derma/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/derma/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/derma/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/derma/internal/config"
	"github.com/saturnino-fabrica-de-software/derma/internal/snapshot"
)

// multipart framing and form fields on top of the image itself
const bodyOverhead = 64 * 1024

type Dependencies struct {
	Analysis handler.AnalysisService
	Bundles  *snapshot.Holder
	Reloader handler.Reloader
	// DB is pinged by /ready; nil when running without Postgres
	DB            handler.Pinger
	RateLimit     config.RateLimitConfig
	MaxImageBytes int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	bodyLimit := fiber.DefaultBodyLimit
	if deps != nil && deps.MaxImageBytes > 0 {
		bodyLimit = deps.MaxImageBytes + bodyOverhead
	}

	cfg := fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Derma API",
		BodyLimit:    bodyLimit,
	}
	if deps != nil {
		cfg.ReadTimeout = deps.ReadTimeout
		cfg.WriteTimeout = deps.WriteTimeout
	}

	return &Router{
		app:    fiber.New(cfg),
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Swagger documentation
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check endpoints; without dependencies /ready reports unavailable
	bundles := snapshot.NewHolder()
	var db handler.Pinger
	if r.deps != nil {
		if r.deps.Bundles != nil {
			bundles = r.deps.Bundles
		}
		db = r.deps.DB
	}
	healthHandler := handler.NewHealthHandler(bundles, db)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps == nil {
		return
	}

	v1 := r.app.Group("/v1")

	// Rate limiting (per client IP)
	if r.deps.RateLimit.Enabled {
		rlConfig := middleware.DefaultRateLimiterConfig()
		rlConfig.Max = r.deps.RateLimit.PerMinute
		if r.deps.RateLimit.Window > 0 {
			rlConfig.Window = r.deps.RateLimit.Window
		}
		rlConfig.PerEndpoint = middleware.EndpointRateLimits(r.deps.RateLimit.PerMinute)
		r.rateLimiter = middleware.NewRateLimiter(rlConfig)
		v1.Use(r.rateLimiter.Handler())
	}

	analysisHandler := handler.NewAnalysisHandler(r.deps.Analysis, int64(r.deps.MaxImageBytes), r.logger)
	v1.Post("/analyze", analysisHandler.Analyze)

	corpusHandler := handler.NewCorpusHandler(r.deps.Bundles, r.deps.Reloader, r.logger)
	v1.Get("/corpus", corpusHandler.Info)
	v1.Post("/corpus/reload", corpusHandler.Reload)
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	// Stop rate limiter cleanup goroutine
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}

	return r.app.Shutdown()
}
