package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPush/config"
	"github.com/sifan077/PowerPush/internal/app/repository"
	"github.com/sifan077/PowerPush/internal/app/service"
	inthttp "github.com/sifan077/PowerPush/internal/http/handler"
	"github.com/sifan077/PowerPush/internal/http/middleware"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs.
type Dependencies struct {
	Logger  *zap.Logger
	Server  config.ServerConfig
	Pushes  config.PushConfig
	Secret  []byte
	Users   repository.UserRepository
	Service service.PushService
	Probes  map[string]inthttp.Probe
	// Limiter is optional; nil disables rate limiting. RateLimit must be the
	// config the limiter was built with.
	Limiter   middleware.Limiter
	RateLimit middleware.RateLimitConfig
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "PowerPush",
		BodyLimit:             deps.Server.BodyLimit,
		ReadTimeout:           deps.Server.ReadTimeout,
		WriteTimeout:          deps.Server.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(deps.Logger),
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS())
	if s.deps.Limiter != nil {
		s.app.Use(middleware.RateLimit(s.deps.Limiter, s.deps.RateLimit, s.deps.Logger))
	}
	s.app.Use(middleware.Authenticate(s.deps.Users, s.deps.Logger))
}

func (s *Server) registerRoutes() {
	healthHandler := inthttp.NewHealthHandler(inthttp.HealthDeps{
		Logger: s.deps.Logger,
		Probes: s.deps.Probes,
	})
	healthHandler.Register(s.app)

	pushHandler := inthttp.NewPushHandler(inthttp.PushDeps{
		Logger:       s.deps.Logger,
		Pushes:       s.deps.Service,
		BaseURL:      s.deps.Server.BaseURL,
		Secret:       s.deps.Secret,
		RetrievalTTL: s.deps.Pushes.RetrievalTTL,
		FileLinkTTL:  s.deps.Pushes.FileLinkTTL,
	})
	pushHandler.Register(s.app)
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			logger.Error("unhandled error", zap.Error(err))
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
