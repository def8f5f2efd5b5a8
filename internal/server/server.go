// Package server contains the HTTP and WebSocket adapter for the comment engine.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"quizthread/internal/config"
	"quizthread/internal/identity"
	"quizthread/internal/middleware"
	"quizthread/internal/models"
	"quizthread/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

const defaultOrigins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"

// Server holds the adapter's dependencies and provides its handlers.
type Server struct {
	config         *config.Config
	comments       *service.CommentService
	redis          *redis.Client
	verifier       *identity.TokenVerifier
	guests         *identity.GuestGenerator
	promMiddleware *fiberprometheus.FiberPrometheus
	app            *fiber.App
}

// NewServer creates a server over comments. redisClient may be nil.
func NewServer(cfg *config.Config, comments *service.CommentService, redisClient *redis.Client) *Server {
	return &Server{
		config:         cfg,
		comments:       comments,
		redis:          redisClient,
		verifier:       identity.NewTokenVerifier(cfg.JWTSecret),
		guests:         identity.NewGuestGenerator(0),
		promMiddleware: middleware.InitMetrics("quizthread"),
	}
}

// App returns the configured Fiber application, building it on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:      "quizthread",
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := strings.Join(s.config.Origins(), ",")
	if origins == "" {
		origins = defaultOrigins
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, " + middleware.GuestNameHeader + ", Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api", middleware.ResolveIdentity(s.verifier, s.guests))

	threads := api.Group("/threads")
	threads.Get("/:threadKey/comments", s.GetThread)
	threads.Post("/:threadKey/comments", s.CreateComment)
	threads.Get("/:threadKey/live", s.UpgradeRequired, s.LiveThreadHandler())

	comments := api.Group("/comments")
	// Specific /:id/:resource routes before the generic /:id routes
	comments.Put("/:id/vote", s.Vote)
	comments.Delete("/:id/vote", s.RemoveVote)
	comments.Post("/:id/reports", s.ReportComment)
	comments.Get("/:id", s.GetComment)
	comments.Patch("/:id", s.EditComment)
	comments.Delete("/:id", s.DeleteComment)
}

// Listen serves on the configured port until Shutdown.
func (s *Server) Listen() error {
	return s.App().Listen(":" + s.config.Port)
}

// Shutdown stops accepting connections and waits for handlers up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	return s.app.ShutdownWithContext(ctx)
}

// LivenessCheck reports that the process is up.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether dependencies are reachable. Redis is optional; when it
// is configured but unreachable, cross-process updates stop and the instance
// reports unhealthy.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":    overallStatus,
		"transport": s.config.Transport,
		"checks": fiber.Map{
			"redis": redisStatus,
		},
		"time": time.Now(),
	})
}

// errorHandler renders errors that escaped the handlers.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	return models.RespondWithError(c, models.StatusFor(err), err)
}
