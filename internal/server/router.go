package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stampede-cache/stampede/internal/cache"
	"github.com/stampede-cache/stampede/internal/storage"
)

// OptionsResolver returns the item options that apply to key.
type OptionsResolver func(key string) (cache.Options, error)

// AppOptions controls how the diagnostics application behaves.
type AppOptions struct {
	Logger  *logrus.Logger
	Storage storage.Storage
	// Options defaults to cache.DefaultOptions for every key.
	Options OptionsResolver
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	ReadTimeout time.Duration
}

const contextKeyRequestID = "_stampede_request_id"

// NewApp builds a Fiber application with recovery, request IDs and the
// diagnostics routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Options == nil {
		opts.Options = func(string) (cache.Options, error) { return cache.DefaultOptions(), nil }
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ReadTimeout:   opts.ReadTimeout,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	registerDiagnostics(app, opts)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		logger.WithFields(logrus.Fields{
			"action":     "request",
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"request_id": reqID,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Debug("diagnostics request")
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
