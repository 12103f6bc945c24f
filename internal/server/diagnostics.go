package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/stampede-cache/stampede/internal/cache"
	"github.com/stampede-cache/stampede/internal/logging"
	"github.com/stampede-cache/stampede/internal/storage"
	"github.com/stampede-cache/stampede/internal/version"
)

// registerDiagnostics 暴露 /-/ 诊断接口，供运维查询与失效缓存条目。
// 固定路径必须先于通配路径注册。
func registerDiagnostics(app *fiber.App, opts AppOptions) {
	caps := storage.CapabilitiesOf(opts.Storage)

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/capabilities", func(c fiber.Ctx) error {
		defaults, err := opts.Options("")
		if err != nil {
			return renderError(c, opts.Logger, "capabilities", "", err)
		}
		return c.JSON(fiber.Map{
			"capabilities": caps.Names(),
			"options":      defaults.Map(),
		})
	})

	app.Delete("/-/entries", func(c fiber.Ctx) error {
		if err := opts.Storage.Clear(requestContext(c)); err != nil {
			return renderError(c, opts.Logger, "clear", "", err)
		}
		opts.Logger.WithFields(logrus.Fields{"action": "clear", "request_id": RequestID(c)}).Info("storage cleared")
		return c.JSON(fiber.Map{"cleared": true})
	})

	app.Get("/-/entries/*", func(c fiber.Ctx) error {
		key, ok := entryKey(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		}
		itemOpts, err := opts.Options(key)
		if err != nil {
			return renderError(c, opts.Logger, "inspect", key, err)
		}
		report, err := cache.Inspect(requestContext(c), opts.Storage, key, itemOpts)
		if err != nil {
			return renderError(c, opts.Logger, "inspect", key, err)
		}
		opts.Logger.WithFields(logging.EntryFields(key, report.Exists, report.Capabilities)).Debug("entry inspected")
		return c.JSON(report)
	})

	app.Delete("/-/entries/*", func(c fiber.Ctx) error {
		key, ok := entryKey(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		}
		deleted, err := opts.Storage.Delete(requestContext(c), key)
		if err != nil {
			return renderError(c, opts.Logger, "delete", key, err)
		}
		return c.JSON(fiber.Map{"key": key, "deleted": deleted})
	})

	app.Delete("/-/namespaces/*", func(c fiber.Ctx) error {
		namespace, ok := entryKey(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "namespace_required"})
		}
		if err := caps.ClearNamespace(requestContext(c), namespace); err != nil {
			return renderError(c, opts.Logger, "clear_namespace", namespace, err)
		}
		opts.Logger.WithFields(logrus.Fields{
			"action":     "clear_namespace",
			"namespace":  namespace,
			"request_id": RequestID(c),
		}).Info("namespace cleared")
		return c.JSON(fiber.Map{"namespace": namespace, "cleared": true})
	})
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func entryKey(c fiber.Ctx) (string, bool) {
	key := strings.Trim(c.Params("*"), "/")
	return key, key != ""
}

// renderError 将存储层错误映射为 HTTP 状态码与稳定的错误码。
func renderError(c fiber.Ctx, logger *logrus.Logger, action, key string, err error) error {
	status, code := fiber.StatusInternalServerError, "storage_error"
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		status, code = fiber.StatusBadRequest, "invalid_key"
	case errors.Is(err, cache.ErrInvalidOption), errors.Is(err, cache.ErrInvalidArgument):
		status, code = fiber.StatusBadRequest, "invalid_option"
	case errors.Is(err, storage.ErrUnsupported):
		status, code = fiber.StatusNotImplemented, "unsupported"
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"action":     action,
		"key":        key,
		"status":     status,
		"request_id": RequestID(c),
	}).Warn("diagnostics request failed")

	return c.Status(status).JSON(fiber.Map{"error": code})
}
