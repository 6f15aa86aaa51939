package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const probeTimeout = 3 * time.Second

// Probe checks one backing service.
type Probe func(ctx context.Context) error

// HealthDeps groups dependencies required by health handlers.
type HealthDeps struct {
	Logger *zap.Logger
	Probes map[string]Probe
}

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	logger *zap.Logger
	probes map[string]Probe
}

// NewHealthHandler creates a health handler with the provided dependencies.
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger,
		probes: deps.Probes,
	}
}

// Register wires health routes onto the provided router.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
}

// Health is a simple root endpoint so we know the service is running.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "PowerPush",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports whether every backing service answers.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(userContext(c), probeTimeout)
	defer cancel()

	checks := make(fiber.Map, len(h.probes))
	ready := true
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.logger.Warn("readiness probe failed", zap.String("probe", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := fiber.StatusOK
	state := "ready"
	if !ready {
		status = fiber.StatusServiceUnavailable
		state = "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": checks,
	})
}
