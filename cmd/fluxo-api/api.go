// Package main provides the Fluxo API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/vendelabs/fluxo/pkg/dispatch"
	"github.com/vendelabs/fluxo/pkg/engine"
	"github.com/vendelabs/fluxo/pkg/eventbus"
	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/registry"
	"github.com/vendelabs/fluxo/pkg/triggers"
	"github.com/vendelabs/fluxo/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		registry:    reg,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	dispatcher := dispatch.NewDispatcher(a.logger, a.registry, a.persistence.DispatchRepository())
	eng := engine.NewEngine(a.logger, a.persistence, dispatcher, a.eventBus)
	router := triggers.NewRouter(a.logger, a.persistence, a.eventBus)

	handlers := web.NewAPIHandlers(a.logger, a.persistence, router, eng, a.registry, a.validate, a.eventBus)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Fluxo API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
