package http

import (
	"github.com/gofiber/fiber/v2"
)

// Greeting is the body served by GET /api/hi.
const Greeting = "Hello"

// HelloHandler serves the endpoints of the sample application under test.
type HelloHandler struct {
	greeting string
	version  string
}

func NewHelloHandler(version string) *HelloHandler {
	return &HelloHandler{greeting: Greeting, version: version}
}

// Hi answers with the plain-text greeting and nothing else.
func (h *HelloHandler) Hi(c *fiber.Ctx) error {
	return c.SendString(h.greeting)
}

func (h *HelloHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "UP",
		"version": h.version,
	})
}

// NewApp wires the routes of the sample application.
func NewApp(h *HelloHandler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	api := app.Group("/api")
	api.Get("/hi", h.Hi)

	app.Get("/health", h.Health)
	return app
}
