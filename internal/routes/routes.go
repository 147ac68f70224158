package routes

import (
	"pulse/server/internal/config"
	"pulse/server/internal/handlers"
	"pulse/server/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, cfg *config.Config, wsHandler *handlers.WebSocketHandler) {
	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Pulse relay is running",
		})
	})

	api.Get("/presence/:userId", wsHandler.Presence)
	api.Get("/ws/stats", wsHandler.Stats)

	api.Get("/ws",
		middleware.Handshake(cfg.JWTSecret),
		middleware.RateLimiter(cfg.Server.HandshakeLimit, cfg.Server.HandshakeEvery),
		handlers.WebSocketUpgrade,
		websocket.New(wsHandler.Serve, websocket.Config{
			Origins: cfg.Server.SocketOrigins,
		}),
	)
}
