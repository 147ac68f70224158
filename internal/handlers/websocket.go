package handlers

import (
	"context"
	"strconv"

	"pulse/server/internal/middleware"
	ws "pulse/server/internal/websocket"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WebSocketHandler serves relay connections and their diagnostics
type WebSocketHandler struct {
	// base is the server lifetime context; each connection derives its own.
	base context.Context
	hub  *ws.Hub
}

// NewWebSocketHandler creates a handler serving connections through hub
func NewWebSocketHandler(base context.Context, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{base: base, hub: hub}
}

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}

	return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
		"success": false,
		"error":   "WebSocket upgrade required",
	})
}

// Serve handles one upgraded connection until it closes
func (h *WebSocketHandler) Serve(c *websocket.Conn) {
	userID, _ := c.Locals(middleware.LocalUserID).(int64)
	username, _ := c.Locals(middleware.LocalUsername).(string)
	kind, _ := c.Locals(middleware.LocalConnectionKind).(string)

	h.hub.Serve(h.base, c, ws.Identity{
		UserID:   userID,
		Username: username,
		Kind:     kind,
	})
}

// Stats returns WebSocket connection statistics
func (h *WebSocketHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"onlineUsers": h.hub.Registry.OnlineCount(),
			"connections": h.hub.Registry.ConnectionCount(),
			"userIds":     h.hub.Registry.OnlineUsers(),
		},
	})
}

// Presence reports whether a single user is connected
func (h *WebSocketHandler) Presence(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "userId must be a positive integer",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"userId": userID,
			"online": h.hub.Registry.IsOnline(userID),
		},
	})
}
