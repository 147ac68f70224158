package middleware

import (
	"strconv"

	"pulse/server/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by Handshake
const (
	LocalUserID         = "userID"
	LocalUsername       = "username"
	LocalConnectionKind = "connectionKind"
)

// Handshake resolves the identity of a websocket client before upgrade.
// With a jwtSecret the user id comes from a signed token (query "token" or
// cookie "token"); without one the caller-supplied "userId" query
// parameter is trusted.
func Handshake(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var userID int64
		username := c.Query("username")

		if jwtSecret != "" {
			tokenString := c.Query("token")
			if tokenString == "" {
				tokenString = c.Cookies("token")
			}
			if tokenString == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Unauthorized - No token provided",
				})
			}

			claims, err := utils.ValidateToken(jwtSecret, tokenString)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Unauthorized - Invalid token",
				})
			}
			userID = claims.UserID
			if username == "" {
				username = claims.Username
			}
		} else {
			id, err := strconv.ParseInt(c.Query("userId"), 10, 64)
			if err != nil || id <= 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "userId must be a positive integer",
				})
			}
			userID = id
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalUsername, username)
		c.Locals(LocalConnectionKind, c.Query("connectionKind"))

		return c.Next()
	}
}

// GetUserID gets the handshake user id from context
func GetUserID(c *fiber.Ctx) int64 {
	userID, ok := c.Locals(LocalUserID).(int64)
	if !ok {
		return 0
	}
	return userID
}
