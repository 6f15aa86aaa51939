package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPush/internal/app/model"
	"github.com/sifan077/PowerPush/internal/app/repository"
	"go.uber.org/zap"
)

const (
	UserEmailHeader  = "X-User-Email"
	UserTokenHeader  = "X-User-Token"
	PassphraseHeader = "X-Passphrase"

	userKey = "user"
)

// DigestAPIToken returns the stored form of a raw API token.
func DigestAPIToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves API credentials to a user. Requests without
// credentials continue anonymously; wrong credentials are rejected.
func Authenticate(users repository.UserRepository, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		email := c.Get(UserEmailHeader)
		token := c.Get(UserTokenHeader)
		if email == "" && token == "" {
			return c.Next()
		}
		if email == "" || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "both " + UserEmailHeader + " and " + UserTokenHeader + " are required",
			})
		}

		user, err := users.GetByCredentials(c.UserContext(), email, DigestAPIToken(token))
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid credentials",
				})
			}
			logger.Error("failed to resolve credentials", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal server error",
			})
		}

		c.Locals(userKey, user)
		return c.Next()
	}
}

// RequireUser rejects anonymous requests.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if CurrentUser(c) == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}
		return c.Next()
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *fiber.Ctx) *model.User {
	user, _ := c.Locals(userKey).(*model.User)
	return user
}
