package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const loginRatePrefix = "rl:login:"

// LoginRateLimit limits sign-in attempts per email, or per IP when the body
// names none. Without Redis it lets every request through.
func LoginRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Email string `json:"email"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Email))
		if subject == "" {
			subject = c.IP()
		}

		key := loginRatePrefix + subject
		count, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			// Fail open on cache errors.
			logger.Warn("ratelimit.unavailable", slog.Any("error", err))
			return c.Next()
		}
		if count == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if count > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
		}
		return c.Next()
	}
}
