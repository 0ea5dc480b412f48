package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/middleware/tokenauth"
	"github.com/tutorstack/authcore/services/logging"
	"go.uber.org/zap"
)

var errUnexpectedReply = errors.New("unexpected rate limit store reply")

// Config describes one rate-limited route class. The per-role request
// budget comes from configuration; KeyGenerator and OnLimitReached have
// sensible defaults.
type Config struct {
	Store          Store
	RateLimit      *config.RateLimitConfig
	RouteClass     string
	Logger         *logging.Service
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context, retryAfter time.Duration) error
}

// Middleware enforces a fixed request window per user per route class.
//
// The counter is bumped before the cap comparison and stays bumped on
// rejection, so a tight retry loop cannot reset its own window. Rate
// limiting is not security-critical: on a store error the request passes
// with a logged warning (fail open).
func Middleware(cfg *Config) echo.MiddlewareFunc {
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator(cfg.RouteClass)
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.RateLimit.Enabled {
				return next(c)
			}

			rate := cfg.RateLimit.RateForRole(tokenauth.GetRole(c))
			key := cfg.KeyGenerator(c)

			count, remaining, err := cfg.Store.Increment(c.Request().Context(), key, cfg.RateLimit.Period)
			if err != nil {
				cfg.Logger.Warn("rate limit store unavailable, admitting request",
					zap.String("key", key),
					zap.Error(err))
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(rate))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(rate-count, 0)))

			if count > rate {
				return cfg.OnLimitReached(c, remaining)
			}

			return next(c)
		}
	}
}

// DefaultKeyGenerator keys the window by authenticated user and route
// class, falling back to client IP for unauthenticated routes.
func DefaultKeyGenerator(routeClass string) func(c echo.Context) string {
	return func(c echo.Context) string {
		if userID := tokenauth.GetUserID(c); userID != 0 {
			return fmt.Sprintf("rate:%d:%s", userID, routeClass)
		}

		ip := c.RealIP()
		if ip == "" {
			ip = "unknown"
		}
		return fmt.Sprintf("rate:ip:%s:%s", ip, routeClass)
	}
}

func DefaultOnLimitReached(c echo.Context, retryAfter time.Duration) error {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))

	return echo.NewHTTPError(http.StatusTooManyRequests, echo.Map{
		"code":        "rate_limited",
		"message":     "Too many requests",
		"retry_after": seconds,
	})
}
