package testutils

import (
	"time"

	"github.com/tutorstack/authcore/config"
)

// GetTestConfig returns a config with every subsystem enabled and short,
// deterministic TTLs.
func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "authcore-test",
			URL:  "http://localhost:8080",
		},
		JWT: config.JWTConfig{
			SecretKey:     "test-secret-key-that-is-long-enough",
			Issuer:        "authcore-test",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
		},
		OAuth: config.OAuthConfig{
			ExchangeCodeTTL:     30 * time.Second,
			StateTTL:            10 * time.Minute,
			FrontendCallbackURL: "http://localhost:3000/auth/callback",
		},
		RateLimit: config.RateLimitConfig{
			Enabled:     true,
			Period:      time.Minute,
			RoleLimits:  map[string]int{"user": 3, "admin": 10},
			DefaultRate: 2,
		},
		Cost: config.CostConfig{
			Enabled:    true,
			RoleCaps:   map[string]float64{"user": 1.00, "admin": 20.00},
			DefaultCap: 0.50,
		},
		Redis: config.RedisConfig{
			URL:     "redis://localhost:6379/0",
			Timeout: 50 * time.Millisecond,
		},
	}
}
