package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig       `envPrefix:"AUTHCORE_APP_"`
	Server    ServerConfig    `envPrefix:"AUTHCORE_SERVER_"`
	Log       LogConfig       `envPrefix:"AUTHCORE_LOG_"`
	Database  DatabaseConfig  `envPrefix:"AUTHCORE_DATABASE_"`
	Redis     RedisConfig     `envPrefix:"AUTHCORE_REDIS_"`
	JWT       JWTConfig       `envPrefix:"AUTHCORE_JWT_"`
	OAuth     OAuthConfig     `envPrefix:"AUTHCORE_OAUTH_"`
	RateLimit RateLimitConfig `envPrefix:"AUTHCORE_RATELIMIT_"`
	Cost      CostConfig      `envPrefix:"AUTHCORE_COST_"`
	Mail      MailConfig      `envPrefix:"AUTHCORE_MAIL_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"authcore"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"localhost"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"authcore.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	URL string `env:"URL" envDefault:"redis://localhost:6379/0"`
	// Timeout bounds every liveness/rate/cost round-trip so a Redis stall
	// degrades into the fail-open/fail-closed policies rather than a hung
	// request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"50ms"`
}

type JWTConfig struct {
	SecretKey     string        `env:"SECRET_KEY,required"`
	Issuer        string        `env:"ISSUER" envDefault:"authcore"`
	AccessExpiry  time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
	RefreshExpiry time.Duration `env:"REFRESH_EXPIRY" envDefault:"168h"`
}

type OAuthConfig struct {
	ExchangeCodeTTL     time.Duration `env:"EXCHANGE_CODE_TTL" envDefault:"30s"`
	StateTTL            time.Duration `env:"STATE_TTL" envDefault:"10m"`
	FrontendCallbackURL string        `env:"FRONTEND_CALLBACK_URL" envDefault:"http://localhost:3000/auth/callback"`
}

type RateLimitConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"true"`
	Period  time.Duration `env:"PERIOD" envDefault:"1m"`
	// Requests per window keyed by role, e.g. "user:30,admin:120".
	RoleLimits  map[string]int `env:"ROLE_LIMITS" envDefault:"user:30,admin:120" envSeparator:"," envKeyValSeparator:":"`
	DefaultRate int            `env:"DEFAULT_RATE" envDefault:"10"`
}

type CostConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
	// Daily monetary ceiling in USD keyed by role, e.g. "user:1.00,admin:20.00".
	RoleCaps   map[string]float64 `env:"ROLE_CAPS" envDefault:"user:1.00,admin:20.00" envSeparator:"," envKeyValSeparator:":"`
	DefaultCap float64            `env:"DEFAULT_CAP" envDefault:"0.50"`
}

type MailConfig struct {
	Enabled     bool   `env:"ENABLED" envDefault:"false"`
	Host        string `env:"HOST" envDefault:"localhost"`
	Port        int    `env:"PORT" envDefault:"587"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
	Encryption  string `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress string `env:"FROM_ADDRESS"`
	FromName    string `env:"FROM_NAME" envDefault:"authcore"`
}

func (c *RateLimitConfig) RateForRole(role string) int {
	if rate, ok := c.RoleLimits[role]; ok {
		return rate
	}
	return c.DefaultRate
}

func (c *CostConfig) CapForRole(role string) float64 {
	if cap, ok := c.RoleCaps[role]; ok {
		return cap
	}
	return c.DefaultCap
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	return env.Parse(cfg)
}
