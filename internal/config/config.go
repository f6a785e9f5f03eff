package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the runtime configuration, populated from the environment.
type Config struct {
	DatabaseURL string        `env:"DATABASE_URL" envDefault:"trustbook.db"`
	JWTSecret   string        `env:"JWT_SECRET,required"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"24h"`
	ListenAddr  string        `env:"LISTEN_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	DefaultAsset string `env:"DEFAULT_ASSET" envDefault:"USD"`

	// Booking/escrow timing knobs.
	ConfirmationWindow time.Duration `env:"CONFIRMATION_WINDOW" envDefault:"24h"`
	AutoReleaseDefault time.Duration `env:"AUTO_RELEASE_DEFAULT" envDefault:"72h"`
	AutoReleaseCeiling time.Duration `env:"AUTO_RELEASE_CEILING" envDefault:"2160h"` // 90 days
	DisputeTimeout     time.Duration `env:"DISPUTE_TIMEOUT" envDefault:"48h"`

	// Fee rates in basis points.
	PlatformFeeRateBp     int64 `env:"PLATFORM_FEE_RATE_BP" envDefault:"250"`
	CancellationFeeRateBp int64 `env:"CANCELLATION_FEE_RATE_BP" envDefault:"500"`
}

// Load reads .env when present, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.PlatformFeeRateBp < 0 || cfg.PlatformFeeRateBp > 10000 {
		return nil, fmt.Errorf("PLATFORM_FEE_RATE_BP out of range: %d", cfg.PlatformFeeRateBp)
	}
	if cfg.CancellationFeeRateBp < 0 || cfg.CancellationFeeRateBp > 2000 {
		return nil, fmt.Errorf("CANCELLATION_FEE_RATE_BP out of range: %d", cfg.CancellationFeeRateBp)
	}
	return cfg, nil
}
