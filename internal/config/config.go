package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration sourced from AUTHGRID_* environment
// variables.
type Config struct {
	Addr     string
	GRPCAddr string
	PGDSN    string

	JWTSecret string
	JWTTTL    time.Duration

	RateBurst  int
	RatePerSec int

	Version string
	Commit  string
}

const envPrefix = "AUTHGRID_"

// Load reads an optional .env file, then builds the configuration from the
// environment. JWT_SECRET is the only required variable.
func Load() (Config, error) {
	// Missing .env is fine; the environment wins over file values.
	_ = godotenv.Load()

	cfg := Config{
		Addr:       getEnv("ADDR", ":8080"),
		GRPCAddr:   getEnv("GRPC_ADDR", ":9090"),
		PGDSN:      getEnv("PG_DSN", ""),
		JWTSecret:  getEnv("JWT_SECRET", ""),
		Version:    getEnv("VERSION", "dev"),
		Commit:     getEnv("COMMIT", "unknown"),
		RateBurst:  20,
		RatePerSec: 10,
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("%sJWT_SECRET is required", envPrefix)
	}

	ttl, err := getDuration("JWT_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.JWTTTL = ttl

	if cfg.RateBurst, err = getInt("RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = getInt("RATE_PER_SEC", cfg.RatePerSec); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s must be positive", envPrefix, key)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s%s must be positive", envPrefix, key)
	}
	return n, nil
}
