package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxFileSize = 50 * 1024 * 1024
	DefaultQuality     = 80
)

type Config struct {
	API       APIConfig
	Convert   ConvertConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Trace     TraceConfig
}

type APIConfig struct {
	Addr string `validate:"required"`
}

// ConvertConfig is the immutable per-process conversion policy. It is loaded
// once at startup and passed explicitly into the pipeline.
type ConvertConfig struct {
	MaxFileSize  int64 `validate:"min=1"`
	Quality      int   `validate:"min=1,max=100"`
	Speed        int   `validate:"min=0,max=10"`
	ThumbnailMax int   `validate:"min=16"`
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int           `validate:"min=1"`
	Window   time.Duration `validate:"min=1s"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads the process configuration from the environment. Malformed or
// out-of-range values are a startup error; the process must not come up with
// a half-valid configuration.
func Load() (Config, error) {
	maxFileSize, err := envInt64("MAX_FILE_SIZE", DefaultMaxFileSize)
	if err != nil {
		return Config{}, err
	}
	quality, err := envInt("QUALITY", DefaultQuality)
	if err != nil {
		return Config{}, err
	}
	speed, err := envInt("AVIF_SPEED", 6)
	if err != nil {
		return Config{}, err
	}
	thumbnailMax, err := envInt("THUMBNAIL_MAX_PX", 300)
	if err != nil {
		return Config{}, err
	}
	rateLimitEnabled, err := envBool("RATE_LIMIT_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	rateLimitCapacity, err := envInt("RATE_LIMIT_CAPACITY", 60)
	if err != nil {
		return Config{}, err
	}
	rateLimitWindow, err := envDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	otlpInsecure, err := envBool("OTLP_INSECURE", false)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		API: APIConfig{
			Addr: env("AVIFLOW_ADDR", ":3002"),
		},
		Convert: ConvertConfig{
			MaxFileSize:  maxFileSize,
			Quality:      quality,
			Speed:        speed,
			ThumbnailMax: thumbnailMax,
		},
		RateLimit: RateLimitConfig{
			Enabled:  rateLimitEnabled,
			Capacity: rateLimitCapacity,
			Window:   rateLimitWindow,
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", "localhost:6379"),
			Password: env("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: otlpInsecure,
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) (int, error) {
	value := env(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not an integer", key, value)
	}
	return parsed, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	value := env(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not an integer", key, value)
	}
	return parsed, nil
}

func envBool(key string, fallback bool) (bool, error) {
	value := env(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q is not a boolean", key, value)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := env(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not a duration", key, value)
	}
	return parsed, nil
}
