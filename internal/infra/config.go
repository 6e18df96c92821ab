package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// Gateway connection for the queue-based generation provider.
	GatewayBaseURL  string
	GatewayAPIToken string
	GatewayTimeout  time.Duration

	// CallbackBaseURL is the publicly reachable base of this deployment. When
	// empty the provider cannot push to us and submissions fall back to
	// active polling.
	CallbackBaseURL string

	// Credit pricing per resource kind; kinds not listed use CreditCostDefault.
	CreditCostImage   int
	CreditCostVideo   int
	CreditCostAvatar  int
	CreditCostDefault int

	PollInterval time.Duration
	PollMaxWait  time.Duration

	SweepPeriod     time.Duration
	SweepStaleAfter time.Duration
	SweepFailAfter  time.Duration
	SweepBatchSize  int
	SweepWorkers    int
	SweepQPS        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		GatewayBaseURL:  os.Getenv("GATEWAY_BASE_URL"),
		GatewayAPIToken: os.Getenv("GATEWAY_API_TOKEN"),
		GatewayTimeout:  getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),

		CallbackBaseURL: os.Getenv("CALLBACK_BASE_URL"),

		CreditCostImage:   getEnvInt("CREDIT_COST_IMAGE", 10),
		CreditCostVideo:   getEnvInt("CREDIT_COST_VIDEO", 100),
		CreditCostAvatar:  getEnvInt("CREDIT_COST_AVATAR", 150),
		CreditCostDefault: getEnvInt("CREDIT_COST_DEFAULT", 10),

		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollMaxWait:  getEnvDuration("POLL_MAX_WAIT", 10*time.Minute),

		SweepPeriod:     getEnvDuration("SWEEP_PERIOD", time.Minute),
		SweepStaleAfter: getEnvDuration("SWEEP_STALE_AFTER", 2*time.Minute),
		SweepFailAfter:  getEnvDuration("SWEEP_FAIL_AFTER", 30*time.Minute),
		SweepBatchSize:  getEnvInt("SWEEP_BATCH_SIZE", 100),
		SweepWorkers:    getEnvInt("SWEEP_WORKERS", 4),
		SweepQPS:        getEnvInt("SWEEP_QPS", 5),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.GatewayBaseURL == "" {
		return nil, fmt.Errorf("GATEWAY_BASE_URL is required")
	}

	return cfg, nil
}

// Costs assembles the per-kind credit pricing map consumed by the orchestrator.
func (c *Config) Costs() map[string]int {
	return map[string]int{
		"image":  c.CreditCostImage,
		"video":  c.CreditCostVideo,
		"avatar": c.CreditCostAvatar,
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
