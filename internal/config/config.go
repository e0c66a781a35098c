package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the jobpoll server and worker.
type Config struct {
	Server        ServerConfig
	Broker        BrokerConfig
	ResultBackend ResultBackendConfig
	Worker        WorkerConfig
	Analyze       AnalyzeConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	// EmbeddedWorker runs a worker pool inside the API process.
	EmbeddedWorker bool
}

type BrokerConfig struct {
	URL       string
	QueueName string
	// RetryOnStartup makes startup retry the initial broker connection
	// instead of failing on the first error.
	RetryOnStartup bool
	MaxRetries     int
}

type ResultBackendConfig struct {
	URL string
	// RecordTTL bounds how long job records are kept by backends that
	// support expiry. Zero keeps records forever.
	RecordTTL       time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type WorkerConfig struct {
	ID          string
	Concurrency int
	LeaseTTL    time.Duration
	DequeueWait time.Duration
}

type AnalyzeConfig struct {
	StepMin time.Duration
	StepMax time.Duration
}

const defaultRedisURL = "redis://localhost:6379"

var validSchemes = map[string]bool{
	"redis":      true,
	"rediss":     true,
	"postgres":   true,
	"postgresql": true,
	"memory":     true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("JOBPOLL_PORT", 8080),
			Env:                envString("JOBPOLL_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			EmbeddedWorker:     envBool("EMBEDDED_WORKER", false),
		},
		Broker: BrokerConfig{
			URL:            envString("BROKER_URL", defaultRedisURL),
			QueueName:      envString("QUEUE_NAME", "jobs"),
			RetryOnStartup: envBool("BROKER_CONNECTION_RETRY_ON_STARTUP", true),
			MaxRetries:     envInt("BROKER_CONNECTION_MAX_RETRIES", 10),
		},
		ResultBackend: ResultBackendConfig{
			URL:             envString("RESULT_BACKEND_URL", defaultRedisURL),
			RecordTTL:       envDuration("RESULT_EXPIRES", 24*time.Hour),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Worker: WorkerConfig{
			ID:          os.Getenv("WORKER_ID"),
			Concurrency: envInt("WORKER_CONCURRENCY", 4),
			LeaseTTL:    envDuration("WORKER_LEASE_TTL", 30*time.Second),
			DequeueWait: envDuration("WORKER_DEQUEUE_WAIT", 2*time.Second),
		},
		Analyze: AnalyzeConfig{
			StepMin: envDuration("ANALYZE_STEP_MIN", 3*time.Second),
			StepMax: envDuration("ANALYZE_STEP_MAX", 7*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := validateURL("BROKER_URL", c.Broker.URL); err != nil {
		return err
	}
	if err := validateURL("RESULT_BACKEND_URL", c.ResultBackend.URL); err != nil {
		return err
	}
	if s := scheme(c.Broker.URL); s == "postgres" || s == "postgresql" {
		return fmt.Errorf("BROKER_URL must be a redis:// or memory:// URL, got %q", c.Broker.URL)
	}
	if (scheme(c.Broker.URL) == "memory") != (scheme(c.ResultBackend.URL) == "memory") {
		return fmt.Errorf("memory:// must be used for both BROKER_URL and RESULT_BACKEND_URL")
	}
	if scheme(c.Broker.URL) == "memory" && !c.Server.EmbeddedWorker {
		return fmt.Errorf("memory:// broker requires EMBEDDED_WORKER=true")
	}

	if c.Broker.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME must not be empty")
	}
	if c.Broker.MaxRetries < 1 {
		return fmt.Errorf("BROKER_CONNECTION_MAX_RETRIES must be >= 1, got %d", c.Broker.MaxRetries)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("WORKER_LEASE_TTL must be positive, got %s", c.Worker.LeaseTTL)
	}
	if c.Worker.DequeueWait <= 0 {
		return fmt.Errorf("WORKER_DEQUEUE_WAIT must be positive, got %s", c.Worker.DequeueWait)
	}

	if c.Analyze.StepMin < 0 || c.Analyze.StepMax < c.Analyze.StepMin {
		return fmt.Errorf("ANALYZE_STEP_MIN/ANALYZE_STEP_MAX must satisfy 0 <= min <= max, got %s/%s",
			c.Analyze.StepMin, c.Analyze.StepMax)
	}

	return nil
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if !validSchemes[u.Scheme] {
		return fmt.Errorf("%s must use one of redis, rediss, postgres, postgresql, memory; got %q", key, u.Scheme)
	}
	return nil
}

func scheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Scheme
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
