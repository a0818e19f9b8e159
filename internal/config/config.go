// Package config 协调器配置
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/narenallam/e-commerce-saga/internal/contract"
	pkgconfig "github.com/narenallam/e-commerce-saga/pkg/config"
)

// Config is resolved once at startup and passed by reference; it is never
// mutated afterwards.
type Config struct {
	ServiceName string
	HTTPPort    int
	LogLevel    string

	// Participant discovery
	LocalMode       bool
	ParticipantURLs map[contract.Participant]string

	// Communicator
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
	MaxRetries     int // total attempts per call
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	// Saga execution
	MaxConcurrentSagas int64

	// Journal: "none", "redis" or "postgres"
	Journal       string
	RedisAddr     string
	RedisPassword string
	PostgresDSN   string

	// Saga event channel (Redis pub/sub)
	EventChannel string

	// Order submission rate limit
	OrderRate  float64
	OrderBurst int

	// Terminal saga retention
	RetentionCron string
	RetentionAge  time.Duration

	// Tracing
	TracingEnabled  bool
	JaegerEndpoint  string
	TraceSampleRate float64
}

// Load 加载配置
//
// Participant base addresses resolve in order of precedence: the
// <NAME>_SERVICE_URL environment variable, then the
// http://<name>-service:<port> convention (localhost in local mode).
// A malformed URL is a startup error.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "saga-coordinator"),
		HTTPPort:    pkgconfig.GetEnvInt("COORDINATOR_HTTP_PORT", 9000),
		LogLevel:    pkgconfig.GetEnv("COORDINATOR_LOG_LEVEL", "info"),

		LocalMode: pkgconfig.GetEnvBool("COORDINATOR_LOCAL_MODE", false),

		RequestTimeout: pkgconfig.GetEnvMillis("COORDINATOR_REQUEST_TIMEOUT_MS", 30*time.Second),
		HealthTimeout:  pkgconfig.GetEnvMillis("COORDINATOR_HEALTH_TIMEOUT_MS", 2*time.Second),
		MaxRetries:     pkgconfig.GetEnvInt("COORDINATOR_MAX_RETRIES", 3),
		BackoffBase:    pkgconfig.GetEnvMillis("COORDINATOR_BACKOFF_BASE_MS", time.Second),
		BackoffMax:     pkgconfig.GetEnvMillis("COORDINATOR_BACKOFF_MAX_MS", 10*time.Second),

		MaxConcurrentSagas: pkgconfig.GetEnvInt64("COORDINATOR_MAX_CONCURRENT_SAGAS", 64),

		Journal:       strings.ToLower(pkgconfig.GetEnv("COORDINATOR_JOURNAL", "none")),
		RedisAddr:     pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: pkgconfig.GetEnv("REDIS_PASSWORD", ""),
		PostgresDSN:   pkgconfig.GetEnv("POSTGRES_DSN", ""),

		EventChannel: pkgconfig.GetEnv("COORDINATOR_EVENT_CHANNEL", "saga:events"),

		OrderRate:  pkgconfig.GetEnvFloat64("COORDINATOR_ORDER_RATE", 50),
		OrderBurst: pkgconfig.GetEnvInt("COORDINATOR_ORDER_BURST", 100),

		RetentionCron: pkgconfig.GetEnv("COORDINATOR_RETENTION_CRON", "*/5 * * * *"),
		RetentionAge:  pkgconfig.GetEnvDuration("COORDINATOR_RETENTION_AGE", time.Hour),

		TracingEnabled:  pkgconfig.GetEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint:  pkgconfig.GetEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRate: pkgconfig.GetEnvFloat64("TRACE_SAMPLE_RATE", 1.0),
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("COORDINATOR_MAX_RETRIES must be >= 1, got %d", cfg.MaxRetries)
	}

	switch cfg.Journal {
	case "none", "redis", "postgres":
	default:
		return nil, fmt.Errorf("COORDINATOR_JOURNAL must be one of none|redis|postgres, got %q", cfg.Journal)
	}
	if cfg.Journal == "postgres" && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("COORDINATOR_JOURNAL=postgres requires POSTGRES_DSN")
	}

	urls := make(map[contract.Participant]string, len(contract.Participants()))
	for _, p := range contract.Participants() {
		addr, err := participantURL(p, cfg.LocalMode)
		if err != nil {
			return nil, err
		}
		urls[p] = addr
	}
	cfg.ParticipantURLs = urls

	return cfg, nil
}

// participantURL resolves one participant base address.
func participantURL(p contract.Participant, localMode bool) (string, error) {
	envKey := strings.ToUpper(string(p)) + "_SERVICE_URL"
	addr := os.Getenv(envKey)
	if addr == "" {
		host := string(p) + "-service"
		if localMode {
			host = "localhost"
		}
		addr = fmt.Sprintf("http://%s:%d", host, contract.DefaultPorts[p])
	}

	u, err := url.Parse(addr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: malformed participant URL %q", envKey, addr)
	}
	return strings.TrimRight(addr, "/"), nil
}
