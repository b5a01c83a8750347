package config

import "time"

// Config holds all configuration for the gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Backends   BackendsConfig   `yaml:"backends"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Quota      QuotaConfig      `yaml:"quota"`
	Cache      CacheConfig      `yaml:"cache"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestSecs  time.Duration `yaml:"max_request_secs"`
	StreamIdleSecs  time.Duration `yaml:"stream_idle_timeout_secs"`
	Workers         int           `yaml:"workers"`
}

// BackendsConfig is the static role-to-backend topology.
type BackendsConfig struct {
	Chat     []string `yaml:"chat_backends"`
	Text2SQL string   `yaml:"text2sql_backend"`
	Embed    string   `yaml:"embed_backend"`
	Rerank   string   `yaml:"rerank_backend"`
}

// AuthConfig holds the bearer tokens this gateway trusts and presents.
type AuthConfig struct {
	GatewayAPIKey string `yaml:"gateway_api_key"`
	BackendAPIKey string `yaml:"backend_api_key"`
}

// RateLimitConfig holds the per-tenant sliding-window tunables.
type RateLimitConfig struct {
	MaxRPSPerIP   float64 `yaml:"max_rps_per_ip"`
	WindowSecs    float64 `yaml:"rps_window_secs"`
	Burst         int     `yaml:"rps_burst"`
}

// ConcurrencyConfig holds the per-tenant admission gate tunables.
type ConcurrencyConfig struct {
	MaxInflightPerIP int           `yaml:"max_inflight_per_ip"`
	QueueTimeoutSecs time.Duration `yaml:"queue_timeout_secs"`
	GCEvery          uint64        `yaml:"gc_every"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
}

// QuotaConfig holds the default per-tenant quota limits.
type QuotaConfig struct {
	DailyTokens   int64 `yaml:"daily_tokens"`
	DailyRequests int64 `yaml:"daily_requests"`
	MonthlyTokens int64 `yaml:"monthly_tokens"`
}

// CacheConfig holds the response cache's capacity and TTL.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Capacity uint64        `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// BreakerConfig holds the per-backend circuit breaker tunables.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// HealthConfig holds the health monitor's probe tunables.
type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	RedactPII  bool   `yaml:"redact_pii"`
}
