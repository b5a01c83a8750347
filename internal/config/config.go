// Package config loads the gateway's configuration from an optional YAML
// file plus environment variables, using spf13/viper the way olla's
// config package does (ReadInConfig + WatchConfig + fsnotify-driven
// reload), but binding the flat GATEWAY_*/BACKEND_*/CHAT_BACKENDS-style
// environment names directly instead of a single OLLA_-prefixed tree,
// since this gateway's environment surface was handed down as fixed
// variable names rather than a nested config schema.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const DefaultFileWriteDelay = 150 * time.Millisecond

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults; Load
// overlays file and environment values on top of it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxRequestSecs:  120 * time.Second,
			StreamIdleSecs:  30 * time.Second,
			Workers:         4,
		},
		RateLimit: RateLimitConfig{
			MaxRPSPerIP: 5,
			WindowSecs:  1,
			Burst:       10,
		},
		Concurrency: ConcurrencyConfig{
			MaxInflightPerIP: 4,
			QueueTimeoutSecs: 5 * time.Second,
			GCEvery:          256,
			IdleTimeout:      10 * time.Minute,
		},
		Quota: QuotaConfig{
			DailyTokens:   1_000_000,
			DailyRequests: 10_000,
			MonthlyTokens: 20_000_000,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 10_000,
			TTL:      10 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
		},
		Health: HealthConfig{
			CheckInterval: 10 * time.Second,
			CheckTimeout:  2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// envBindings lists the flat environment variable names this gateway
// reads, each bound directly to its config key (no GATEWAY_ prefix tree).
var envBindings = map[string]string{
	"auth.gateway_api_key":              "GATEWAY_API_KEY",
	"auth.backend_api_key":              "BACKEND_API_KEY",
	"backends.text2sql_backend":         "TEXT2SQL_BACKEND",
	"backends.embed_backend":            "EMBED_BACKEND",
	"backends.rerank_backend":           "RERANK_BACKEND",
	"rate_limit.max_rps_per_ip":         "MAX_RPS_PER_IP",
	"rate_limit.rps_window_secs":        "RPS_WINDOW_SECS",
	"rate_limit.rps_burst":              "RPS_BURST",
	"concurrency.max_inflight_per_ip":   "MAX_INFLIGHT_PER_IP",
	"concurrency.queue_timeout_secs":    "QUEUE_TIMEOUT_SECS",
	"server.max_request_secs":           "MAX_REQUEST_SECS",
	"server.stream_idle_timeout_secs":   "STREAM_IDLE_TIMEOUT_SECS",
	"server.workers":                    "GATEWAY_WORKERS",
}

// Load loads configuration from an optional config file, then from the
// environment variable names the gateway contract fixes, then validates
// that every field required to serve traffic is present.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("GATEWAY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	// The config structs carry only yaml tags, so decode by those.
	if err := viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// CHAT_BACKENDS is a comma-separated list, not a single scalar, so it
	// can't go through the BindEnv/Unmarshal path above.
	if raw := os.Getenv("CHAT_BACKENDS"); raw != "" {
		cfg.Backends.Chat = splitAndTrim(raw)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	viper.WatchConfig()
	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate aborts startup when a required credential or backend is
// missing, rather than letting the gateway serve requests it cannot
// authenticate or route.
func validate(cfg *Config) error {
	var missing []string

	if cfg.Auth.GatewayAPIKey == "" {
		missing = append(missing, "GATEWAY_API_KEY")
	}
	if cfg.Auth.BackendAPIKey == "" {
		missing = append(missing, "BACKEND_API_KEY")
	}
	if len(cfg.Backends.Chat) == 0 {
		missing = append(missing, "CHAT_BACKENDS")
	}
	if cfg.Backends.Text2SQL == "" {
		missing = append(missing, "TEXT2SQL_BACKEND")
	}
	if cfg.Backends.Embed == "" {
		missing = append(missing, "EMBED_BACKEND")
	}
	if cfg.Backends.Rerank == "" {
		missing = append(missing, "RERANK_BACKEND")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
