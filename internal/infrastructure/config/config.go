package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all agent configuration.
type Config struct {
	Orchestrator OrchestratorConfig
	Arena        ArenaConfig
	Auth         AuthConfig
	Recovery     RecoveryConfig
	Store        StoreConfig
	HTTP         HTTPConfig
	Logging      LogConfig
	Seed         SeedConfig
}

// OrchestratorConfig holds the duplex channel configuration.
type OrchestratorConfig struct {
	URL            string        `envconfig:"ORCHESTRATOR_URL" default:"ws://127.0.0.1:5102/ws"`
	ReconnectDelay time.Duration `envconfig:"RECONNECT_DELAY" default:"5s"`
	SettleDelay    time.Duration `envconfig:"REGISTRY_SETTLE_DELAY" default:"3s"`
	WriteTimeout   time.Duration `envconfig:"CHANNEL_WRITE_TIMEOUT" default:"10s"`
}

// ArenaConfig holds the target service boundary configuration.
type ArenaConfig struct {
	BaseURL           string        `envconfig:"ARENA_URL" default:"https://lmarena.ai"`
	PagePath          string        `envconfig:"ARENA_PAGE_PATH" default:"/?mode=direct"`
	StreamPath        string        `envconfig:"ARENA_STREAM_PATH" default:"/api/stream/create-evaluation"`
	RetryPath         string        `envconfig:"ARENA_RETRY_PATH" default:"/api/stream/retry-evaluation-session-message"`
	SignPath          string        `envconfig:"ARENA_SIGN_PATH" default:"/api/files/sign"`
	NotifyPath        string        `envconfig:"ARENA_NOTIFY_PATH" default:"/api/files/notify"`
	VerifyPath        string        `envconfig:"ARENA_VERIFY_PATH" default:"/api/auth/verify-challenge"`
	UserAgent         string        `envconfig:"ARENA_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"`
	Timeout           time.Duration `envconfig:"ARENA_TIMEOUT" default:"30s"`
	RequestsPerSecond float64       `envconfig:"ARENA_RPS" default:"4"`
	Burst             int           `envconfig:"ARENA_BURST" default:"8"`
}

// AuthConfig holds the readiness gate configuration.
type AuthConfig struct {
	CookieName      string        `envconfig:"AUTH_COOKIE" default:"arena-auth-prod-v1"`
	TokenTTL        time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"2m"`
	WaitBudget      time.Duration `envconfig:"AUTH_WAIT_BUDGET" default:"60s"`
	RecheckInterval time.Duration `envconfig:"AUTH_RECHECK_INTERVAL" default:"1s"`
	// SolverURL points at an external challenge widget host. Empty means
	// tokens arrive only through the local intake endpoint.
	SolverURL string `envconfig:"AUTH_SOLVER_URL" default:""`
}

// RecoveryConfig holds block recovery timing.
type RecoveryConfig struct {
	ChallengeWaitBudget time.Duration `envconfig:"RECOVERY_CHALLENGE_BUDGET" default:"60s"`
	ReloadWaitBudget    time.Duration `envconfig:"RECOVERY_RELOAD_BUDGET" default:"45s"`
	PollInterval        time.Duration `envconfig:"RECOVERY_POLL_INTERVAL" default:"1s"`
	ReplaySpacing       time.Duration `envconfig:"REPLAY_SPACING" default:"1s"`
}

// StoreConfig holds the durable retry store location.
type StoreConfig struct {
	Path string `envconfig:"STORE_PATH" default:"data/pending.db"`
}

// HTTPConfig holds the local ops surface configuration.
type HTTPConfig struct {
	Port string `envconfig:"PORT" default:"5111"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// SeedConfig points at the optional YAML seed file carrying action-token
// defaults and a fallback model registry.
type SeedConfig struct {
	Path string `envconfig:"SEED_PATH" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			URL:            "ws://127.0.0.1:5102/ws",
			ReconnectDelay: 5 * time.Second,
			SettleDelay:    3 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Arena: ArenaConfig{
			BaseURL:           "https://lmarena.ai",
			PagePath:          "/?mode=direct",
			StreamPath:        "/api/stream/create-evaluation",
			RetryPath:         "/api/stream/retry-evaluation-session-message",
			SignPath:          "/api/files/sign",
			NotifyPath:        "/api/files/notify",
			VerifyPath:        "/api/auth/verify-challenge",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 4,
			Burst:             8,
		},
		Auth: AuthConfig{
			CookieName:      "arena-auth-prod-v1",
			TokenTTL:        2 * time.Minute,
			WaitBudget:      60 * time.Second,
			RecheckInterval: time.Second,
		},
		Recovery: RecoveryConfig{
			ChallengeWaitBudget: 60 * time.Second,
			ReloadWaitBudget:    45 * time.Second,
			PollInterval:        time.Second,
			ReplaySpacing:       time.Second,
		},
		Store: StoreConfig{
			Path: "data/pending.db",
		},
		HTTP: HTTPConfig{
			Port: "5111",
			Host: "127.0.0.1",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
