// Package config holds the interaction broker's environment-input configuration:
// TTLs, quotas, heartbeat interval, per-kind interaction timeouts, and transport
// limits. It follows the same load/default/save idiom as the rest of this
// codebase's configuration layer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/humanloop/ibroker/internal/consts"
	"github.com/humanloop/ibroker/internal/logger"
)

// Config holds all tunables for a running broker instance.
type Config struct {
	// ListenAddr is the HTTP address the WebSocket upgrade endpoint binds to.
	ListenAddr string `json:"listen_addr"`

	// SessionTTL is how long a session survives without activity before the
	// sweeper evicts it.
	SessionTTL time.Duration `json:"session_ttl"`
	// SessionSweepInterval is the cadence of the background session sweeper.
	SessionSweepInterval time.Duration `json:"session_sweep_interval"`
	// MaxSessions bounds the LRU-backed session table.
	MaxSessions int `json:"max_sessions"`

	// PermissionTimeout bounds a pending permission interaction.
	PermissionTimeout time.Duration `json:"permission_timeout"`
	// PlanApprovalTimeout bounds a pending plan-approval interaction.
	PlanApprovalTimeout time.Duration `json:"plan_approval_timeout"`
	// AskUserTimeout bounds a pending ask-user interaction.
	AskUserTimeout time.Duration `json:"ask_user_timeout"`
	// MaxInteractionsPerSession bounds concurrent pending interactions per session.
	MaxInteractionsPerSession int `json:"max_interactions_per_session"`

	// HeartbeatInterval is the subscriber ping cadence.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	// MaxSubscribers bounds the total registry size.
	MaxSubscribers int `json:"max_subscribers"`
	// MaxSubscriptionsPerSubscriber bounds a single subscriber's authorized-session set.
	MaxSubscriptionsPerSubscriber int `json:"max_subscriptions_per_subscriber"`
	// MaxQueuePerSubscriber bounds a subscriber's outbound delivery queue.
	MaxQueuePerSubscriber int `json:"max_queue_per_subscriber"`
	// SubscribeRatePerMinute bounds subscribe/sync requests per subscriber per minute.
	SubscribeRatePerMinute int `json:"subscribe_rate_per_minute"`

	// MaxFrameBytes bounds a single inbound WebSocket frame.
	MaxFrameBytes int64 `json:"max_frame_bytes"`
	// NonceCacheSize bounds the seen-nonce LRU per subscriber.
	NonceCacheSize int `json:"nonce_cache_size"`
	// NonceWindow is how far a response timestamp may drift from server time.
	NonceWindow time.Duration `json:"nonce_window"`

	// LogLevel controls internal/logger verbosity ("debug", "info", "warn", "error").
	LogLevel string `json:"log_level"`
	// LogPath is where structured logs are written. Load fills an empty value
	// with StateDir/ibroker.log; a logger given an empty path writes nothing.
	LogPath string `json:"log_path"`

	// StateDir is where the single-instance lockfile is created.
	StateDir string `json:"state_dir"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "ibroker")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "ibroker")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "ibroker")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "ibroker")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "ibroker")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "ibroker")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "ibroker")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "ibroker")
	}
}

// DefaultConfig returns the broker's default configuration.
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		ListenAddr: ":8765",

		SessionTTL:           consts.DefaultSessionTTL,
		SessionSweepInterval: consts.DefaultSessionSweepInterval,
		MaxSessions:          consts.DefaultMaxSessions,

		PermissionTimeout:         consts.DefaultPermissionTimeout,
		PlanApprovalTimeout:       consts.DefaultPlanApprovalTimeout,
		AskUserTimeout:            consts.DefaultAskUserTimeout,
		MaxInteractionsPerSession: consts.DefaultMaxInteractionsPerSession,

		HeartbeatInterval:             consts.DefaultHeartbeatInterval,
		MaxSubscribers:                consts.DefaultMaxSubscribers,
		MaxSubscriptionsPerSubscriber: consts.DefaultMaxSubscriptionsPerSubscriber,
		MaxQueuePerSubscriber:         consts.DefaultMaxQueuePerSubscriber,
		SubscribeRatePerMinute:        consts.DefaultSubscribeRatePerMinute,

		MaxFrameBytes:  consts.DefaultMaxFrameBytes,
		NonceCacheSize: consts.DefaultNonceCacheSize,
		NonceWindow:    consts.DefaultNonceWindow,

		LogLevel: "info",
		LogPath:  filepath.Join(stateDir, "ibroker.log"),
		StateDir: stateDir,
	}
}

// Load reads configuration from path, overlaying it onto DefaultConfig. A
// missing file is not an error; it yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir()
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(cfg.StateDir, "ibroker.log")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	logger.Debug("loaded config from %s", path)
	return cfg, nil
}

// Save writes the configuration to path as indented JSON, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	logger.Debug("saved config to %s", path)
	return nil
}

// GetConfigPath returns the default on-disk location for the broker's config file.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
