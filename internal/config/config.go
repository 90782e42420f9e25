package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENT_DASHBOARD_SERVICE_API_URL.
const EnvPrefix = "AGENT_DASHBOARD"

type ServiceConfig struct {
	APIURL           string `json:"apiUrl" envconfig:"API_URL"`
	WSURL            string `json:"wsUrl" envconfig:"WS_URL"`
	Transport        string `json:"transport" envconfig:"TRANSPORT"` // "websocket" or "poll"
	PollIntervalMs   int    `json:"pollIntervalMs" envconfig:"POLL_INTERVAL_MS"`
	RequestTimeoutMs int    `json:"requestTimeoutMs" envconfig:"REQUEST_TIMEOUT_MS"`
	UserID           string `json:"userId" envconfig:"USER_ID"`
}

type ChannelConfig struct {
	HeartbeatIntervalMs  int `json:"heartbeatIntervalMs" envconfig:"HEARTBEAT_INTERVAL_MS"`
	ReconnectDelayMs     int `json:"reconnectDelayMs" envconfig:"RECONNECT_DELAY_MS"`
	MaxReconnectAttempts int `json:"maxReconnectAttempts" envconfig:"MAX_RECONNECT_ATTEMPTS"`
}

type NotificationsConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Webhook string `json:"webhook" envconfig:"WEBHOOK"`
	NtfyURL string `json:"ntfy" envconfig:"NTFY"`
}

type TLSConfig struct {
	Mode     string `json:"mode" envconfig:"MODE"`          // "self-signed", "manual", or "" (disabled)
	CertFile string `json:"certFile" envconfig:"CERT_FILE"` // required for manual
	KeyFile  string `json:"keyFile" envconfig:"KEY_FILE"`   // required for manual
	CacheDir string `json:"cacheDir" envconfig:"CACHE_DIR"` // for self-signed; defaults to ~/.agent-dashboard/certs
}

type WebserverConfig struct {
	Port      int       `json:"port" envconfig:"PORT"`
	Host      string    `json:"host" envconfig:"HOST"`
	TLS       TLSConfig `json:"tls" envconfig:"TLS"`
	JWTSecret string    `json:"jwtSecret" envconfig:"JWT_SECRET"`
}

type Config struct {
	Service              ServiceConfig       `json:"service"`
	Channel              ChannelConfig       `json:"channel"`
	Notifications        NotificationsConfig `json:"notifications"`
	Webserver            WebserverConfig     `json:"webserver"`
	RefreshIntervalMs    int                 `json:"refreshIntervalMs"`
	HistoryRetentionDays int                 `json:"historyRetentionDays"`
	LogDir               string              `json:"logDir"`
	LogLevel             string              `json:"logLevel"`
	LogMaxDays           int                 `json:"logMaxDays"`
}

// general holds the top-level scalars for environment overrides.
type general struct {
	RefreshIntervalMs    int    `envconfig:"REFRESH_INTERVAL_MS"`
	HistoryRetentionDays int    `envconfig:"HISTORY_RETENTION_DAYS"`
	LogDir               string `envconfig:"LOG_DIR"`
	LogLevel             string `envconfig:"LOG_LEVEL"`
	LogMaxDays           int    `envconfig:"LOG_MAX_DAYS"`
}

func Defaults() Config {
	return Config{
		Service: ServiceConfig{
			APIURL:           "http://localhost:8000",
			WSURL:            "ws://localhost:8000/ws",
			Transport:        "websocket",
			PollIntervalMs:   2000,
			RequestTimeoutMs: 10000,
		},
		Channel: ChannelConfig{
			HeartbeatIntervalMs:  30000,
			ReconnectDelayMs:     3000,
			MaxReconnectAttempts: 5,
		},
		Webserver: WebserverConfig{
			Port: 8090,
			Host: "127.0.0.1",
		},
		RefreshIntervalMs:    30000,
		HistoryRetentionDays: 30,
		LogDir:               filepath.Join(baseDir(), "logs"),
		LogLevel:             "info",
		LogMaxDays:           7,
	}
}

func baseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agent-dashboard")
}

func DefaultPath() string {
	return filepath.Join(baseDir(), "config.json")
}

func DBPath() string {
	return filepath.Join(baseDir(), "state.db")
}

func CertsDir() string {
	return filepath.Join(baseDir(), "certs")
}

// Load decodes the JSON file at path over Defaults and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{EnvPrefix + "_SERVICE", &cfg.Service},
		{EnvPrefix + "_CHANNEL", &cfg.Channel},
		{EnvPrefix + "_NOTIFICATIONS", &cfg.Notifications},
		{EnvPrefix + "_WEBSERVER", &cfg.Webserver},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}

	top := general{
		RefreshIntervalMs:    cfg.RefreshIntervalMs,
		HistoryRetentionDays: cfg.HistoryRetentionDays,
		LogDir:               cfg.LogDir,
		LogLevel:             cfg.LogLevel,
		LogMaxDays:           cfg.LogMaxDays,
	}
	if err := envconfig.Process(EnvPrefix, &top); err != nil {
		return fmt.Errorf("env %s: %w", EnvPrefix, err)
	}
	cfg.RefreshIntervalMs = top.RefreshIntervalMs
	cfg.HistoryRetentionDays = top.HistoryRetentionDays
	cfg.LogDir = top.LogDir
	cfg.LogLevel = top.LogLevel
	cfg.LogMaxDays = top.LogMaxDays
	return nil
}

// Save writes cfg to path as indented JSON, creating the directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureJWTSecret generates and persists a relay signing secret when none
// is configured.
func EnsureJWTSecret(path string, cfg *Config) error {
	if cfg.Webserver.JWTSecret != "" {
		return nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	cfg.Webserver.JWTSecret = hex.EncodeToString(b)
	return Save(path, *cfg)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c ServiceConfig) PollInterval() time.Duration      { return ms(c.PollIntervalMs) }
func (c ServiceConfig) RequestTimeout() time.Duration    { return ms(c.RequestTimeoutMs) }
func (c ChannelConfig) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMs) }
func (c ChannelConfig) ReconnectDelay() time.Duration    { return ms(c.ReconnectDelayMs) }
func (c Config) RefreshInterval() time.Duration          { return ms(c.RefreshIntervalMs) }
