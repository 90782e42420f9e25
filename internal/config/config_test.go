package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsprackett/agent-dashboard/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.APIURL != "http://localhost:8000" {
		t.Errorf("api url: got %q", cfg.Service.APIURL)
	}
	if cfg.Channel.MaxReconnectAttempts != 5 {
		t.Errorf("max reconnect attempts: got %d want 5", cfg.Channel.MaxReconnectAttempts)
	}
	if cfg.Channel.ReconnectDelay() != 3*time.Second {
		t.Errorf("reconnect delay: got %v", cfg.Channel.ReconnectDelay())
	}
	if cfg.Channel.HeartbeatInterval() != 30*time.Second {
		t.Errorf("heartbeat interval: got %v", cfg.Channel.HeartbeatInterval())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"service":{"apiUrl":"http://orchestrator:9000"},"logLevel":"debug"}`), 0644)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.APIURL != "http://orchestrator:9000" {
		t.Errorf("got %q", cfg.Service.APIURL)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Service.WSURL != "ws://localhost:8000/ws" {
		t.Errorf("ws url: got %q", cfg.Service.WSURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"service":`), 0644)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"service":{"apiUrl":"http://from-file:8000"}}`), 0644)

	t.Setenv("AGENT_DASHBOARD_SERVICE_API_URL", "http://from-env:8000")
	t.Setenv("AGENT_DASHBOARD_SERVICE_TRANSPORT", "poll")
	t.Setenv("AGENT_DASHBOARD_CHANNEL_RECONNECT_DELAY_MS", "500")
	t.Setenv("AGENT_DASHBOARD_NOTIFICATIONS_ENABLED", "true")
	t.Setenv("AGENT_DASHBOARD_WEBSERVER_TLS_MODE", "self-signed")
	t.Setenv("AGENT_DASHBOARD_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.APIURL != "http://from-env:8000" {
		t.Errorf("api url: got %q", cfg.Service.APIURL)
	}
	if cfg.Service.Transport != "poll" {
		t.Errorf("transport: got %q", cfg.Service.Transport)
	}
	if cfg.Channel.ReconnectDelay() != 500*time.Millisecond {
		t.Errorf("reconnect delay: got %v", cfg.Channel.ReconnectDelay())
	}
	if !cfg.Notifications.Enabled {
		t.Error("notifications not enabled from env")
	}
	if cfg.Webserver.TLS.Mode != "self-signed" {
		t.Errorf("tls mode: got %q", cfg.Webserver.TLS.Mode)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
	// Untouched values survive the overlay.
	if cfg.Channel.MaxReconnectAttempts != 5 {
		t.Errorf("max attempts: got %d", cfg.Channel.MaxReconnectAttempts)
	}
}

func TestEnvBadValue(t *testing.T) {
	t.Setenv("AGENT_DASHBOARD_CHANNEL_MAX_RECONNECT_ATTEMPTS", "lots")
	if _, err := config.Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for non-numeric override")
	}
}

func TestEnsureJWTSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := config.Defaults()
	if err := config.EnsureJWTSecret(path, &cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Webserver.JWTSecret) != 64 {
		t.Fatalf("expected 64 hex chars, got %q", cfg.Webserver.JWTSecret)
	}
	secret := cfg.Webserver.JWTSecret

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Webserver.JWTSecret != secret {
		t.Error("secret not persisted")
	}
	if err := config.EnsureJWTSecret(path, &loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Webserver.JWTSecret != secret {
		t.Error("existing secret was replaced")
	}
}
