// Package settings persists the user-editable dashboard preferences in the
// local store. The blob is versioned; older layouts are migrated on load.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
)

const (
	// CurrentVersion is the blob layout this build reads and writes.
	CurrentVersion = 1

	settingsKey    = "settings"
	welcomeSeenKey = "welcome_seen"
)

// ErrInvalid wraps validation failures from Save.
var ErrInvalid = errors.New("invalid settings")

type Settings struct {
	Version           int    `json:"version"`
	APIURL            string `json:"api_url"`
	WSURL             string `json:"ws_url"`
	Transport         string `json:"transport"`
	PollIntervalMs    int    `json:"poll_interval_ms"`
	RefreshIntervalMs int    `json:"refresh_interval_ms"`
	Notifications     bool   `json:"notifications"`
	Compact           bool   `json:"compact"`
}

func Defaults() Settings {
	return Settings{
		Version:           CurrentVersion,
		APIURL:            "http://localhost:8000",
		WSURL:             "ws://localhost:8000/ws",
		Transport:         "websocket",
		PollIntervalMs:    2000,
		RefreshIntervalMs: 30000,
		Notifications:     true,
	}
}

// Validate checks URLs, transport and intervals.
func (s Settings) Validate() error {
	if err := checkURL(s.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("%w: api_url: %v", ErrInvalid, err)
	}
	if s.Transport != "poll" {
		if err := checkURL(s.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("%w: ws_url: %v", ErrInvalid, err)
		}
	}
	switch s.Transport {
	case "websocket", "poll":
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalid, s.Transport)
	}
	if s.PollIntervalMs < 250 {
		return fmt.Errorf("%w: poll_interval_ms must be at least 250", ErrInvalid)
	}
	if s.RefreshIntervalMs < 0 {
		return fmt.Errorf("%w: refresh_interval_ms must not be negative", ErrInvalid)
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q needs scheme %v and a host", raw, schemes)
}

// Store is the metadata table of the local database.
type Store interface {
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
	DeleteMeta(key string) error
	Flag(key string) (bool, error)
	SetFlag(key string, v bool) error
}

// Manager loads, caches and saves settings.
type Manager struct {
	store    Store
	defaults Settings
	logger   *slog.Logger

	mu      sync.Mutex
	current Settings
}

// New returns a Manager whose missing keys fall back to defaults.
func New(store Store, defaults Settings, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults.Version = CurrentVersion
	return &Manager{store: store, defaults: defaults, logger: logger, current: defaults}
}

// Load reads the stored blob. Missing, unreadable or invalid blobs and blobs
// written by a newer build yield the defaults; those blobs are left
// untouched. A legacy blob is migrated and written back.
func (m *Manager) Load() (Settings, error) {
	raw, err := m.store.GetMeta(settingsKey)
	if err != nil {
		return m.set(m.defaults), fmt.Errorf("load settings: %w", err)
	}
	if raw == "" {
		return m.set(m.defaults), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		m.logger.Warn("settings: stored blob is not valid JSON, using defaults", "err", err)
		return m.set(m.defaults), nil
	}

	var version int
	if v, ok := fields["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			m.logger.Warn("settings: bad version field, using defaults", "err", err)
			return m.set(m.defaults), nil
		}
	}
	if version > CurrentVersion {
		m.logger.Warn("settings: stored blob is from a newer version, using defaults",
			"stored_version", version, "current_version", CurrentVersion)
		return m.set(m.defaults), nil
	}

	migrated := version < CurrentVersion
	if migrated {
		fields = migrate(version, fields)
	}

	s := m.defaults
	data, _ := json.Marshal(fields)
	if err := json.Unmarshal(data, &s); err != nil {
		m.logger.Warn("settings: stored blob has bad field types, using defaults", "err", err)
		return m.set(m.defaults), nil
	}
	s.Version = CurrentVersion
	if err := s.Validate(); err != nil {
		m.logger.Warn("settings: stored blob failed validation, using defaults", "err", err)
		return m.set(m.defaults), nil
	}

	if migrated {
		m.logger.Info("settings: migrated stored blob", "from_version", version, "to_version", CurrentVersion)
		if err := m.write(s); err != nil {
			m.logger.Warn("settings: write migrated blob failed", "err", err)
		}
	}
	return m.set(s), nil
}

// legacyKeys maps version 0 key names to their current names.
var legacyKeys = map[string]string{
	"apiUrl":               "api_url",
	"wsUrl":                "ws_url",
	"pollInterval":         "poll_interval_ms",
	"notificationsEnabled": "notifications",
}

func migrate(from int, fields map[string]json.RawMessage) map[string]json.RawMessage {
	if from == 0 {
		for old, cur := range legacyKeys {
			v, ok := fields[old]
			if !ok {
				continue
			}
			delete(fields, old)
			if _, exists := fields[cur]; !exists {
				fields[cur] = v
			}
		}
	}
	return fields
}

func (m *Manager) set(s Settings) Settings {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return s
}

// Current returns the last loaded or saved settings.
func (m *Manager) Current() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Save validates and stores s, replacing whatever blob was stored.
func (m *Manager) Save(s Settings) error {
	s.Version = CurrentVersion
	if err := s.Validate(); err != nil {
		return err
	}
	if err := m.write(s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	m.set(s)
	return nil
}

func (m *Manager) write(s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.store.SetMeta(settingsKey, string(data))
}

// Reset deletes the stored blob and returns the defaults.
func (m *Manager) Reset() (Settings, error) {
	if err := m.store.DeleteMeta(settingsKey); err != nil {
		return m.Current(), fmt.Errorf("reset settings: %w", err)
	}
	return m.set(m.defaults), nil
}

// WelcomeSeen reports whether the first-run guide has been dismissed.
func (m *Manager) WelcomeSeen() bool {
	seen, err := m.store.Flag(welcomeSeenKey)
	if err != nil {
		m.logger.Warn("settings: read welcome flag failed", "err", err)
		return false
	}
	return seen
}

func (m *Manager) MarkWelcomeSeen() error {
	return m.store.SetFlag(welcomeSeenKey, true)
}
