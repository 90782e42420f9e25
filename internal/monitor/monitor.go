// Package monitor wires the live view of the orchestration service: REST
// client, event channel, aggregator, history recording and task
// notifications. The dashboard and the headless relay both run one.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/config"
	"github.com/zsprackett/agent-dashboard/internal/db"
	"github.com/zsprackett/agent-dashboard/internal/notify"
	"github.com/zsprackett/agent-dashboard/internal/settings"
	"github.com/zsprackett/agent-dashboard/internal/viewstate"
)

const pruneInterval = time.Hour

type OnUpdate func()

// Attacher relays channel events somewhere else, e.g. the web relay.
type Attacher interface {
	Attach(ch channel.Channel) func()
}

type Options struct {
	Config   config.Config
	Settings settings.Settings
	Store    *db.DB
	// Notifier receives refresh failures as toasts. Optional.
	Notifier viewstate.Notifier
	OnUpdate OnUpdate
	Logger   *slog.Logger
}

type Monitor struct {
	api      *api.Client
	ch       *channel.Client
	view     *viewstate.Aggregator
	notifier *notify.Notifier
	store    *db.DB
	cfg      config.Config
	prefs    settings.Settings
	logger   *slog.Logger

	mu       sync.Mutex
	detach   []func()
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
}

// New builds the pipeline for the service named in opts.Settings. Nothing
// connects until Start.
func New(opts Options) (*Monitor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := opts.Settings
	client, err := api.New(s.APIURL, opts.Config.Service.RequestTimeout())
	if err != nil {
		return nil, err
	}
	transport, err := channel.NewTransport(channel.TransportConfig{
		Kind:         s.Transport,
		WebSocketURL: s.WSURL,
		PollInterval: time.Duration(s.PollIntervalMs) * time.Millisecond,
		Fetcher:      client,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("channel transport: %w", err)
	}
	ch := channel.New(transport, channel.Options{
		HeartbeatInterval:    opts.Config.Channel.HeartbeatInterval(),
		ReconnectDelay:       opts.Config.Channel.ReconnectDelay(),
		MaxReconnectAttempts: opts.Config.Channel.MaxReconnectAttempts,
		Logger:               logger,
	})

	vopts := viewstate.Options{
		RequestTimeout: opts.Config.Service.RequestTimeout(),
		Notifier:       opts.Notifier,
		Logger:         logger,
	}
	if opts.Store != nil {
		vopts.Recorder = opts.Store
	}
	view := viewstate.New(client, vopts)
	if opts.OnUpdate != nil {
		view.OnChange(opts.OnUpdate)
	}

	m := &Monitor{
		api:      client,
		ch:       ch,
		view:     view,
		store:    opts.Store,
		cfg:      opts.Config,
		prefs:    s,
		logger:   logger,
		interval: pruneInterval,
	}
	// The persisted preference decides; the config file only seeds it.
	if s.Notifications {
		m.notifier = notify.New(notify.Config{
			Enabled: true,
			Webhook: opts.Config.Notifications.Webhook,
			NtfyURL: opts.Config.Notifications.NtfyURL,
		}, logger)
	}
	return m, nil
}

func (m *Monitor) API() *api.Client                 { return m.api }
func (m *Monitor) Channel() *channel.Client         { return m.ch }
func (m *Monitor) View() *viewstate.Aggregator      { return m.view }
func (m *Monitor) Settings() settings.Settings      { return m.prefs }
func (m *Monitor) Notifier() *notify.Notifier       { return m.notifier }
func (m *Monitor) SetPruneInterval(d time.Duration) { m.interval = d }

// Attach relays the channel through a. Detached on Stop.
func (m *Monitor) Attach(a Attacher) {
	detach := a.Attach(m.ch)
	m.mu.Lock()
	m.detach = append(m.detach, detach)
	m.mu.Unlock()
}

// Start binds the aggregator, opens the channel and begins periodic
// refresh and history pruning.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	if m.notifier != nil {
		m.detach = append(m.detach, m.notifier.Watch(m.ch))
	}
	m.mu.Unlock()

	m.view.Bind(m.ch)
	m.view.Start(time.Duration(m.prefs.RefreshIntervalMs) * time.Millisecond)
	m.ch.Connect()
	m.logger.Info("monitor: started",
		"api", m.api.BaseURL(), "transport", m.ch.TransportName())

	if m.store == nil || m.cfg.HistoryRetentionDays <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.prune()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.prune()
			}
		}
	}()
}

// Stop closes the channel and halts every background loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	detach := m.detach
	m.detach = nil
	m.mu.Unlock()

	m.wg.Wait()
	m.view.Stop()
	m.ch.Disconnect()
	m.view.Unbind()
	for _, fn := range detach {
		fn()
	}
	m.logger.Info("monitor: stopped")
}

func (m *Monitor) prune() {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.HistoryRetentionDays)
	n, err := m.store.PruneTaskEvents(cutoff)
	if err != nil {
		m.logger.Warn("monitor: prune history failed", "err", err)
		return
	}
	if n > 0 {
		m.logger.Debug("monitor: pruned history", "events", n)
	}
}
