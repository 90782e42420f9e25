package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zsprackett/agent-dashboard/internal/applog"
	"github.com/zsprackett/agent-dashboard/internal/config"
	"github.com/zsprackett/agent-dashboard/internal/db"
	"github.com/zsprackett/agent-dashboard/internal/settings"
	"github.com/zsprackett/agent-dashboard/internal/ui"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "agent-dashboard",
	Short:         "Terminal dashboard for a multi-agent orchestration service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard()
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the live dashboard (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.AddCommand(dashboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(1)
	}
}

func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("warning:"), fmt.Sprintf(format, args...))
}

// env is the state every long-running command shares.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	store  *db.DB
	prefs  *settings.Manager
	closer io.Closer
}

func (e *env) Close() {
	e.store.Close()
	if e.closer != nil {
		e.closer.Close()
	}
}

// setup loads config, starts file logging, opens the store and loads the
// persisted settings. Console mirrors log lines to stderr.
func setup(prefix string, console io.Writer) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		warn("could not load config: %v", err)
		cfg = config.Defaults()
	}
	if err := config.EnsureJWTSecret(configPath, &cfg); err != nil {
		warn("could not persist JWT secret: %v", err)
	}

	e := &env{cfg: cfg}
	logger, logCloser, err := applog.Init(applog.InitConfig{
		LogDir:   cfg.LogDir,
		LogLevel: cfg.LogLevel,
		Prefix:   prefix,
		MaxDays:  cfg.LogMaxDays,
		Console:  console,
	})
	if err != nil {
		warn("could not init log file: %v", err)
		logger = slog.Default()
	} else {
		e.closer = logCloser
	}
	e.logger = logger

	store, err := openDB()
	if err != nil {
		if e.closer != nil {
			e.closer.Close()
		}
		return nil, err
	}
	e.store = store

	e.prefs = settings.New(store, settingsDefaults(cfg), logger)
	if _, err := e.prefs.Load(); err != nil {
		warn("%v", err)
	}
	return e, nil
}

// settingsDefaults seeds user preferences from the config file, so
// settings saved in the dashboard win over config values.
func settingsDefaults(cfg config.Config) settings.Settings {
	s := settings.Defaults()
	s.APIURL = cfg.Service.APIURL
	s.WSURL = cfg.Service.WSURL
	s.Transport = cfg.Service.Transport
	s.PollIntervalMs = cfg.Service.PollIntervalMs
	s.RefreshIntervalMs = cfg.RefreshIntervalMs
	s.Notifications = cfg.Notifications.Enabled
	return s
}

func openDB() (*db.DB, error) {
	dbPath := config.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}
	store, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func runDashboard() error {
	e, err := setup(applog.DefaultPrefix, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	app, err := ui.NewApp(e.store, e.cfg, e.prefs, e.logger)
	if err != nil {
		return err
	}
	return app.Run()
}
