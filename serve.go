package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zsprackett/agent-dashboard/internal/config"
	"github.com/zsprackett/agent-dashboard/internal/monitor"
	"github.com/zsprackett/agent-dashboard/internal/webserver"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web relay without the terminal dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	e, err := setup("agent-relay", os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	mon, err := monitor.New(monitor.Options{
		Config:   e.cfg,
		Settings: e.prefs.Current(),
		Store:    e.store,
		Logger:   e.logger,
	})
	if err != nil {
		return err
	}

	wcfg := e.cfg.Webserver
	if servePort != 0 {
		wcfg.Port = servePort
	}
	if serveHost != "" {
		wcfg.Host = serveHost
	}
	tlsCacheDir := wcfg.TLS.CacheDir
	if tlsCacheDir == "" {
		tlsCacheDir = config.CertsDir()
	}
	web := webserver.New(e.store, mon.View(), mon.API(), webserver.Config{
		Port: wcfg.Port,
		Host: wcfg.Host,
		TLS: webserver.TLSConfig{
			Mode:     wcfg.TLS.Mode,
			CertFile: wcfg.TLS.CertFile,
			KeyFile:  wcfg.TLS.KeyFile,
			CacheDir: tlsCacheDir,
		},
		Auth: webserver.AuthConfig{JWTSecret: wcfg.JWTSecret},
	}, e.logger)

	mon.Attach(web)
	if err := web.Start(); err != nil {
		return err
	}
	mon.Start()

	if ok, _ := e.store.HasAnyAccount(); !ok {
		color.Yellow("No relay accounts: the API is open. Add one with `agent-dashboard adduser <name>`.")
	}
	scheme := "http"
	if wcfg.TLS.Mode != "" {
		scheme = "https"
	}
	color.Green("Relay listening on %s://%s", scheme, web.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	e.logger.Info("serve: shutting down")
	mon.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return web.Shutdown(shutdownCtx)
}
