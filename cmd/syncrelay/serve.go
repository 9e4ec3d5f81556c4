package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/syncrelay"
	"pkt.systems/syncrelay/core"
	"pkt.systems/syncrelay/httpapi"
	"pkt.systems/syncrelay/internal/appconfig"
	"pkt.systems/syncrelay/schema"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Relay.Key == "" {
				logger.Warn("relay.key is not set; client endpoints will refuse requests")
			}

			serverCfg := syncrelay.ServerConfig{
				Service: schema.ServiceConfig{
					AutoCreate:  cfg.Service.AutoCreate,
					MaxCommands: cfg.Service.MaxCommands,
				},
				HTTP:       toHTTPConfig(cfg),
				Auth:       toAuthConfig(cfg.Auth),
				Archive:    toArchiveConfig(cfg.Archive),
				StateDir:   cfg.StateDir,
				HubHistory: cfg.Relay.StreamEvents,
			}
			serverDeps := syncrelay.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					Logger: logger,
				},
			}
			server, err := syncrelay.New(serverCfg, serverDeps, syncrelay.WithHTTP())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func toHTTPConfig(cfg appconfig.Config) httpapi.Config {
	return httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		SessionCookie:   cfg.HTTP.SessionCookie,
		SessionTTLHours: cfg.HTTP.SessionTTLHours,
		BaseURL:         cfg.HTTP.BaseURL,
		BasePath:        cfg.HTTP.BasePath,
		RelayKey:        cfg.Relay.Key,
		StreamEvents:    cfg.Relay.StreamEvents,
		SessionFile:     filepath.Join(cfg.StateDir, "sessions.json"),
	}
}

func toAuthConfig(cfg appconfig.AuthConfig) syncrelay.AuthConfig {
	seeds := make([]syncrelay.SeedUser, 0, len(cfg.SeedUsers))
	for _, seed := range cfg.SeedUsers {
		seeds = append(seeds, syncrelay.SeedUser{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
		})
	}
	return syncrelay.AuthConfig{
		UserFile:  cfg.UserFile,
		SeedUsers: seeds,
	}
}

func toArchiveConfig(cfg appconfig.ArchiveConfig) syncrelay.ArchiveConfig {
	return syncrelay.ArchiveConfig{
		Enabled:  cfg.Enabled,
		KeyStore: cfg.KeyStore,
		Dir:      cfg.Dir,
	}
}
