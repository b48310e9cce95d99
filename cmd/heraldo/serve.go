package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/heraldo/internal/api"
	"github.com/zulandar/heraldo/internal/config"
	"github.com/zulandar/heraldo/internal/db"
	"github.com/zulandar/heraldo/internal/dispatch"
	"github.com/zulandar/heraldo/internal/logging"
	"github.com/zulandar/heraldo/internal/notify"
	discordnotify "github.com/zulandar/heraldo/internal/notify/discord"
	slacknotify "github.com/zulandar/heraldo/internal/notify/slack"
	telegramnotify "github.com/zulandar/heraldo/internal/notify/telegram"
	"github.com/zulandar/heraldo/internal/progress"
	"github.com/zulandar/heraldo/internal/quota"
	"github.com/zulandar/heraldo/internal/session"
	"github.com/zulandar/heraldo/internal/transport"
	"github.com/zulandar/heraldo/internal/transport/bridge"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and bulk dispatcher",
		Long:  "Connects to the database and the messaging bridge, then serves the session and bulk-send API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to heraldo config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload dispatch settings when the config file changes")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, watch bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	st, err := storeFromConfig(cfg, gormDB)
	if err != nil {
		return err
	}
	guard, err := quota.NewGuard(st, logging.Component(log, "quota"))
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg, log)
	if err != nil {
		return err
	}

	tracker := progress.New(nil)
	registry := session.NewRegistry(provider, logging.Component(log, "session"), session.Options{
		BadSessionPurgeDelay: cfg.Sessions.BadSessionPurgeDelay,
	})
	registry.OnRemove(tracker.Clear)

	senders, err := newSenders(cfg.Notify)
	if err != nil {
		return err
	}
	notifier := notify.New(logging.Component(log, "notify"), senders...)

	pol := dispatch.PolicyFromConfig(cfg)
	scheduler, err := dispatch.NewScheduler(dispatch.Options{
		Sessions: registry,
		Quota:    guard,
		Results:  st,
		Jobs:     st,
		Tracker:  tracker,
		Notifier: notifier,
		Rand:     dispatch.NewLockedRand(time.Now().UnixNano()),
		Policy:   &pol,
		Log:      logging.Component(log, "dispatch"),
	})
	if err != nil {
		return err
	}

	srv, err := api.New(api.Options{
		Sessions:  registry,
		Scheduler: scheduler,
		Tracker:   tracker,
		History:   st,
		Quota:     guard,
		Auth: api.AuthOptions{
			Secret:            cfg.Auth.JWTSecret,
			Issuer:            cfg.Auth.Issuer,
			AllowTenantHeader: cfg.Auth.AllowTenantHeader,
		},
		RatePerSec: cfg.Server.RatePerSec,
		Burst:      cfg.Server.Burst,
		Log:        logging.Component(log, "api"),
		Version:    Version,
	})
	if err != nil {
		return err
	}

	housekeeper, err := api.NewHousekeeper(api.HousekeeperOpts{
		Sessions:   registry,
		IdleTTL:    cfg.Sessions.IdleTTL,
		SweepCron:  cfg.Sessions.SweepCron,
		Totals:     st,
		Notifier:   notifier,
		DigestCron: cfg.Notify.DigestCron,
		Location:   cfg.Quota.LoadLocation(),
		Log:        logging.Component(log, "housekeeping"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if watch {
		go func() {
			err := config.Watch(ctx, configPath, logging.Component(log, "config"), func(next *config.Config) {
				scheduler.SetPolicy(dispatch.PolicyFromConfig(next))
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watch disabled")
			}
		}()
	}

	housekeeper.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		housekeeper.Stop(stopCtx)
	}()

	if port == 0 {
		port = cfg.Server.Port
	}
	log.Info().
		Str("version", Version).
		Str("bridge", cfg.Transport.URL).
		Strs("notify", notifier.Senders()).
		Msg("heraldo starting")

	err = srv.Start(ctx, port)

	// Running jobs are cancelled; sessions are released without logging out
	// so paired devices survive a restart.
	scheduler.Close()
	registry.Close()
	return err
}

// newProvider builds the configured transport. An unusable transport is a
// startup error.
func newProvider(cfg *config.Config, log zerolog.Logger) (transport.Provider, error) {
	switch cfg.Transport.Driver {
	case "bridge":
		p, err := bridge.New(bridge.Options{
			URL:            cfg.Transport.URL,
			DialTimeout:    cfg.Transport.DialTimeout,
			RequestTimeout: cfg.Transport.RequestTimeout,
			Log:            log,
		})
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("transport: unsupported driver %q", cfg.Transport.Driver)
}

// newSenders returns one notify.Sender per platform with credentials set.
func newSenders(cfg config.NotifyConfig) ([]notify.Sender, error) {
	var senders []notify.Sender
	if cfg.Slack.WebhookURL != "" {
		s, err := slacknotify.New(slacknotify.SenderOpts{WebhookURL: cfg.Slack.WebhookURL})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if cfg.Discord.BotToken != "" {
		s, err := discordnotify.New(discordnotify.SenderOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.Discord.ChannelID,
		})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if cfg.Telegram.Token != "" {
		s, err := telegramnotify.New(telegramnotify.SenderOpts{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, nil
}
