package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/SshgurkiratSingh/IPD-24/internal/api"
	"github.com/SshgurkiratSingh/IPD-24/internal/bus"
	"github.com/SshgurkiratSingh/IPD-24/internal/config"
	"github.com/SshgurkiratSingh/IPD-24/internal/engine"
	"github.com/SshgurkiratSingh/IPD-24/internal/logging"
	"github.com/SshgurkiratSingh/IPD-24/internal/notify"
	"github.com/SshgurkiratSingh/IPD-24/internal/store"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "hub",
		Short: "Home automation hub: task scheduling and trigger engine",
	}
	root.AddCommand(serveCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hub version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	}
}

func serveCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub engine and API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file")
	return cmd
}

func serve(cfgPath string) error {
	// Secrets (HUB_MQTT_PASSWORD, HUB_TELEGRAM_TOKEN, ...) may live in .env.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    logging.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	log.Info().Str("version", version).Msg("hub starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Durable state first: nothing arms without a store.
	busyTimeout, _ := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	st, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busyTimeout,
	}, log.With().Str("comp", "store").Logger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	connectTimeout, _ := config.ParseDurationOrDefault("mqtt.connect_timeout", cfg.MQTT.ConnectTimeout, 10*time.Second)
	publishTimeout, _ := config.ParseDurationOrDefault("mqtt.publish_timeout", cfg.MQTT.PublishTimeout, 5*time.Second)
	mq := bus.NewClient(bus.Config{
		BrokerURL:      cfg.MQTT.BrokerURL,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            byte(cfg.MQTT.QoS),
		Retain:         *cfg.MQTT.Retain,
		ConnectTimeout: connectTimeout,
		PublishTimeout: publishTimeout,
	}, log.With().Str("comp", "mqtt").Logger())
	if err := mq.Connect(ctx); err != nil {
		return err
	}
	defer mq.Close()

	states := bus.NewStateLog()
	for _, err := range states.Attach(mq, cfg.Topics) {
		log.Warn().Err(err).Msg("state topic subscription failed")
	}

	var notifier *notify.Service
	var execNotif engine.Notifier
	if cfg.Notify.Enabled {
		sink, err := notify.NewTelegramSink(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			return err
		}
		notifier = notify.New(notify.Config{
			Enabled:    true,
			Workers:    cfg.Notify.Workers,
			QueueSize:  cfg.Notify.QueueSize,
			RatePerSec: cfg.Notify.RatePerSec,
		}, sink, log.With().Str("comp", "notify").Logger())
		notifier.Start(ctx)
		defer notifier.Stop()
		execNotif = notifier
	}

	exec := engine.NewExecutor(st, mq, execNotif, log.With().Str("comp", "executor").Logger())
	sched := engine.NewScheduler(exec, log.With().Str("comp", "scheduler").Logger())
	defer sched.Stop()
	trig := engine.NewTriggerManager(st, mq, exec, log.With().Str("comp", "triggers").Logger())

	grace, _ := config.ParseDurationOrDefault("engine.grace", cfg.Engine.Grace, 60*time.Second)
	ctrl := engine.NewController(st, sched, trig, grace, log.With().Str("comp", "controller").Logger())

	// Rebuild timers and subscriptions lost on the last shutdown.
	if err := ctrl.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("startup reconciliation incomplete, periodic resync will retry")
	}

	reconcileEvery, _ := config.ParseDurationOrDefault("engine.reconcile_interval", cfg.Engine.ReconcileInterval, 5*time.Minute)
	retention, _ := config.ParseDurationOrDefault("engine.history_retention", cfg.Engine.HistoryRetention, 30*24*time.Hour)
	jobs, err := ctrl.StartJobs(reconcileEvery, retention)
	if err != nil {
		return err
	}
	defer func() { <-jobs.Stop().Done() }()

	watcher := config.NewWatcher(cfgPath, cfg, log.With().Str("comp", "config").Logger())
	go func() {
		err := watcher.Watch(ctx, func(next *config.Config) {
			logging.SetLevel(next.Log.Level)
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher exited")
		}
	}()

	readTimeout, _ := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	writeTimeout, _ := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	srv := api.NewServer(api.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, ctrl, states, log.With().Str("comp", "http").Logger())

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	return srv.Run(ctx)
}
