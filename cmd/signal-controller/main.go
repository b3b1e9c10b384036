package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/db"
	"github.com/thatsimonsguy/signal-controller/internal/actuator"
	"github.com/thatsimonsguy/signal-controller/internal/api"
	"github.com/thatsimonsguy/signal-controller/internal/config"
	"github.com/thatsimonsguy/signal-controller/internal/connectivity"
	"github.com/thatsimonsguy/signal-controller/internal/controller"
	"github.com/thatsimonsguy/signal-controller/internal/datadog"
	"github.com/thatsimonsguy/signal-controller/internal/env"
	"github.com/thatsimonsguy/signal-controller/internal/gpio"
	"github.com/thatsimonsguy/signal-controller/internal/logging"
	"github.com/thatsimonsguy/signal-controller/internal/mqtt"
	"github.com/thatsimonsguy/signal-controller/internal/notifications"
	"github.com/thatsimonsguy/signal-controller/internal/pinctrl"
	"github.com/thatsimonsguy/signal-controller/internal/schedule"
	"github.com/thatsimonsguy/signal-controller/internal/wifi"
	"github.com/thatsimonsguy/signal-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("ssid", cfg.WiFi.SSID).
		Int("http_port", cfg.HTTPPort).
		Msg("Starting signal controller")

	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED: GPIO writes are logged and skipped")
	}

	out := gpio.NewPinctrlOutput(pinctrl.New(), cfg.SafeMode)
	pins := cfg.Pins()
	bank := actuator.NewBank(out, actuator.Pins{
		Green: pins["green_indicator"],
		Red:   pins["red_indicator"],
		Sound: pins["buzzer"],
	})
	env.Bank = bank

	if err := bank.Reset(); err != nil {
		shutdown.ShutdownWithError(err, "Failed to drive outputs inactive at boot")
	}
	if !cfg.SafeMode {
		if err := gpio.ValidateStartupPins(out, pins); err != nil {
			shutdown.ShutdownWithError(err, "Refusing to start due to unsafe pin states")
		}
	}

	var journal *sql.DB
	if conn, err := db.Open(cfg.DBPath); err != nil {
		log.Warn().Err(err).Msg("Command journal unavailable, continuing without it")
	} else {
		journal = conn
		defer journal.Close()
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
	}

	recorder := &controller.Recorder{
		DB:       journal,
		Metrics:  datadog.InitMetrics(cfg.DDAgentAddr, cfg.DDNamespace, cfg.DDTags, cfg.EnableDatadog),
		MQTT:     publisher,
		Notifier: notifications.New(cfg.NtfyTopic, cfg.NotifyInterval.Duration),
	}

	server := api.NewServer(bank)
	server.OnResult(recorder.OnResult)

	radio := wifi.NewWpaCli(cfg.WiFi.Interface)
	manager := connectivity.NewManager(radio,
		connectivity.WithBackoff(cfg.WiFi.BackoffInitial.Duration, cfg.WiFi.BackoffMax.Duration),
		connectivity.WithAttemptTimeout(cfg.WiFi.AttemptTimeout.Duration),
		connectivity.WithStateListener(recorder.OnConnectivity),
	)

	scheduler := schedule.New(server)
	for _, s := range cfg.Schedules {
		if _, err := scheduler.Add(s.Spec, s.Command()); err != nil {
			log.Warn().Err(err).Msg("Skipping schedule")
		}
	}
	if journal != nil && cfg.JournalRetention.Duration > 0 {
		retention := cfg.JournalRetention.Duration
		recorder.PruneJournal(retention)
		if _, err := scheduler.AddTask("@daily", "prune journal", func() { recorder.PruneJournal(retention) }); err != nil {
			log.Warn().Err(err).Msg("Journal pruning not scheduled")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go radio.Watch(ctx, cfg.WiFi.PollInterval.Duration)
	manager.Begin(cfg.Credentials())
	publisher.Connect()
	scheduler.Start()

	loop := controller.New(manager, server, controller.Options{
		ListenAddr:   cfg.ListenAddr(),
		TickInterval: cfg.TickInterval.Duration,
		DrainLimit:   cfg.DrainLimit,
	})
	loop.Run(ctx)

	log.Info().Msg("Shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}

	recorder.OnShutdownError(shutdown.SafeOutputs(bank))
	publisher.Disconnect()

	log.Info().Msg("Signal controller stopped")
}
