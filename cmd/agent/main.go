// Package main is the entry point for the BMS supervisor agent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/bacnet"
	"github.com/openbms-io/supervisor-sub000/internal/config"
	"github.com/openbms-io/supervisor-sub000/internal/diag"
	"github.com/openbms-io/supervisor-sub000/internal/dispatch"
	"github.com/openbms-io/supervisor-sub000/internal/heartbeat"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/monitor"
	"github.com/openbms-io/supervisor-sub000/internal/mqtt"
	"github.com/openbms-io/supervisor-sub000/internal/store"
	"github.com/openbms-io/supervisor-sub000/internal/uploader"
	"github.com/openbms-io/supervisor-sub000/internal/writer"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	command := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "run":
		runAgent(logger)
	case "mqtt-test":
		mqttTest(logger)
	case "setup":
		setup(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\nusage: agent [run|mqtt-test|setup]\n", command)
		os.Exit(2)
	}
}

// runAgent wires the full runtime and blocks until shutdown.
func runAgent(logger *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyCredentials(cfg, logger)

	logger.Info("Starting BMS supervisor agent",
		slog.String("organization", cfg.Identity.OrganizationID),
		slog.String("site", cfg.Identity.SiteID),
		slog.String("device", cfg.Identity.IotDeviceID),
	)

	db, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open point store: %v", err)
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Point store ready", slog.String("path", cfg.Store.Path))

	points := store.NewPointRepository(db, cfg.Store.RetryAttempts, cfg.Store.RetryBackoff, logger)
	status := store.NewStatusRepository(db, cfg.Store.RetryAttempts, cfg.Store.RetryBackoff, logger)
	configs := store.NewConfigRepository(db, cfg.Store.RetryAttempts, cfg.Store.RetryBackoff, logger)

	pool := bacnet.NewPool(bacnet.Dial, logger)
	if err := pool.Initialize(cfg.Readers); err != nil {
		log.Fatalf("Failed to initialize reader pool: %v", err)
	}
	defer pool.Cleanup()

	client, err := mqtt.NewClient(cfg.MQTT, logger)
	if err != nil {
		log.Fatalf("Failed to build MQTT client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime := actor.NewRuntime(logger)

	dispatcher, err := dispatch.New(mqtt.Identifiers{
		OrganizationID:     cfg.Identity.OrganizationID,
		SiteID:             cfg.Identity.SiteID,
		IotDeviceID:        cfg.Identity.IotDeviceID,
		ControllerDeviceID: cfg.Identity.ControllerDeviceID,
		IotDevicePointID:   cfg.Identity.IotDevicePointID,
	}, client, runtime, logger)
	if err != nil {
		log.Fatalf("Failed to build dispatcher: %v", err)
	}

	mon := monitor.New(pool, configs, points, status, runtime,
		cfg.Identity.IotDeviceID, cfg.Monitor.CycleInterval, logger)
	wr := writer.New(pool, configs, points, runtime, logger)
	up := uploader.New(points, dispatcher, runtime,
		cfg.Uploader.Interval, cfg.Uploader.CleanupInterval, cfg.Uploader.BatchSize, logger)
	hb := heartbeat.New(status, dispatcher, heartbeat.Identity{
		OrganizationID: cfg.Identity.OrganizationID,
		SiteID:         cfg.Identity.SiteID,
		IotDeviceID:    cfg.Identity.IotDeviceID,
	}, cfg.Heartbeat.Interval, logger)
	mqttActor := dispatch.NewMQTTActor(dispatcher, configs, status,
		cfg.Identity.IotDeviceID, stop, logger)

	mustRegister := func(name actor.Name, h actor.Handler) {
		if err := runtime.Register(name, h); err != nil {
			log.Fatalf("Failed to register actor %s: %v", name, err)
		}
	}
	mustRegister(actor.NameMQTT, mqttActor)
	mustRegister(actor.NameBacnet, mon)
	mustRegister(actor.NameBacnetWriter, wr)
	mustRegister(actor.NameUploader, up)
	mustRegister(actor.NameHeartbeat, hb)
	mustRegister(actor.NameSystemMetrics, mqttActor)
	mustRegister(actor.NameCleaner, actor.HandlerFunc(func(ctx context.Context, msg actor.Message) error {
		if msg.Type == models.CleanupRequestType {
			up.CleanupNow(ctx)
		}
		return nil
	}))

	// Surface transport transitions into the status snapshot.
	client.SetOnConnection(func(connected bool, _ error) {
		s := models.ConnectionConnected
		if !connected {
			s = models.ConnectionDisconnected
		}
		if err := runtime.Send(actor.NameMQTT, actor.NameMQTT,
			models.ConnectionStatusUpdateType, models.ConnectionStatusUpdate{MQTT: &s}); err != nil {
			logger.Error("failed to post connection status", slog.String("error", err.Error()))
		}
	})

	if err := runtime.Start(ctx); err != nil {
		log.Fatalf("Failed to start actor runtime: %v", err)
	}

	dispatcher.AttachToClient(client)
	if err := client.Connect(); err != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", err)
	}
	defer client.Disconnect()
	if err := dispatcher.SubscribeAll(client); err != nil {
		log.Fatalf("Failed to subscribe to command topics: %v", err)
	}
	logger.Info("Connected to MQTT broker", slog.String("broker", cfg.MQTT.BrokerURL()))

	var wg sync.WaitGroup
	runLoop := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	runLoop(mon.Run)
	runLoop(up.Run)
	runLoop(hb.Run)

	var diagSrv *diag.Server
	if cfg.Diag.Enabled {
		diagSrv = diag.NewServer(cfg.Diag, func() diag.Snapshot {
			return diag.Snapshot{
				MonitoringStatus:  string(mon.State()),
				MQTTConnected:     client.IsConnected(),
				ReaderUtilization: pool.Utilization(),
				Time:              time.Now().UTC().Format(time.RFC3339),
			}
		}, client.IsConnected, logger)
		go diagSrv.Start()
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	wg.Wait()
	runtime.Stop()
	if diagSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		diagSrv.Shutdown(shutdownCtx)
		cancel()
	}
	logger.Info("Shutdown complete")
}

// applyCredentials fills broker auth from the credentials file when the
// config leaves it unset. Missing credentials are not fatal; brokers
// without auth are common on closed networks.
func applyCredentials(cfg *config.Config, logger *slog.Logger) {
	if cfg.MQTT.Username != "" || cfg.Identity.CredentialsPath == "" {
		return
	}
	creds, err := config.LoadCredentials(cfg.Identity.CredentialsPath)
	if err != nil {
		logger.Warn("credentials file not usable, connecting without auth",
			slog.String("path", cfg.Identity.CredentialsPath),
			slog.String("error", err.Error()),
		)
		return
	}
	cfg.MQTT.Username = creds.ClientID
	cfg.MQTT.Password = creds.SecretKey
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = creds.ClientID
	}
}

// mqttTest checks broker connectivity and exits.
func mqttTest(logger *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyCredentials(cfg, logger)

	client, err := mqtt.NewClient(cfg.MQTT, logger)
	if err != nil {
		log.Fatalf("Failed to build MQTT client: %v", err)
	}
	if err := client.Connect(); err != nil {
		log.Fatalf("MQTT connectivity test failed: %v", err)
	}
	client.Disconnect()
	fmt.Printf("connected to %s\n", cfg.MQTT.BrokerURL())
}

// setup writes the credentials file used for broker authentication.
func setup(args []string) {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	clientID := fs.String("client-id", "", "platform client id")
	secretKey := fs.String("secret-key", "", "platform secret key")
	out := fs.String("out", "credentials.json", "credentials file path")
	fs.Parse(args)

	if *clientID == "" || *secretKey == "" {
		log.Fatal("setup requires -client-id and -secret-key")
	}

	data, err := json.MarshalIndent(config.Credentials{
		ClientID:  *clientID,
		SecretKey: *secretKey,
	}, "", "  ")
	if err != nil {
		log.Fatalf("Failed to serialize credentials: %v", err)
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		log.Fatalf("Failed to write credentials file: %v", err)
	}
	fmt.Printf("credentials written to %s\n", *out)
}
