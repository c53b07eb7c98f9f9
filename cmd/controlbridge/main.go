// Control Bridge - device state bridge for a single networked controller.
//
// The bridge holds the authoritative state of one physical device (toggles,
// momentary buttons, sliders and sensor readings), relays control changes to
// the device over HTTP and keeps every WebSocket client, and optionally an
// MQTT broker, in sync with that state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/controlbridge/internal/actuator"
	"github.com/nerrad567/controlbridge/internal/api"
	"github.com/nerrad567/controlbridge/internal/infrastructure/broker"
	"github.com/nerrad567/controlbridge/internal/infrastructure/config"
	"github.com/nerrad567/controlbridge/internal/infrastructure/logging"
	"github.com/nerrad567/controlbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/controlbridge/internal/mirror"
	"github.com/nerrad567/controlbridge/internal/relay"
	"github.com/nerrad567/controlbridge/internal/state"
	"github.com/nerrad567/controlbridge/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Components are closed by deferred calls in reverse start order: telemetry,
// API, MQTT mirror, actuator, relay, MQTT client, embedded broker.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting control bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	store := state.NewStore()

	// Embedded broker (optional, only with MQTT enabled)
	var embedded *broker.Broker
	if cfg.MQTT.Enabled && cfg.MQTT.Embedded.Enabled {
		b, startErr := broker.Start(cfg.MQTT.Embedded, log.Logger)
		if startErr != nil {
			return fmt.Errorf("starting embedded broker: %w", startErr)
		}
		embedded = b
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
	}

	// MQTT client (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"prefix", mqttClient.Topics().Prefix,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Device relay
	rel, err := relay.New(store, relay.Target{
		Host:      cfg.Device.Host,
		Port:      cfg.Device.Port,
		TimeoutMS: cfg.Device.TimeoutMS,
	}, cfg.Device.MaxInFlight)
	if err != nil {
		return fmt.Errorf("creating device relay: %w", err)
	}
	rel.SetLogger(log.With("component", "relay"))
	rel.Attach()
	defer func() {
		log.Info("stopping device relay")
		if closeErr := rel.Close(); closeErr != nil {
			log.Error("error stopping device relay", "error", closeErr)
		}
	}()
	log.Info("device relay ready", "target", rel.Target().BaseURL())

	// Momentary buttons
	act := actuator.New(store, cfg.Actuator.Delay())
	act.SetLogger(log.With("component", "actuator"))
	act.Attach()
	defer func() {
		log.Info("stopping momentary actuator")
		act.Close()
	}()

	// MQTT state mirror
	var mir *mirror.Mirror
	if mqttClient != nil {
		mir = mirror.New(store, mqttClient, mqttClient.Topics(), mqttClient.QoS(), cfg.MQTT.QueueSize)
		mir.SetLogger(log.With("component", "mirror"))
		if startErr := mir.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT mirror: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT mirror")
			mir.Close()
		}()
	}

	// HTTP API and WebSocket hub
	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Store:   store,
		Relay:   rel,
		MQTT:    mqttClient,
		Mirror:  mir,
		Broker:  embedded,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, apiServer, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Telemetry runs until shutdown; run waits for it before the deferred
	// closes so no tick lands on a half-stopped bridge.
	sim := telemetry.New(store, telemetry.NewSyntheticSource(), cfg.Telemetry.Interval())
	sim.SetLogger(log.With("component", "telemetry"))
	simDone := make(chan error, 1)
	go func() { simDone <- sim.Run(ctx) }()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if simErr := <-simDone; simErr != nil && !errors.Is(simErr, context.Canceled) {
		log.Error("telemetry stopped with error", "error", simErr)
	}

	log.Info("control bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CONTROLBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CONTROLBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the started components are healthy.
// mqttClient may be nil when MQTT is disabled.
func healthCheck(ctx context.Context, apiServer *api.Server, mqttClient *mqtt.Client) error {
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}
