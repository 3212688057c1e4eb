package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"goldenhour/internal/api"
	"goldenhour/internal/clock"
	"goldenhour/internal/config"
	"goldenhour/internal/ha"
	"goldenhour/internal/lighting"
	"goldenhour/internal/location"
	"goldenhour/internal/metrics"
	"goldenhour/internal/mqtt"
	"goldenhour/internal/solar"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	// Bootstrap logger until the configured level is known
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if configured, err := cfg.NewLogger(); err == nil {
		logger = configured
	} else {
		logger.Warn("Falling back to default logger", zap.Error(err))
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Invalid timezone", zap.Error(err))
	}

	provider, err := solar.NewProvider(cfg.Provider)
	if err != nil {
		logger.Fatal("Invalid provider", zap.Error(err))
	}

	logger.Info("Starting golden hour tracker",
		zap.String("location_source", cfg.LocationSource),
		zap.String("provider", cfg.Provider),
		zap.String("timezone", loc.String()),
		zap.Duration("tick_interval", cfg.TickInterval))

	clk := clock.NewRealClock()

	source, closeSource := buildSource(cfg, clk, logger)
	defer closeSource()

	m := metrics.New()
	locator := location.NewLocator(source, clk, cfg.LocatorOptions(), logger)
	manager := lighting.NewManager(clk, solar.NewCache(provider, logger), locator, logger, lighting.Options{
		TickInterval: cfg.TickInterval,
		Location:     loc,
		Metrics:      m,
	})
	if cfg.Terminal {
		manager.AddRenderer(lighting.NewTerminalRenderer(os.Stdout))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logger.Fatal("Failed to start lighting manager", zap.Error(err))
	}

	server := api.NewServer(manager, m, logger, cfg.APIPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start HTTP API", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan
	if cfg.Terminal {
		fmt.Fprintln(os.Stdout)
	}

	logger.Info("Shutting down gracefully...")

	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop HTTP API", zap.Error(err))
	}
	manager.Stop()
}

// buildSource returns the configured location source and a function that
// releases its connection.
func buildSource(cfg *config.Config, clk clock.Clock, logger *zap.Logger) (location.Source, func()) {
	switch cfg.LocationSource {
	case location.SourceHomeAssistant:
		client := ha.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		source := location.NewHomeAssistantSource(client, cfg.HomeAssistant.Entity, clk, logger)
		return source, func() {
			if err := client.Disconnect(); err != nil {
				logger.Warn("Failed to disconnect from Home Assistant", zap.Error(err))
			}
		}

	case location.SourceOwnTracks:
		client := mqtt.NewClient(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, logger)
		source := location.NewOwnTracksSource(client, cfg.MQTT.Topic, clk, logger)
		return source, client.Disconnect

	default:
		return location.NewStaticSource(cfg.Coordinate(), clk), func() {}
	}
}
