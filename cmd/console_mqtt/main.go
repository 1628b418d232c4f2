package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/fishing_controller/internal/app"
	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	broker := flag.String("broker", "", "MQTT broker, overrides mqtt.broker")
	flag.Parse()

	log.Println("starting fishing controller console (MQTT subscriber)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if cfg.MQTT.Broker == "" {
		log.Fatalf("no MQTT broker configured")
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunConsoleMQTT(ctx, cfg.MQTT.Broker, cfg.MQTT.TopicPrefix, os.Stdout, logger); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
