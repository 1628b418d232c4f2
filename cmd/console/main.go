// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/fishing_controller/internal/app"
	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/logging"
	"github.com/relabs-tech/fishing_controller/internal/sensors"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	backend := flag.String("backend", "", "sensor backend: mock, iio, mpu9250, serial")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *backend != "" {
		if err := cfg.Set("SENSOR_BACKEND", *backend); err != nil {
			log.Fatalf("invalid flag: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	logger.Infof("starting fishing controller sensor console (%s)", cfg.Sensors.Backend)

	clk := clock.New()
	stream, err := sensors.NewStream(cfg.Sensors, cfg.SensorInterval(), clk, logger)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunSensorConsole(ctx, sensors.NewSampler(logger, stream), clk, cfg.PublishInterval(), os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
