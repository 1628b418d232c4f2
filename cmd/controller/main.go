// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/fishing_controller/internal/app"
	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/logging"
	"github.com/relabs-tech/fishing_controller/internal/sensors"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	address := flag.String("address", "", "rosbridge address, e.g. ws://10.0.0.2:9090")
	frameID := flag.String("frame-id", "", "frame id sent in IMU headers and string output")
	backend := flag.String("backend", "", "sensor backend: mock, iio, mpu9250, serial")
	autoConnect := flag.Bool("connect", false, "connect to rosbridge on startup")
	listIIO := flag.Bool("list-iio", false, "list IIO devices and exit")
	flag.Parse()

	if *listIIO {
		if err := printIIODevices(); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	overrides := map[string]string{
		"ROS_ADDRESS":    *address,
		"ROS_FRAME_ID":   *frameID,
		"SENSOR_BACKEND": *backend,
	}
	if *autoConnect {
		overrides["ROS_AUTO_CONNECT"] = "true"
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		if err := cfg.Set(key, value); err != nil {
			log.Fatalf("invalid flag: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	logger.Infof("starting fishing controller (%s sensors to rosbridge)", cfg.Sensors.Backend)

	if err := run(cfg, logger); err != nil {
		logger.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	clk := clock.New()

	stream, err := sensors.NewStream(cfg.Sensors, cfg.SensorInterval(), clk, logger)
	if err != nil {
		return err
	}
	sampler := sensors.NewSampler(logger, stream)
	bridge := app.NewBridge(cfg, logger, clk, sampler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := bridge.Run(ctx); err != nil {
			// shutdown problems are reported but do not fail the process
			logger.Warnf("bridge: %v", err)
		}
		return nil
	})
	if cfg.Web.Addr != "" {
		g.Go(func() error { return app.RunWeb(ctx, cfg.Web.Addr, bridge, logger) })
	}
	// the status mirror and the display are optional; the controller keeps
	// running without them
	if cfg.MQTT.Broker != "" {
		g.Go(func() error {
			if err := app.RunStatusMQTT(ctx, cfg.MQTT, cfg.StatusInterval(), bridge, clk, logger); err != nil {
				logger.Warnf("mqtt: status mirror disabled: %v", err)
			}
			return nil
		})
	}
	if cfg.Display.Enabled {
		g.Go(func() error {
			if err := app.RunDisplay(ctx, cfg.Display, cfg.DisplayInterval(), bridge, clk, logger); err != nil {
				logger.Warnf("display: disabled: %v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Infof("fishing controller stopped")
	return err
}

func printIIODevices() error {
	devices, err := sensors.ListIIODevices(sensors.IIORoot)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no IIO devices found")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%-40s name=%-16s gyro=%-5t accel=%t\n", d.Path, d.Name, d.HasGyro, d.HasAccel)
	}
	return nil
}
