// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/fishing_controller/internal/logging"
)

const (
	standardGravity = 9.80665
	// default ±2g and ±250°/s full-scale ranges
	accelLSBPerG   = 16384.0
	gyroLSBPerDegS = 131.0
)

// mpuReader is the subset of the driver the backend reads from.
type mpuReader interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

type imuSource struct {
	logger   logging.Logger
	spiDev   string
	csPin    string
	clk      clock.Clock
	interval time.Duration

	// open is replaced in tests
	open func() (mpuReader, error)
}

// NewMPU9250Source creates a backend reading an MPU9250 over SPI. The chip
// has no fusion engine, so only acceleration and angular velocity are
// provided.
func NewMPU9250Source(logger logging.Logger, spiDev, csPin string, clk clock.Clock, interval time.Duration) Stream {
	s := &imuSource{logger: logger, spiDev: spiDev, csPin: csPin, clk: clk, interval: interval}
	s.open = s.openDevice
	return s
}

func (s *imuSource) Name() string { return "mpu9250" }

func (s *imuSource) Kinds() []Kind { return []Kind{LinearAcceleration, Gyroscope} }

func (s *imuSource) openDevice() (mpuReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(s.csPin)
	if cs == nil {
		return nil, fmt.Errorf("CS pin %q not found", s.csPin)
	}

	tr, err := mpu9250.NewSpiTransport(s.spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("SPI transport (%s): %w", s.spiDev, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("initialization: %w", err)
	}
	if err := dev.Calibrate(); err != nil {
		s.logger.Warnf("sensors: mpu9250 calibration failed: %v", err)
	}
	s.logger.Infof("sensors: mpu9250 ready on %s (cs=%s)", s.spiDev, s.csPin)
	return dev, nil
}

func (s *imuSource) Run(ctx context.Context, emit func(Event)) error {
	dev, err := s.open()
	if err != nil {
		return fmt.Errorf("mpu9250: %w", err)
	}

	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			accel, gyro, err := readMPU(dev)
			if err != nil {
				s.logger.Debugf("sensors: mpu9250 read: %v", err)
				continue
			}
			emit(Event{Kind: LinearAcceleration, Values: accel})
			emit(Event{Kind: Gyroscope, Values: gyro})
		}
	}
}

// readMPU returns acceleration in m/s² and angular velocity in rad/s.
func readMPU(dev mpuReader) (accel, gyro []float64, err error) {
	ax, err := dev.GetAccelerationX()
	if err != nil {
		return nil, nil, fmt.Errorf("accel X: %w", err)
	}
	ay, err := dev.GetAccelerationY()
	if err != nil {
		return nil, nil, fmt.Errorf("accel Y: %w", err)
	}
	az, err := dev.GetAccelerationZ()
	if err != nil {
		return nil, nil, fmt.Errorf("accel Z: %w", err)
	}

	gx, err := dev.GetRotationX()
	if err != nil {
		return nil, nil, fmt.Errorf("gyro X: %w", err)
	}
	gy, err := dev.GetRotationY()
	if err != nil {
		return nil, nil, fmt.Errorf("gyro Y: %w", err)
	}
	gz, err := dev.GetRotationZ()
	if err != nil {
		return nil, nil, fmt.Errorf("gyro Z: %w", err)
	}

	accel = []float64{accelToMS2(ax), accelToMS2(ay), accelToMS2(az)}
	gyro = []float64{gyroToRadS(gx), gyroToRadS(gy), gyroToRadS(gz)}
	return accel, gyro, nil
}

func accelToMS2(raw int16) float64 {
	return float64(raw) / accelLSBPerG * standardGravity
}

func gyroToRadS(raw int16) float64 {
	return float64(raw) / gyroLSBPerDegS * math.Pi / 180
}
