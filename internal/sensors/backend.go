package sensors

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/logging"
)

// NewStream builds the backend selected in cfg, sampling every interval.
func NewStream(cfg config.SensorsConfig, interval time.Duration, clk clock.Clock, logger logging.Logger) (Stream, error) {
	switch cfg.Backend {
	case config.BackendMock:
		return NewMockSource(clk, interval), nil
	case config.BackendIIO:
		return NewIIOSource(IIORoot, cfg.IIO.Path, cfg.IIO.Name, clk, interval), nil
	case config.BackendMPU9250:
		return NewMPU9250Source(logger, cfg.MPU9250.SPIDevice, cfg.MPU9250.CSPin, clk, interval), nil
	case config.BackendSerial:
		return NewSerialSource(cfg.Serial.Port, cfg.Serial.BaudRate), nil
	default:
		return nil, fmt.Errorf("unknown sensor backend %q", cfg.Backend)
	}
}
