package app

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/logging"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
	// basicfont.Face7x13 fits this many characters on a line
	lineChars = displayWidth / 7
)

// panel is the part of an SSD1306 the status screen draws on.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// RunDisplay shows the controller status on an SSD1306 over I2C, refreshed
// every interval until ctx is cancelled.
func RunDisplay(ctx context.Context, cfg config.DisplayConfig, interval time.Duration, b *Bridge, clk clock.Clock, logger logging.Logger) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, cfg.I2CAddr, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	logger.Infof("display: initialized at 0x%02X", cfg.I2CAddr)

	return runPanel(ctx, dev, interval, b.State(), clk, logger)
}

func runPanel(ctx context.Context, dev panel, interval time.Duration, state *State, clk clock.Clock, logger logging.Logger) error {
	if err := drawLines(dev, splashLines()); err != nil {
		logger.Warnf("display: error showing splash: %v", err)
	}

	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	logger.Debugf("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := drawLines(dev, statusLines(state.Status())); err != nil {
				logger.Warnf("display: error updating display: %v", err)
			}
		}
	}
}

func splashLines() []string {
	return []string{"", " Fishing Ctrl", "  starting..."}
}

// statusLines lays out the four text lines of the status screen.
func statusLines(st Status) []string {
	last := "no message"
	if strings.HasPrefix(st.LastMessage, messageReceived) {
		last = "rx " + strings.TrimPrefix(st.LastMessage, messageReceived)
	}
	imu := st.IMU
	if i := strings.IndexByte(imu, '\n'); i >= 0 {
		imu = imu[:i]
	}
	return []string{
		clip(st.Connection),
		clip(fmt.Sprintf("%s %s", st.Mode, st.RotationSpeed)),
		clip(imu),
		clip(last),
	}
}

func clip(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > lineChars {
		return string(r[:lineChars])
	}
	return s
}

// render draws lines top to bottom onto a blank frame.
func render(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawString(line)
	}
	return img
}

func drawLines(dev panel, lines []string) error {
	return dev.Draw(dev.Bounds(), render(lines), image.Point{})
}
