package sensors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/fishing_controller/internal/orientation"
)

// IIORoot is where Linux exposes industrial I/O devices.
const IIORoot = "/sys/bus/iio/devices"

// IIODevice is an accelerometer and/or gyroscope exposed through sysfs.
// Readings are raw*scale: rad/s for anglvel, m/s² for accel.
type IIODevice struct {
	Base       string
	Name       string
	HaveGyro   bool
	HaveAccel  bool
	GyroScale  orientation.MotionVector
	AccelScale orientation.MotionVector
}

// IIOInfo describes a device found under the IIO root.
type IIOInfo struct {
	Path     string
	Name     string
	HasGyro  bool
	HasAccel bool
}

// ListIIODevices returns every iio:deviceN under root, sorted by path.
func ListIIODevices(root string) ([]IIOInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var out []IIOInfo
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "iio:device") {
			continue
		}
		dev := filepath.Join(root, e.Name())
		name, _ := os.ReadFile(filepath.Join(dev, "name"))
		out = append(out, IIOInfo{
			Path:     dev,
			Name:     strings.TrimSpace(string(name)),
			HasGyro:  fileExists(filepath.Join(dev, "in_anglvel_x_raw")),
			HasAccel: fileExists(filepath.Join(dev, "in_accel_x_raw")),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FindIIODevice picks a device by name: exact match first, then partial,
// then the first device with IMU channels. An empty name picks the first
// device with IMU channels.
func FindIIODevice(root, name string) (string, error) {
	devices, err := ListIIODevices(root)
	if err != nil {
		return "", err
	}

	want := strings.ToLower(strings.TrimSpace(name))
	var exact, partial, firstIMU string
	for _, d := range devices {
		if firstIMU == "" && (d.HasGyro || d.HasAccel) {
			firstIMU = d.Path
		}
		if want == "" {
			continue
		}
		have := strings.ToLower(d.Name)
		if have == want && exact == "" {
			exact = d.Path
		}
		if partial == "" && have != "" && (strings.Contains(have, want) || strings.Contains(want, have)) {
			partial = d.Path
		}
	}

	switch {
	case exact != "":
		return exact, nil
	case partial != "":
		return partial, nil
	case firstIMU != "":
		return firstIMU, nil
	default:
		return "", fmt.Errorf("iio device with name %q not found under %s", name, root)
	}
}

// OpenIIODevice inspects the channels and scales of the device at base.
func OpenIIODevice(base string) (*IIODevice, error) {
	dev := &IIODevice{Base: base}
	if b, err := os.ReadFile(filepath.Join(base, "name")); err == nil {
		dev.Name = strings.TrimSpace(string(b))
	}

	dev.HaveGyro = fileExists(filepath.Join(base, "in_anglvel_x_raw"))
	dev.HaveAccel = fileExists(filepath.Join(base, "in_accel_x_raw"))
	if !dev.HaveGyro && !dev.HaveAccel {
		return nil, errors.New("no gyro/accel channels found in IIO device")
	}

	if dev.HaveGyro {
		dev.GyroScale = readScales(base, "anglvel")
	}
	if dev.HaveAccel {
		dev.AccelScale = readScales(base, "accel")
	}
	return dev, nil
}

// readScales reads per-axis scales, falling back to y/z = x and then to the
// shared in_<channel>_scale file.
func readScales(base, channel string) orientation.MotionVector {
	var sx, sy, sz float64
	if v, ok := readFloatIfExists(filepath.Join(base, "in_"+channel+"_x_scale")); ok {
		sx = v
	}
	if v, ok := readFloatIfExists(filepath.Join(base, "in_"+channel+"_y_scale")); ok {
		sy = v
	} else {
		sy = sx
	}
	if v, ok := readFloatIfExists(filepath.Join(base, "in_"+channel+"_z_scale")); ok {
		sz = v
	} else {
		sz = sx
	}
	if sx == 0 && sy == 0 && sz == 0 {
		if v, ok := readFloatIfExists(filepath.Join(base, "in_"+channel+"_scale")); ok {
			sx, sy, sz = v, v, v
		}
	}
	return orientation.MotionVector{X: sx, Y: sy, Z: sz}
}

// Read returns the current gyro and accel values. A channel the device
// lacks reads as zero.
func (d *IIODevice) Read() (gyro, accel orientation.MotionVector, err error) {
	if d.HaveGyro {
		gyro, err = d.readAxes("anglvel", d.GyroScale)
		if err != nil {
			return gyro, accel, err
		}
	}
	if d.HaveAccel {
		accel, err = d.readAxes("accel", d.AccelScale)
		if err != nil {
			return gyro, accel, err
		}
	}
	return gyro, accel, nil
}

func (d *IIODevice) readAxes(channel string, scale orientation.MotionVector) (orientation.MotionVector, error) {
	var raw [3]int64
	for i, axis := range []string{"x", "y", "z"} {
		v, err := readInt(filepath.Join(d.Base, "in_"+channel+"_"+axis+"_raw"))
		if err != nil {
			return orientation.MotionVector{}, fmt.Errorf("%s %s: %w", channel, axis, err)
		}
		raw[i] = v
	}
	return orientation.MotionVector{
		X: float64(raw[0]) * scale.X,
		Y: float64(raw[1]) * scale.Y,
		Z: float64(raw[2]) * scale.Z,
	}, nil
}

type iioSource struct {
	root     string
	path     string
	name     string
	clk      clock.Clock
	interval time.Duration
}

// NewIIOSource creates a backend polling an IIO device. path wins over
// name; both empty picks the first device with IMU channels under root.
func NewIIOSource(root, path, name string, clk clock.Clock, interval time.Duration) Stream {
	if root == "" {
		root = IIORoot
	}
	return &iioSource{root: root, path: path, name: name, clk: clk, interval: interval}
}

func (s *iioSource) Name() string { return "iio" }

// IIO devices carry no fused orientation.
func (s *iioSource) Kinds() []Kind { return []Kind{LinearAcceleration, Gyroscope} }

func (s *iioSource) Run(ctx context.Context, emit func(Event)) error {
	base := s.path
	if base == "" {
		var err error
		base, err = FindIIODevice(s.root, s.name)
		if err != nil {
			return err
		}
	}
	dev, err := OpenIIODevice(base)
	if err != nil {
		return fmt.Errorf("open %s: %w", base, err)
	}

	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			gyro, accel, err := dev.Read()
			if err != nil {
				// transient sysfs read errors: skip the sample
				continue
			}
			if dev.HaveGyro {
				emit(Event{Kind: Gyroscope, Values: []float64{gyro.X, gyro.Y, gyro.Z}})
			}
			if dev.HaveAccel {
				emit(Event{Kind: LinearAcceleration, Values: []float64{accel.X, accel.Y, accel.Z}})
			}
		}
	}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func readInt(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty value in %s", path)
	}
	v, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parseInt %q: %w", fields[0], err)
	}
	return v, nil
}

func readFloatIfExists(path string) (float64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
