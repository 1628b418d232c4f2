package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"
)

type serialSource struct {
	portName string
	baudRate uint

	// open is replaced in tests
	open func() (io.ReadWriteCloser, error)
}

// NewSerialSource creates a backend reading text lines from a
// microcontroller on a serial port. Each line carries one reading:
//
//	accel,0.01,-0.02,9.81
//	gyro,0.1,0,0
//	rotation,0.1,0.2,0.3[,w[,accuracy]]
func NewSerialSource(portName string, baudRate int) Stream {
	s := &serialSource{portName: portName, baudRate: uint(baudRate)}
	s.open = func() (io.ReadWriteCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:              s.portName,
			BaudRate:              s.baudRate,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		})
	}
	return s
}

func (s *serialSource) Name() string { return "serial" }

func (s *serialSource) Kinds() []Kind { return AllKinds }

func (s *serialSource) Run(ctx context.Context, emit func(Event)) error {
	port, err := s.open()
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.portName, err)
	}

	// reads block, so closing the port is what unblocks the scanner
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		port.Close()
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			// partial lines are common right after the port opens
			continue
		}
		emit(e)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return io.EOF
}

// ParseLine decodes one "<kind>,v0,v1,v2[,...]" line.
func ParseLine(line string) (Event, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return Event{}, fmt.Errorf("expected kind and at least 3 values, got %d fields", len(fields))
	}

	var kind Kind
	switch strings.ToLower(strings.TrimSpace(fields[0])) {
	case "accel":
		kind = LinearAcceleration
	case "gyro":
		kind = Gyroscope
	case "rotation":
		kind = RotationVector
	default:
		return Event{}, fmt.Errorf("unknown reading kind %q", fields[0])
	}

	values := make([]float64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Event{}, fmt.Errorf("parse %q: %w", f, err)
		}
		values = append(values, v)
	}
	return Event{Kind: kind, Values: values}, nil
}
