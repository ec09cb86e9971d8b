// Package serialport opens the host side of the telemetry link.
package serialport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the firmware UART.
const DefaultBaudRate = 115200

// Auto selects the first port the OS reports.
const Auto = "auto"

var ErrNoPorts = errors.New("serialport: no serial ports found")

// Options describes the line settings.
type Options struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
	// ReadTimeout makes reads return (0, nil) when nothing arrives.
	// Zero blocks.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Normalize validates the options and applies defaults for unset values.
func (o Options) Normalize() (Options, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	if opts.ReadTimeout < 0 {
		opts.ReadTimeout = 0
	}
	return opts, nil
}

// Mode converts the options into a serial.Mode.
func (o Options) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// List returns the serial ports present on the host.
func List() ([]string, error) {
	return serial.GetPortsList()
}

// Resolve maps "" or "auto" to the first available port.
func Resolve(path string) (string, error) {
	if path != "" && path != Auto {
		return path, nil
	}
	ports, err := List()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoPorts
	}
	return ports[0], nil
}

// Open resolves path and opens it with opts.
func Open(path string, opts Options) (serial.Port, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	path, err = Resolve(path)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if n, _ := opts.Normalize(); n.ReadTimeout > 0 {
		if err := port.SetReadTimeout(n.ReadTimeout); err != nil {
			port.Close()
			return nil, err
		}
	}
	return port, nil
}
