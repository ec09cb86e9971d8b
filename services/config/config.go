// Package config loads the YAML configuration shared by the host tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"magarray-go/drivers/mlx90393"
	"magarray-go/internal/serialport"
	"magarray-go/services/sensorgroup"
	"magarray-go/x/mathx"
)

// Reader modes of the host monitor.
const (
	ReaderStream = "stream" // accumulating frame reader
	ReaderBlock  = "block"  // fixed-block reader, one frame per poll
)

type Config struct {
	Serial   Serial             `yaml:"serial"`
	Monitor  Monitor            `yaml:"monitor"`
	Recorder Recorder           `yaml:"recorder"`
	Group    Group              `yaml:"group"`
	Layout   sensorgroup.Layout `yaml:"layout"`
}

type Serial struct {
	// Port is a device path, or "auto" for the first port found.
	Port               string `yaml:"port"`
	serialport.Options `yaml:",inline"`
}

type Monitor struct {
	Reader string        `yaml:"reader"`
	Poll   time.Duration `yaml:"poll"`
	// SkipPreamble suppresses the wake bytes sent after opening the port.
	SkipPreamble bool `yaml:"skip_preamble"`
	// Queue is the depth of each bus subscription.
	Queue int `yaml:"queue"`
	// Quiet disables the text renderer.
	Quiet bool `yaml:"quiet"`
}

type Recorder struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Group tunes the sensor group driven by the simulator and firmware.
type Group struct {
	Channels     string        `yaml:"channels"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Interval     time.Duration `yaml:"interval"`
}

const (
	defaultPoll      = 100 * time.Millisecond
	defaultQueue     = 16
	defaultDBPath    = "magview.db"
	defaultBatch     = 64
	defaultFlush     = time.Second
	defaultChannels  = "xyzt"
	defaultReadyWait = 50 * time.Millisecond
)

// Default returns the normalised zero configuration.
func Default() Config {
	c, _ := Config{}.Normalize()
	return c
}

// Normalize applies defaults and bounds, and validates what cannot be
// defaulted.
func (c Config) Normalize() (Config, error) {
	out := c

	out.Serial.Port = mathx.OrDefault(out.Serial.Port, serialport.Auto)
	opts, err := out.Serial.Options.Normalize()
	if err != nil {
		return out, fmt.Errorf("config: serial: %w", err)
	}
	out.Serial.Options = opts

	switch out.Monitor.Reader {
	case "":
		out.Monitor.Reader = ReaderStream
	case ReaderStream, ReaderBlock:
	default:
		return out, fmt.Errorf("config: monitor: unknown reader %q", out.Monitor.Reader)
	}
	out.Monitor.Poll = mathx.ClampOrDefault(out.Monitor.Poll, defaultPoll, time.Millisecond, 10*time.Second)
	out.Monitor.Queue = mathx.ClampOrDefault(out.Monitor.Queue, defaultQueue, 1, 1024)

	out.Recorder.Path = mathx.OrDefault(out.Recorder.Path, defaultDBPath)
	out.Recorder.BatchSize = mathx.ClampOrDefault(out.Recorder.BatchSize, defaultBatch, 1, 4096)
	out.Recorder.FlushInterval = mathx.ClampOrDefault(out.Recorder.FlushInterval, defaultFlush, 10*time.Millisecond, time.Minute)

	out.Group.Channels = mathx.OrDefault(out.Group.Channels, defaultChannels)
	if _, err := out.Group.ChannelSet(); err != nil {
		return out, fmt.Errorf("config: group: %w", err)
	}
	out.Group.ReadyTimeout = mathx.ClampOrDefault(out.Group.ReadyTimeout, defaultReadyWait, time.Millisecond, 10*time.Second)
	out.Group.Interval = mathx.Clamp(out.Group.Interval, 0, time.Minute)

	if len(out.Layout) == 0 {
		out.Layout = sensorgroup.DefaultLayout()
	}
	if err := out.Layout.Validate(); err != nil {
		return out, fmt.Errorf("config: %w", err)
	}
	return out, nil
}

// ChannelSet parses Channels.
func (g Group) ChannelSet() (mlx90393.ChannelSet, error) {
	set, err := mlx90393.ParseChannelSet(g.Channels)
	if err != nil {
		return 0, err
	}
	if set == 0 {
		return 0, errors.New("no channels selected")
	}
	return set, nil
}

// Options converts g into sensor group options.
func (g Group) Options(log *slog.Logger) (sensorgroup.Options, error) {
	set, err := g.ChannelSet()
	if err != nil {
		return sensorgroup.Options{}, err
	}
	return sensorgroup.Options{
		Channels:     set,
		ReadyTimeout: g.ReadyTimeout,
		Interval:     g.Interval,
		Logger:       log,
	}, nil
}

// Parse decodes YAML and normalises the result. Unknown keys are errors.
// Empty input yields Default().
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c.Normalize()
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}
