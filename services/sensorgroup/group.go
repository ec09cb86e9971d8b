// Package sensorgroup polls an array of MLX90393 sensors sharing one I2C
// bus and streams one framed wire.Message per sensor reading to a sink.
//
// Sensors are serviced strictly one after another; the bus never carries
// two transactions at once. A failing sensor is reset and skipped for the
// cycle, and encode or transport failures drop that sensor's message. The
// next cycle starts fresh.
package sensorgroup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"magarray-go/drivers/mlx90393"
	"magarray-go/errcode"
	"magarray-go/wire"
)

// Member is one sensor of the group with its fixed board position.
type Member struct {
	Sensor   *mlx90393.Sensor
	Position wire.Position

	fails int // consecutive failed cycles
	skip  int // cycles left to sit out
}

// MaxBackoff caps the number of cycles a repeatedly failing sensor sits
// out between attempts.
const MaxBackoff = 16

// backoff is the number of cycles to skip after the n-th consecutive
// failure: 0, 1, 3, 7, ... up to MaxBackoff.
func backoff(n int) int {
	if n <= 1 {
		return 0
	}
	if n > 5 {
		return MaxBackoff
	}
	return 1<<(n-1) - 1
}

// Options tune a Group. Zero values take defaults.
type Options struct {
	// Channels measured each cycle. Default all four.
	Channels mlx90393.ChannelSet
	// ReadyTimeout bounds the wait for a sensor's ready line. Zero waits
	// until the context ends.
	ReadyTimeout time.Duration
	// Interval is the pause between cycles in Run. Default none.
	Interval time.Duration
	Logger   *slog.Logger
}

// Stats are cumulative counters, safe to read while the group runs.
type Stats struct {
	Cycles        uint64
	Messages      uint64
	SensorErrors  uint64
	EncodeErrors  uint64
	WriteErrors   uint64
	Resets        uint64
	ResetFailures uint64
	// Skipped counts sensor slots passed over while backing off.
	Skipped uint64
	// Recalibrations counts calibration reloads that turned an invalid
	// calibration valid.
	Recalibrations uint64
}

type counters struct {
	cycles, messages, sensorErrs, encodeErrs, writeErrs, resets, resetFails, skipped, recals atomic.Uint64
}

type Group struct {
	members []Member
	sink    io.Writer
	opts    Options
	log     *slog.Logger
	stats   counters
	frame   [wire.MaxFrame]byte
}

// New groups already brought-up sensors.
func New(sink io.Writer, opts Options, members ...Member) *Group {
	if opts.Channels == 0 {
		opts.Channels = mlx90393.AllChannels
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Group{
		members: members,
		sink:    sink,
		opts:    opts,
		log:     opts.Logger.With("component", "sensorgroup"),
	}
}

// ReadyFactory returns the ready line wired to the sensor at addr.
type ReadyFactory func(addr uint16) mlx90393.ReadyPin

// Open brings up every sensor of layout on bus and groups them. Sensors
// that fail bring-up are logged and left out; Open fails only when none
// come up.
func Open(bus drivers.I2C, layout Layout, ready ReadyFactory, cfg mlx90393.Config, sink io.Writer, opts Options) (*Group, error) {
	if err := layout.Validate(); err != nil {
		return nil, errcode.New(errcode.InvalidParams, "sensorgroup.Open", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	members := make([]Member, 0, len(layout))
	var errs []error
	for _, p := range layout {
		c := cfg
		c.Address = p.Address
		s, err := mlx90393.New(bus, ready(p.Address), c)
		if err != nil {
			log.Warn("sensor bring-up failed", "addr", p.Address, "err", err)
			errs = append(errs, err)
			continue
		}
		if _, err := s.Calibration(); err != nil {
			// Kept: the reset after its first failed cycle reloads the
			// calibration.
			log.Warn("sensor calibration invalid", "addr", p.Address, "err", err)
		}
		members = append(members, Member{Sensor: s, Position: p.Position})
	}
	if len(members) == 0 {
		return nil, errors.Join(errs...)
	}
	log.Info("sensor group up", "sensors", len(members), "of", len(layout))
	return New(sink, opts, members...), nil
}

func (g *Group) Members() []Member { return g.members }

func (g *Group) Stats() Stats {
	return Stats{
		Cycles:        g.stats.cycles.Load(),
		Messages:      g.stats.messages.Load(),
		SensorErrors:  g.stats.sensorErrs.Load(),
		EncodeErrors:  g.stats.encodeErrs.Load(),
		WriteErrors:   g.stats.writeErrs.Load(),
		Resets:        g.stats.resets.Load(),
		ResetFailures: g.stats.resetFails.Load(),

		Skipped:        g.stats.skipped.Load(),
		Recalibrations: g.stats.recals.Load(),
	}
}

// Run cycles until ctx ends and returns ctx.Err().
func (g *Group) Run(ctx context.Context) error {
	for {
		if err := g.Cycle(ctx); err != nil {
			return err
		}
		if g.opts.Interval <= 0 {
			continue
		}
		t := time.NewTimer(g.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Cycle services every sensor once. Per-sensor failures are logged and
// counted, not returned; the only error is ctx ending. A sensor that keeps
// failing sits out a growing number of cycles between attempts.
func (g *Group) Cycle(ctx context.Context) error {
	for i := range g.members {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.service(ctx, &g.members[i])
	}
	g.stats.cycles.Add(1)
	return ctx.Err()
}

func (g *Group) service(ctx context.Context, m *Member) {
	if m.skip > 0 {
		m.skip--
		g.stats.skipped.Add(1)
		return
	}
	addr := m.Sensor.Address()
	field, err := g.measure(ctx, m.Sensor)
	if err != nil {
		if ctx.Err() != nil {
			// Leave the device to the reset at the next start.
			return
		}
		g.stats.sensorErrs.Add(1)
		m.fails++
		m.skip = backoff(m.fails)
		lvl := slog.LevelWarn
		if m.fails > 1 {
			lvl = slog.LevelDebug
		}
		g.log.Log(ctx, lvl, "measurement failed", "addr", addr, "state", m.Sensor.State().String(),
			"failures", m.fails, "skip", m.skip, "err", err)
		g.reset(m.Sensor)
		return
	}
	if m.fails > 0 {
		g.log.Info("sensor recovered", "addr", addr, "after", m.fails)
		m.fails = 0
	}

	frame, err := wire.AppendFrame(g.frame[:0], wire.NewMessage(field, m.Position))
	if err != nil {
		g.stats.encodeErrs.Add(1)
		g.log.Warn("encode failed", "addr", addr, "err", err)
		return
	}
	if err := wire.Write(g.sink, frame); err != nil {
		g.stats.writeErrs.Add(1)
		g.log.Warn("write failed", "addr", addr, "err", err)
		return
	}
	g.stats.messages.Add(1)
}

// measure runs one single-measurement cycle: Start, wait, read, complete.
func (g *Group) measure(ctx context.Context, s *mlx90393.Sensor) (wire.MagneticField, error) {
	if s.State() != (mlx90393.State{Phase: mlx90393.Idle, Mode: mlx90393.NoMode}) {
		if err := s.Reset(); err != nil {
			return wire.MagneticField{}, err
		}
	}
	if err := s.Start(mlx90393.SingleMeasurement, g.opts.Channels); err != nil {
		return wire.MagneticField{}, err
	}

	wctx := ctx
	if g.opts.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, g.opts.ReadyTimeout)
		defer cancel()
	}
	if err := s.HasMeasured(wctx); err != nil {
		return wire.MagneticField{}, err
	}
	field, err := s.Field()
	if err != nil {
		return wire.MagneticField{}, err
	}
	if err := s.HasMeasured(ctx); err != nil {
		return wire.MagneticField{}, err
	}
	return field, nil
}

func (g *Group) reset(s *mlx90393.Sensor) {
	if err := s.Reset(); err != nil {
		g.stats.resetFails.Add(1)
		g.log.Error("sensor reset failed", "addr", s.Address(), "err", err)
		return
	}
	g.stats.resets.Add(1)

	if _, err := s.Calibration(); err == nil {
		return
	}
	if err := s.RefreshCalibration(); err != nil {
		g.log.Debug("calibration reload failed", "addr", s.Address(), "err", err)
		return
	}
	if _, err := s.Calibration(); err == nil {
		g.stats.recals.Add(1)
		g.log.Info("calibration recovered", "addr", s.Address())
	}
}
