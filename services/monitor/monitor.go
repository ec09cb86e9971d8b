// Package monitor is the host side of the telemetry link: it reads framed
// messages from the serial source, decodes them and publishes each one on
// the telemetry bus for the renderer and the recorder.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"magarray-go/bus"
	"magarray-go/errcode"
	"magarray-go/wire"
)

// TopicField prefixes the per-sensor topics. Messages are retained, so a
// late subscriber sees the latest reading of every sensor.
const TopicField = "field"

// PreambleLen bytes of 0x01 are written to the port after opening it.
const PreambleLen = 8

// FieldTopic is the topic carrying readings from the sensor at p.
func FieldTopic(p wire.Position) bus.Topic {
	return bus.T(TopicField, posKey(p.X)+","+posKey(p.Y)+","+posKey(p.Z))
}

func posKey(v float32) string { return strconv.FormatFloat(float64(v), 'f', 2, 32) }

// InputResetter is implemented by ports that can discard buffered input.
type InputResetter interface {
	ResetInputBuffer() error
}

type Options struct {
	// Block selects the fixed-block reader: one frame per poll, input
	// discarded after each read, Poll between reads.
	Block bool
	Poll  time.Duration
	// Preamble writes PreambleLen wake bytes when the source is writable.
	Preamble bool
	// Synced decodes bytes before the first delimiter, for sources that
	// start on a frame boundary such as a recorded capture.
	Synced bool
	Logger   *slog.Logger
}

type Stats struct {
	Messages     uint64
	DecodeErrors uint64
	ReadErrors   uint64
	// IdlePolls counts reads that timed out with nothing received.
	IdlePolls uint64
}

type Monitor struct {
	src  io.Reader
	bus  *bus.Bus[wire.Message]
	opts Options
	log  *slog.Logger

	messages, decodeErrs, readErrs, idle atomic.Uint64
}

func New(src io.Reader, b *bus.Bus[wire.Message], opts Options) *Monitor {
	if opts.Poll <= 0 {
		opts.Poll = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		src:  src,
		bus:  b,
		opts: opts,
		log:  opts.Logger.With("component", "monitor"),
	}
}

func (m *Monitor) Stats() Stats {
	return Stats{
		Messages:     m.messages.Load(),
		DecodeErrors: m.decodeErrs.Load(),
		ReadErrors:   m.readErrs.Load(),
		IdlePolls:    m.idle.Load(),
	}
}

// Run reads until ctx ends or the source is exhausted. End of input
// returns nil. ctx is checked between reads, so a port without a read
// timeout must be closed to unblock Run; with a timeout set, an idle line
// returns to the ctx check after each expiry in both modes.
func (m *Monitor) Run(ctx context.Context) error {
	if m.opts.Preamble {
		if err := m.sendPreamble(); err != nil {
			return err
		}
	}
	if m.opts.Block {
		return m.runBlock(ctx)
	}
	return m.runStream(ctx)
}

func (m *Monitor) sendPreamble() error {
	w, ok := m.src.(io.Writer)
	if !ok {
		return nil
	}
	var pre [PreambleLen]byte
	for i := range pre {
		pre[i] = 0x01
	}
	if _, err := w.Write(pre[:]); err != nil {
		return errcode.New(errcode.TransportWrite, "monitor.preamble", err)
	}
	return nil
}

func (m *Monitor) runStream(ctx context.Context) error {
	var ropts []wire.ReaderOption
	if m.opts.Synced {
		ropts = append(ropts, wire.WithLeadingPartial())
	}
	fr := wire.NewFrameReader(m.src, ropts...)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := fr.Next()
		if err == nil {
			m.publish(msg)
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, wire.ErrNoData):
			m.idle.Add(1)
		case errors.Is(err, errcode.FrameDecode), errors.Is(err, errcode.PayloadDecode):
			m.decodeErrs.Add(1)
			m.log.Debug("dropping frame", "err", err)
		default:
			m.readErrs.Add(1)
			return err
		}
	}
}

func (m *Monitor) runBlock(ctx context.Context) error {
	t := time.NewTimer(m.opts.Poll)
	t.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := wire.Read(m.src)
		switch {
		case err == nil:
			m.publish(msg)
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, wire.ErrNoData):
			m.idle.Add(1)
		case errors.Is(err, errcode.TransportRead):
			m.readErrs.Add(1)
			m.log.Debug("read failed", "err", err)
		default:
			m.decodeErrs.Add(1)
			m.log.Debug("dropping frame", "err", err)
		}

		if r, ok := m.src.(InputResetter); ok {
			if err := r.ResetInputBuffer(); err != nil {
				m.log.Warn("input reset failed", "err", err)
			}
		}

		t.Reset(m.opts.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *Monitor) publish(msg wire.Message) {
	m.messages.Add(1)
	m.bus.Publish(FieldTopic(msg.Position), msg, true)
}
