// Package readypin turns sensor INT/DRDY interrupts into
// mlx90393.ReadyPin waits.
//
// The interrupt handler only performs a non-blocking
// channel send, so it is safe to run in ISR context on a microcontroller.
package readypin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"magarray-go/drivers/mlx90393"
)

// Pin is a GPIO input able to call a handler on its rising edge.
type Pin interface {
	Get() bool
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// Line waits on one pin.
type Line struct {
	pin   Pin
	edges chan struct{}
	drops atomic.Uint32
}

// New arms the rising-edge interrupt of pin.
func New(pin Pin) (*Line, error) {
	l := &Line{pin: pin, edges: make(chan struct{}, 1)}
	handler := func() {
		select {
		case l.edges <- struct{}{}:
		default:
			l.drops.Add(1)
		}
	}
	if err := pin.SetIRQ(handler); err != nil {
		return nil, err
	}
	return l, nil
}

// WaitForHigh returns when the line is high: at once if it already is,
// otherwise on the next rising edge or when ctx ends.
func (l *Line) WaitForHigh(ctx context.Context) error {
	// An edge left over from an earlier cycle says nothing about now.
	select {
	case <-l.edges:
	default:
	}
	if l.pin.Get() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.edges:
		return nil
	}
}

// Drops counts edges that arrived while one was already pending.
func (l *Line) Drops() uint32 { return l.drops.Load() }

func (l *Line) Close() error { return l.pin.ClearIRQ() }

// Delay is a ReadyPin for sensors without a wired ready line: it waits a
// fixed conversion time.
func Delay(d time.Duration) mlx90393.ReadyPin {
	return mlx90393.ReadyFunc(func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	})
}

// Bank maps sensor addresses to their ready lines.
type Bank struct {
	mu       sync.RWMutex
	lines    map[uint16]*Line
	fallback mlx90393.ReadyPin
}

// NewBank returns an empty bank. Addresses without a line use fallback.
func NewBank(fallback mlx90393.ReadyPin) *Bank {
	return &Bank{lines: map[uint16]*Line{}, fallback: fallback}
}

// Add arms pin as the ready line of the sensor at addr, replacing any
// previous line.
func (b *Bank) Add(addr uint16, pin Pin) error {
	l, err := New(pin)
	if err != nil {
		return err
	}
	b.mu.Lock()
	old := b.lines[addr]
	b.lines[addr] = l
	b.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// For is a sensorgroup.ReadyFactory.
func (b *Bank) For(addr uint16) mlx90393.ReadyPin {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if l, ok := b.lines[addr]; ok {
		return l
	}
	return b.fallback
}

// Drops sums Drops over all lines.
func (b *Bank) Drops() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n uint32
	for _, l := range b.lines {
		n += l.Drops()
	}
	return n
}

// Close disarms every line.
func (b *Bank) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr, l := range b.lines {
		_ = l.Close()
		delete(b.lines, addr)
	}
}
