// Package mlxsim simulates MLX90393 devices on a shared I2C bus. Each chip
// answers the raw command set, keeps volatile and non-volatile register
// banks and drives a ready line. Conversions complete instantly, except in
// wake-on-change mode where the test calls Trigger.
package mlxsim

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNoDevice  = errors.New("mlxsim: no device at address")
	ErrNoPending = errors.New("mlxsim: read without pending response")
)

// Default register contents: HALLCONF 0xC, GAIN_SEL 7, all axes 19-bit,
// compensation off, and a typical factory temperature reference.
const (
	DefaultConf0   = 0x007C
	DefaultTempRef = 46244
)

const (
	modeNone byte = iota
	modeSingle
	modeBurst
	modeWOC
)

// Bus routes transactions by address. It implements drivers.I2C.
type Bus struct {
	mu    sync.Mutex
	chips map[uint16]*Chip
	fail  error
	txs   int
}

func NewBus() *Bus { return &Bus{chips: map[uint16]*Chip{}} }

// Add attaches a chip with default registers at addr.
func (b *Bus) Add(addr uint16) *Chip {
	c := newChip(addr)
	b.mu.Lock()
	b.chips[addr] = c
	b.mu.Unlock()
	return c
}

func (b *Bus) Chip(addr uint16) *Chip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chips[addr]
}

// FailNext makes the next transaction fail with err.
func (b *Bus) FailNext(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

// Transactions counts Tx calls, failed ones included.
func (b *Bus) Transactions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txs
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	b.txs++
	if err := b.fail; err != nil {
		b.fail = nil
		b.mu.Unlock()
		return err
	}
	c := b.chips[addr]
	b.mu.Unlock()
	if c == nil {
		return ErrNoDevice
	}
	return c.tx(w, r)
}

// Chip is one simulated device.
type Chip struct {
	addr uint16

	mu       sync.Mutex
	ram      [64]uint16
	nvm      [64]uint16
	mode     byte
	channels byte
	words    [4]uint16 // t, x, y, z
	ready    bool
	wake     chan struct{}
	reset    bool // RS flag pending
	pending  []byte
	log      []byte
	failCmd  map[byte]bool
}

func newChip(addr uint16) *Chip {
	c := &Chip{addr: addr, wake: make(chan struct{}), failCmd: map[byte]bool{}}
	c.nvm[0x00] = DefaultConf0
	c.nvm[0x24] = DefaultTempRef
	c.ram = c.nvm
	return c
}

func (c *Chip) Address() uint16 { return c.addr }

// SetRegister writes both register banks, as if the part had been
// programmed that way.
func (c *Chip) SetRegister(addr byte, v uint16) {
	c.mu.Lock()
	c.ram[addr&0x3F] = v
	c.nvm[addr&0x3F] = v
	c.mu.Unlock()
}

// Register returns the volatile register value.
func (c *Chip) Register(addr byte) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ram[addr&0x3F]
}

// StoredRegister returns the non-volatile register value.
func (c *Chip) StoredRegister(addr byte) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nvm[addr&0x3F]
}

// SetSample sets the raw words returned by RM.
func (c *Chip) SetSample(t, x, y, z uint16) {
	c.mu.Lock()
	c.words = [4]uint16{t, x, y, z}
	c.mu.Unlock()
}

// Reject makes the chip set the error bit in answer to opcode (upper
// nibble) until cleared with ok=false.
func (c *Chip) Reject(opcode byte, reject bool) {
	c.mu.Lock()
	c.failCmd[opcode&0xF0] = reject
	c.mu.Unlock()
}

// Mode reports the acquisition mode: "", "single", "burst" or "woc".
func (c *Chip) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return [...]string{"", "single", "burst", "woc"}[c.mode]
}

// Commands returns the first byte of every command received.
func (c *Chip) Commands() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.log...)
}

// Ready reports the ready line level.
func (c *Chip) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Trigger completes a conversion in a running mode, as a field change
// would in wake-on-change.
func (c *Chip) Trigger() {
	c.mu.Lock()
	if c.mode != modeNone {
		c.setReadyLocked()
	}
	c.mu.Unlock()
}

// WaitForHigh blocks until the ready line is high or ctx ends.
func (c *Chip) WaitForHigh(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.ready {
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func (c *Chip) setReadyLocked() {
	if c.ready {
		return
	}
	c.ready = true
	close(c.wake)
	c.wake = make(chan struct{})
}

func (c *Chip) tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(w) > 0 {
		c.log = append(c.log, w[0])
		c.pending = c.execLocked(w)
	}
	if len(r) == 0 {
		return nil
	}
	if c.pending == nil {
		return ErrNoPending
	}
	n := copy(r, c.pending)
	for i := n; i < len(r); i++ {
		r[i] = 0xFF
	}
	c.pending = nil
	return nil
}

func (c *Chip) statusLocked(errBit bool) byte {
	var s byte
	switch c.mode {
	case modeBurst:
		s |= 0x80
	case modeWOC:
		s |= 0x40
	case modeSingle:
		s |= 0x20
	}
	if errBit {
		s |= 0x10
	}
	if c.reset {
		s |= 0x04
		c.reset = false
	}
	return s
}

func (c *Chip) execLocked(w []byte) []byte {
	op := w[0] & 0xF0
	chans := w[0] & 0x0F
	if c.failCmd[op] {
		return []byte{c.statusLocked(true)}
	}

	switch op {
	case 0x10, 0x20, 0x30:
		if c.mode != modeNone || chans == 0 {
			return []byte{c.statusLocked(true)}
		}
		c.mode = map[byte]byte{0x10: modeBurst, 0x20: modeWOC, 0x30: modeSingle}[op]
		c.channels = chans
		c.ready = false
		if c.mode != modeWOC {
			c.setReadyLocked()
		}
		return []byte{c.statusLocked(false)}

	case 0x40:
		out := []byte{0}
		for i, ch := range [4]byte{0x1, 0x2, 0x4, 0x8} {
			if chans&ch != 0 {
				out = append(out, byte(c.words[i]>>8), byte(c.words[i]))
			}
		}
		c.ready = false
		switch c.mode {
		case modeSingle:
			c.mode = modeNone
		case modeBurst:
			c.setReadyLocked()
		}
		out[0] = c.statusLocked(false)
		return out

	case 0x50:
		if len(w) < 2 {
			return []byte{c.statusLocked(true), 0, 0}
		}
		v := c.ram[(w[1]>>2)&0x3F]
		return []byte{c.statusLocked(false), byte(v >> 8), byte(v)}

	case 0x60:
		if len(w) < 4 || c.mode != modeNone {
			return []byte{c.statusLocked(true)}
		}
		c.ram[(w[3]>>2)&0x3F] = uint16(w[1])<<8 | uint16(w[2])
		return []byte{c.statusLocked(false)}

	case 0x80:
		c.mode = modeNone
		c.ready = false
		return []byte{c.statusLocked(false)}

	case 0xD0:
		c.ram = c.nvm
		return []byte{c.statusLocked(false)}

	case 0xE0:
		c.nvm = c.ram
		return []byte{c.statusLocked(false)}

	case 0xF0:
		c.mode = modeNone
		c.ready = false
		c.ram = c.nvm
		c.reset = true
		return []byte{c.statusLocked(false)}
	}
	return []byte{c.statusLocked(true)}
}
