package mlx90393

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"

	"magarray-go/errcode"
)

// Default I2C address with A0/A1 tied low.
const Address = 0x0C

// ErrCommandRejected is returned when the status byte answering a command
// has the error bit set.
var ErrCommandRejected = errors.New("mlx90393: command rejected by device")

// ReadyPin is the device INT/DRDY line. WaitForHigh returns once the line
// is high, immediately if it already is.
type ReadyPin interface {
	WaitForHigh(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyPin.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) WaitForHigh(ctx context.Context) error { return f(ctx) }

// Config controls non-hardware behaviour. Zero fields take defaults.
type Config struct {
	// Address defaults to 0x0C.
	Address uint16
	// Sleep implements settle delays. Default time.Sleep.
	Sleep func(time.Duration)

	// RegisterSettle is the wait between an RR command and reading its
	// answer. Default 100 ms.
	RegisterSettle time.Duration
	// CalibrationSettle precedes each register read of the calibration
	// sequence. Default 150 ms.
	CalibrationSettle time.Duration
	// ExitSettle and ResetSettle follow EX and RT during a reset.
	// Defaults 1 ms and 1.5 ms.
	ExitSettle  time.Duration
	ResetSettle time.Duration
	// PowerOnDelay is waited before the first reset, after it and after the
	// calibration read during bring-up. Default 100 ms.
	PowerOnDelay time.Duration
}

// DefaultConfig returns the datasheet timings.
func DefaultConfig() Config {
	return Config{
		Address:           Address,
		Sleep:             time.Sleep,
		RegisterSettle:    100 * time.Millisecond,
		CalibrationSettle: 150 * time.Millisecond,
		ExitSettle:        1 * time.Millisecond,
		ResetSettle:       1500 * time.Microsecond,
		PowerOnDelay:      100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Address == 0 {
		c.Address = d.Address
	}
	if c.Sleep == nil {
		c.Sleep = d.Sleep
	}
	if c.RegisterSettle <= 0 {
		c.RegisterSettle = d.RegisterSettle
	}
	if c.CalibrationSettle <= 0 {
		c.CalibrationSettle = d.CalibrationSettle
	}
	if c.ExitSettle <= 0 {
		c.ExitSettle = d.ExitSettle
	}
	if c.ResetSettle <= 0 {
		c.ResetSettle = d.ResetSettle
	}
	if c.PowerOnDelay <= 0 {
		c.PowerOnDelay = d.PowerOnDelay
	}
	return c
}

// Device issues raw commands to one MLX90393. It keeps no mode state;
// Sensor layers the legal command sequence on top.
type Device struct {
	bus  drivers.I2C
	addr uint16
	cfg  Config

	r [9]byte // largest response: status + 4 words
}

// NewDevice binds a device on an already configured bus. It does not touch
// the hardware.
func NewDevice(bus drivers.I2C, cfg Config) *Device {
	cfg = cfg.withDefaults()
	return &Device{bus: bus, addr: cfg.Address, cfg: cfg}
}

func (d *Device) Address() uint16 { return d.addr }

// Run writes cmd and reads its response in one transaction. The returned
// slice aliases an internal buffer and is valid until the next call.
func (d *Device) Run(cmd Command) (Status, []byte, error) {
	rx := d.r[:cmd.ResponseLen()]
	if err := d.bus.Tx(d.addr, cmd.Bytes(), rx); err != nil {
		return Status{}, nil, errcode.MapBusErr("mlx90393.Run", err)
	}
	return DecodeStatus(rx[0]), rx, nil
}

// runWithWait writes cmd, waits, then reads the response separately.
func (d *Device) runWithWait(cmd Command, wait time.Duration) (Status, []byte, error) {
	const op = "mlx90393.Run"
	if err := d.bus.Tx(d.addr, cmd.Bytes(), nil); err != nil {
		return Status{}, nil, errcode.MapBusErr(op, err)
	}
	d.cfg.Sleep(wait)
	rx := d.r[:cmd.ResponseLen()]
	if err := d.bus.Tx(d.addr, nil, rx); err != nil {
		return Status{}, nil, errcode.MapBusErr(op, err)
	}
	return DecodeStatus(rx[0]), rx, nil
}

// ReadRegister reads one word register.
func (d *Device) ReadRegister(addr byte) (Register, Status, error) {
	if addr > maxRegister {
		return Register{}, Status{}, errcode.Newf(errcode.InvalidParams, "mlx90393.ReadRegister", "register out of range")
	}
	st, rx, err := d.runWithWait(ReadRegister(addr), d.cfg.RegisterSettle)
	if err != nil {
		return Register{}, st, err
	}
	if st.Error {
		return Register{}, st, errcode.New(errcode.BusFailure, "mlx90393.ReadRegister", ErrCommandRejected)
	}
	return Register{Address: addr, Data: [2]byte{rx[1], rx[2]}}, st, nil
}

// WriteRegister writes r and waits RegisterSettle for the store to land.
func (d *Device) WriteRegister(r Register) (Status, error) {
	if r.Address > maxRegister {
		return Status{}, errcode.Newf(errcode.InvalidParams, "mlx90393.WriteRegister", "register out of range")
	}
	st, _, err := d.Run(WriteRegister(r.Address, r.Word()))
	if err != nil {
		return st, err
	}
	d.cfg.Sleep(d.cfg.RegisterSettle)
	if st.Error {
		return st, errcode.New(errcode.BusFailure, "mlx90393.WriteRegister", ErrCommandRejected)
	}
	return st, nil
}

// Reset stops any running mode and resets the device.
func (d *Device) Reset() error {
	if _, _, err := d.Run(Exit()); err != nil {
		return err
	}
	d.cfg.Sleep(d.cfg.ExitSettle)
	if _, _, err := d.Run(Reset()); err != nil {
		return err
	}
	d.cfg.Sleep(d.cfg.ResetSettle)
	return nil
}

// ReadCalibration reads registers 0x00, 0x02, 0x01 and 0x24 and decodes
// them. The sequence stops at register 0x00 if HALLCONF is not recognised.
func (d *Device) ReadCalibration() (Calibration, error) {
	var regs [4]Register
	for i, addr := range [...]byte{RegConf0, RegConf2, RegConf1, RegTempRef} {
		d.cfg.Sleep(d.cfg.CalibrationSettle)
		r, _, err := d.ReadRegister(addr)
		if err != nil {
			return Calibration{}, err
		}
		regs[i] = r
		if addr != RegConf0 {
			continue
		}
		if _, ok := DecodeHallConf(r.Low()); !ok {
			return Calibration{}, errcode.Newf(errcode.CalibrationInvalid, "mlx90393.ReadCalibration",
				"unrecognised HALLCONF 0x"+hexNibble(r.Low()))
		}
	}
	return NewCalibration(regs[0], regs[2], regs[1], regs[3])
}
