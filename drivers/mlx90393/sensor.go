package mlx90393

import (
	"context"
	"errors"

	"tinygo.org/x/drivers"

	"magarray-go/errcode"
	"magarray-go/wire"
)

// Phase of the measurement cycle.
type Phase uint8

const (
	Idle Phase = iota
	Measuring
	Measured
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Measuring:
		return "measuring"
	case Measured:
		return "measured"
	}
	return "unknown"
}

// Mode is the acquisition mode the device was started in.
type Mode uint8

const (
	NoMode Mode = iota
	SingleMeasurement
	Burst
	WakeOnChange
)

func (m Mode) String() string {
	switch m {
	case NoMode:
		return "none"
	case SingleMeasurement:
		return "single"
	case Burst:
		return "burst"
	case WakeOnChange:
		return "wake-on-change"
	}
	return "unknown"
}

// State is the sensor's position in its lifecycle.
type State struct {
	Phase Phase
	Mode  Mode
}

func (s State) String() string { return s.Phase.String() + "/" + s.Mode.String() }

var stateIdle = State{Idle, NoMode}

// Sensor drives one MLX90393 through its legal command sequence:
//
//	Idle/none --Start--> Measuring/m --HasMeasured--> Measured/m
//	Measured/single --HasMeasured--> Idle/none
//	Measured/burst|woc --HasMeasured--> Measuring/m
//	Measured/any --Exit--> Idle/none
//	any --Reset--> Idle/none
//
// Operations called from any other state fail with
// errcode.InvalidStateTransition and leave the state unchanged. A Sensor is
// not safe for concurrent use.
type Sensor struct {
	dev   *Device
	ready ReadyPin
	cfg   Config

	state    State
	channels ChannelSet
	last     Status

	cal    Calibration
	calErr error
}

// New brings the sensor up: reset, then capture of the calibration
// registers. A sensor whose HALLCONF is not recognised is returned without
// error but refuses to Start; bus failures are returned.
func New(bus drivers.I2C, ready ReadyPin, cfg Config) (*Sensor, error) {
	cfg = cfg.withDefaults()
	s := &Sensor{
		dev:   NewDevice(bus, cfg),
		ready: ready,
		cfg:   cfg,
		state: stateIdle,
	}
	cfg.Sleep(cfg.PowerOnDelay)
	if err := s.dev.Reset(); err != nil {
		return nil, err
	}
	cfg.Sleep(cfg.PowerOnDelay)
	if err := s.loadCalibration(); err != nil {
		return nil, err
	}
	cfg.Sleep(cfg.PowerOnDelay)
	return s, nil
}

func (s *Sensor) loadCalibration() error {
	cal, err := s.dev.ReadCalibration()
	switch {
	case err == nil:
		s.cal, s.calErr = cal, nil
	case errors.Is(err, errcode.CalibrationInvalid):
		s.cal, s.calErr = Calibration{}, err
	default:
		return err
	}
	return nil
}

func (s *Sensor) Address() uint16      { return s.dev.Address() }
func (s *Sensor) State() State         { return s.state }
func (s *Sensor) Channels() ChannelSet { return s.channels }

// LastStatus is the status byte of the most recent command.
func (s *Sensor) LastStatus() Status { return s.last }

// Calibration returns the captured calibration, or the
// errcode.CalibrationInvalid error that prevented it.
func (s *Sensor) Calibration() (Calibration, error) { return s.cal, s.calErr }

func (s *Sensor) expect(op string, ok bool) error {
	if ok {
		return nil
	}
	return errcode.Newf(errcode.InvalidStateTransition, op, "not allowed in state "+s.state.String())
}

func (s *Sensor) run(op string, cmd Command) ([]byte, error) {
	st, rx, err := s.dev.Run(cmd)
	if err != nil {
		return nil, err
	}
	s.last = st
	if st.Error {
		return nil, errcode.New(errcode.BusFailure, op, ErrCommandRejected)
	}
	return rx, nil
}

// Start issues SM, SB or SW for ch and enters Measuring.
func (s *Sensor) Start(mode Mode, ch ChannelSet) error {
	const op = "mlx90393.Start"
	if err := s.expect(op, s.state == stateIdle); err != nil {
		return err
	}
	if s.calErr != nil {
		return errcode.New(errcode.CalibrationInvalid, op, s.calErr)
	}
	if !ch.Valid() || ch.Count() == 0 {
		return errcode.Newf(errcode.InvalidParams, op, "empty or invalid channel set")
	}
	var cmd Command
	switch mode {
	case SingleMeasurement:
		cmd = StartSingle(ch)
	case Burst:
		cmd = StartBurst(ch)
	case WakeOnChange:
		cmd = StartWakeOnChange(ch)
	default:
		return errcode.Newf(errcode.InvalidParams, op, "no acquisition mode")
	}
	if _, err := s.run(op, cmd); err != nil {
		return err
	}
	s.state = State{Measuring, mode}
	s.channels = ch
	return nil
}

// HasMeasured advances the cycle. From Measuring it blocks until the ready
// line is high. From Measured it completes a single measurement or re-arms
// burst and wake-on-change without waiting.
func (s *Sensor) HasMeasured(ctx context.Context) error {
	const op = "mlx90393.HasMeasured"
	switch s.state.Phase {
	case Measuring:
		if s.ready == nil {
			return errcode.Newf(errcode.InvalidParams, op, "no ready line")
		}
		if err := s.ready.WaitForHigh(ctx); err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return errcode.New(errcode.Timeout, op, err)
			case errors.Is(err, context.Canceled):
				return err
			}
			return errcode.MapBusErr(op, err)
		}
		s.state.Phase = Measured
		return nil
	case Measured:
		if s.state.Mode == SingleMeasurement {
			s.state = stateIdle
			s.channels = 0
			return nil
		}
		s.state.Phase = Measuring
		return nil
	}
	return s.expect(op, false)
}

// Read fetches the measurement with RM. Only valid in Measured.
func (s *Sensor) Read() (RawSample, error) {
	const op = "mlx90393.Read"
	if err := s.expect(op, s.state.Phase == Measured); err != nil {
		return RawSample{}, err
	}
	rx, err := s.run(op, ReadMeasurement(s.channels))
	if err != nil {
		return RawSample{}, err
	}
	return ParseMeasurement(s.channels, rx)
}

// Field reads the measurement and converts it with the captured
// calibration.
func (s *Sensor) Field() (wire.MagneticField, error) {
	raw, err := s.Read()
	if err != nil {
		return wire.MagneticField{}, err
	}
	return Convert(s.channels, raw, s.cal)
}

// Exit stops the running mode with EX and returns to Idle.
func (s *Sensor) Exit() error {
	const op = "mlx90393.Exit"
	if err := s.expect(op, s.state.Phase == Measured); err != nil {
		return err
	}
	if _, err := s.run(op, Exit()); err != nil {
		return err
	}
	s.state = stateIdle
	s.channels = 0
	return nil
}

// Reset issues EX then RT with their settle delays. It is valid in every
// state and is the recovery path after any failure. On a bus error the
// state is left as it was.
func (s *Sensor) Reset() error {
	if err := s.dev.Reset(); err != nil {
		return err
	}
	s.state = stateIdle
	s.channels = 0
	return nil
}

// RefreshCalibration re-reads the calibration registers, e.g. after
// WriteRegister changed gain or resolution.
func (s *Sensor) RefreshCalibration() error {
	if err := s.expect("mlx90393.RefreshCalibration", s.state == stateIdle); err != nil {
		return err
	}
	return s.loadCalibration()
}

// ReadRegister reads a customer memory register. Idle only.
func (s *Sensor) ReadRegister(addr byte) (Register, error) {
	if err := s.expect("mlx90393.ReadRegister", s.state == stateIdle); err != nil {
		return Register{}, err
	}
	r, st, err := s.dev.ReadRegister(addr)
	s.last = st
	if err != nil {
		return Register{}, err
	}
	return r, nil
}

// WriteRegister writes a customer memory register. Idle only. The cached
// calibration is not refreshed.
func (s *Sensor) WriteRegister(r Register) error {
	if err := s.expect("mlx90393.WriteRegister", s.state == stateIdle); err != nil {
		return err
	}
	st, err := s.dev.WriteRegister(r)
	s.last = st
	return err
}

// MemoryRecall loads the registers from non-volatile memory. Idle only.
func (s *Sensor) MemoryRecall() error {
	const op = "mlx90393.MemoryRecall"
	if err := s.expect(op, s.state == stateIdle); err != nil {
		return err
	}
	_, err := s.run(op, MemoryRecall())
	return err
}

// MemoryStore saves the registers to non-volatile memory. Idle only.
func (s *Sensor) MemoryStore() error {
	const op = "mlx90393.MemoryStore"
	if err := s.expect(op, s.state == stateIdle); err != nil {
		return err
	}
	_, err := s.run(op, MemoryStore())
	return err
}
