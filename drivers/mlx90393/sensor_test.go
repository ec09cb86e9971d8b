package mlx90393

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magarray-go/errcode"
	"magarray-go/internal/mlxsim"
)

type sleepLog []time.Duration

func (l *sleepLog) sleep(d time.Duration) { *l = append(*l, d) }

func newTestSensor(t *testing.T, setup func(c *mlxsim.Chip)) (*Sensor, *mlxsim.Chip, *mlxsim.Bus, *sleepLog) {
	t.Helper()
	bus := mlxsim.NewBus()
	chip := bus.Add(Address)
	if setup != nil {
		setup(chip)
	}
	var sleeps sleepLog
	s, err := New(bus, chip, Config{Sleep: sleeps.sleep})
	require.NoError(t, err)
	return s, chip, bus, &sleeps
}

func isCode(t *testing.T, err error, c errcode.Code) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, c), "want %s, got %v", c, err)
}

func TestNewResetsAndCapturesCalibration(t *testing.T) {
	s, chip, _, sleeps := newTestSensor(t, nil)

	assert.Equal(t, State{Idle, NoMode}, s.State())
	assert.Equal(t, []byte{0x80, 0xF0, 0x50, 0x50, 0x50, 0x50}, chip.Commands())

	cal, err := s.Calibration()
	require.NoError(t, err)
	assert.Equal(t, HallFourPhase, cal.HallConf)
	assert.Equal(t, Gain(7), cal.Gain)
	assert.Equal(t, Res3D{}, cal.Resolution)
	assert.Equal(t, uint16(mlxsim.DefaultTempRef), cal.TempRef)

	d := DefaultConfig()
	want := []time.Duration{
		d.PowerOnDelay, d.ExitSettle, d.ResetSettle, d.PowerOnDelay,
		d.CalibrationSettle, d.RegisterSettle,
		d.CalibrationSettle, d.RegisterSettle,
		d.CalibrationSettle, d.RegisterSettle,
		d.CalibrationSettle, d.RegisterSettle,
		d.PowerOnDelay,
	}
	assert.Equal(t, want, []time.Duration(*sleeps))
}

func TestNewWithInvalidHallConfCannotStart(t *testing.T) {
	s, chip, _, _ := newTestSensor(t, func(c *mlxsim.Chip) { c.SetRegister(RegConf0, 0x0075) })

	_, err := s.Calibration()
	isCode(t, err, errcode.CalibrationInvalid)
	// Calibration read stops after register 0x00.
	assert.Equal(t, []byte{0x80, 0xF0, 0x50}, chip.Commands())

	err = s.Start(SingleMeasurement, AllChannels)
	isCode(t, err, errcode.CalibrationInvalid)
	assert.Equal(t, State{Idle, NoMode}, s.State())
	assert.Equal(t, "", chip.Mode())
}

func TestNewBusFailure(t *testing.T) {
	bus := mlxsim.NewBus()
	_, err := New(bus, ReadyFunc(func(context.Context) error { return nil }), Config{Sleep: func(time.Duration) {}})
	isCode(t, err, errcode.BusFailure)
	assert.ErrorIs(t, err, mlxsim.ErrNoDevice)
}

func TestSingleMeasurementCycle(t *testing.T) {
	s, chip, _, _ := newTestSensor(t, func(c *mlxsim.Chip) {
		c.SetRegister(RegConf0, 0x0000)
		c.SetSample(mlxsim.DefaultTempRef, uint16(120), uint16(0xFFCE), uint16(300))
	})
	ctx := context.Background()

	require.NoError(t, s.Start(SingleMeasurement, AllChannels))
	assert.Equal(t, State{Measuring, SingleMeasurement}, s.State())
	assert.Equal(t, "single", chip.Mode())

	require.NoError(t, s.HasMeasured(ctx))
	assert.Equal(t, State{Measured, SingleMeasurement}, s.State())

	f, err := s.Field()
	require.NoError(t, err)
	assert.InDelta(t, 94.44, f.X.Value, 1e-3)
	assert.InDelta(t, -39.35, f.Y.Value, 1e-3)
	assert.InDelta(t, 380.1, f.Z.Value, 1e-3)
	assert.InDelta(t, 35.0, f.T.Value, 1e-3)

	require.NoError(t, s.HasMeasured(ctx))
	assert.Equal(t, State{Idle, NoMode}, s.State())

	// Another cycle runs from Idle.
	require.NoError(t, s.Start(SingleMeasurement, X))
	require.NoError(t, s.HasMeasured(ctx))
	raw, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, X, raw.Channels)
}

func TestBurstRearms(t *testing.T) {
	s, chip, _, _ := newTestSensor(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Start(Burst, XYZ))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.HasMeasured(ctx))
		assert.Equal(t, State{Measured, Burst}, s.State())
		_, err := s.Read()
		require.NoError(t, err)
		assert.True(t, s.LastStatus().Burst)
		require.NoError(t, s.HasMeasured(ctx))
		assert.Equal(t, State{Measuring, Burst}, s.State())
	}
	require.NoError(t, s.HasMeasured(ctx))
	require.NoError(t, s.Exit())
	assert.Equal(t, State{Idle, NoMode}, s.State())
	assert.Equal(t, "", chip.Mode())
}

func TestWakeOnChangeWaitsForReadyLine(t *testing.T) {
	s, chip, _, _ := newTestSensor(t, nil)
	require.NoError(t, s.Start(WakeOnChange, Z))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.HasMeasured(ctx)
	isCode(t, err, errcode.Timeout)
	assert.Equal(t, State{Measuring, WakeOnChange}, s.State())

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	err = s.HasMeasured(ctx2)
	assert.ErrorIs(t, err, context.Canceled)

	done := make(chan error, 1)
	go func() { done <- s.HasMeasured(context.Background()) }()
	time.Sleep(5 * time.Millisecond)
	chip.Trigger()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("HasMeasured did not return after ready edge")
	}
	assert.Equal(t, State{Measured, WakeOnChange}, s.State())

	_, err = s.Read()
	require.NoError(t, err)
	require.NoError(t, s.HasMeasured(context.Background()))
	assert.Equal(t, State{Measuring, WakeOnChange}, s.State())
}

func TestIllegalTransitions(t *testing.T) {
	s, _, _, _ := newTestSensor(t, nil)
	ctx := context.Background()

	// Idle.
	isCode(t, s.HasMeasured(ctx), errcode.InvalidStateTransition)
	_, err := s.Read()
	isCode(t, err, errcode.InvalidStateTransition)
	isCode(t, s.Exit(), errcode.InvalidStateTransition)

	// Measuring.
	require.NoError(t, s.Start(Burst, XYZ))
	isCode(t, s.Start(SingleMeasurement, XYZ), errcode.InvalidStateTransition)
	_, err = s.Read()
	isCode(t, err, errcode.InvalidStateTransition)
	isCode(t, s.Exit(), errcode.InvalidStateTransition)
	_, err = s.ReadRegister(RegConf0)
	isCode(t, err, errcode.InvalidStateTransition)
	isCode(t, s.WriteRegister(NewRegister(RegConf0, 0)), errcode.InvalidStateTransition)
	isCode(t, s.MemoryStore(), errcode.InvalidStateTransition)
	isCode(t, s.MemoryRecall(), errcode.InvalidStateTransition)
	isCode(t, s.RefreshCalibration(), errcode.InvalidStateTransition)
	assert.Equal(t, State{Measuring, Burst}, s.State())

	// Measured.
	require.NoError(t, s.HasMeasured(ctx))
	isCode(t, s.Start(Burst, XYZ), errcode.InvalidStateTransition)
	assert.Equal(t, State{Measured, Burst}, s.State())
}

func TestStartParams(t *testing.T) {
	s, _, _, _ := newTestSensor(t, nil)
	isCode(t, s.Start(NoMode, XYZ), errcode.InvalidParams)
	isCode(t, s.Start(SingleMeasurement, 0), errcode.InvalidParams)
	isCode(t, s.Start(SingleMeasurement, 0x10), errcode.InvalidParams)
	assert.Equal(t, State{Idle, NoMode}, s.State())
}

func TestMissingReadyLine(t *testing.T) {
	bus := mlxsim.NewBus()
	bus.Add(Address)
	s, err := New(bus, nil, Config{Sleep: func(time.Duration) {}})
	require.NoError(t, err)
	require.NoError(t, s.Start(SingleMeasurement, XYZ))
	isCode(t, s.HasMeasured(context.Background()), errcode.InvalidParams)
	assert.Equal(t, State{Measuring, SingleMeasurement}, s.State())
}

func TestStartRejectedByDevice(t *testing.T) {
	s, chip, _, _ := newTestSensor(t, nil)
	chip.Reject(0x30, true)
	err := s.Start(SingleMeasurement, XYZ)
	isCode(t, err, errcode.BusFailure)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.True(t, s.LastStatus().Error)
	assert.Equal(t, State{Idle, NoMode}, s.State())
}

func TestResetFromEveryState(t *testing.T) {
	ctx := context.Background()
	reach := map[string]func(t *testing.T, s *Sensor){
		"idle": func(t *testing.T, s *Sensor) {},
		"measuring/single": func(t *testing.T, s *Sensor) {
			require.NoError(t, s.Start(SingleMeasurement, XYZ))
		},
		"measured/single": func(t *testing.T, s *Sensor) {
			require.NoError(t, s.Start(SingleMeasurement, XYZ))
			require.NoError(t, s.HasMeasured(ctx))
		},
		"measuring/burst": func(t *testing.T, s *Sensor) {
			require.NoError(t, s.Start(Burst, XYZ))
		},
		"measured/burst": func(t *testing.T, s *Sensor) {
			require.NoError(t, s.Start(Burst, XYZ))
			require.NoError(t, s.HasMeasured(ctx))
		},
		"measuring/woc": func(t *testing.T, s *Sensor) {
			require.NoError(t, s.Start(WakeOnChange, XYZ))
		},
		"measured/woc": func(t *testing.T, s *Sensor) {
			require.NoError(t, s.Start(WakeOnChange, XYZ))
			s.ready.(*mlxsim.Chip).Trigger()
			require.NoError(t, s.HasMeasured(ctx))
		},
	}
	for name, fn := range reach {
		t.Run(name, func(t *testing.T) {
			s, chip, _, sleeps := newTestSensor(t, nil)
			fn(t, s)
			*sleeps = nil
			n := len(chip.Commands())

			require.NoError(t, s.Reset())
			assert.Equal(t, State{Idle, NoMode}, s.State())
			assert.Equal(t, "", chip.Mode())
			assert.Equal(t, []byte{0x80, 0xF0}, chip.Commands()[n:])
			d := DefaultConfig()
			assert.Equal(t, []time.Duration{d.ExitSettle, d.ResetSettle}, []time.Duration(*sleeps))

			// The sensor is usable again.
			require.NoError(t, s.Start(SingleMeasurement, XYZ))
			require.NoError(t, s.HasMeasured(ctx))
			_, err := s.Read()
			require.NoError(t, err)
			require.NoError(t, s.HasMeasured(ctx))
			assert.Equal(t, State{Idle, NoMode}, s.State())
		})
	}
}

func TestResetBusFailureKeepsState(t *testing.T) {
	s, _, bus, _ := newTestSensor(t, nil)
	require.NoError(t, s.Start(Burst, XYZ))
	bus.FailNext(errors.New("nack"))
	isCode(t, s.Reset(), errcode.BusFailure)
	assert.Equal(t, State{Measuring, Burst}, s.State())
	require.NoError(t, s.Reset())
}

func TestRegisterAccess(t *testing.T) {
	s, chip, _, _ := newTestSensor(t, nil)

	r, err := s.ReadRegister(RegConf0)
	require.NoError(t, err)
	assert.Equal(t, uint16(mlxsim.DefaultConf0), r.Word())

	r, err = r.WithField(GainSel, 0)
	require.NoError(t, err)
	require.NoError(t, s.WriteRegister(r))
	assert.Equal(t, uint16(0x000C), chip.Register(RegConf0))

	cal, _ := s.Calibration()
	assert.Equal(t, Gain(7), cal.Gain)
	require.NoError(t, s.RefreshCalibration())
	cal, err = s.Calibration()
	require.NoError(t, err)
	assert.Equal(t, Gain(0), cal.Gain)

	require.NoError(t, s.MemoryStore())
	assert.Equal(t, uint16(0x000C), chip.StoredRegister(RegConf0))

	require.NoError(t, s.WriteRegister(NewRegister(RegConf0, 0x0070)))
	require.NoError(t, s.MemoryRecall())
	assert.Equal(t, uint16(0x000C), chip.Register(RegConf0))

	_, err = s.ReadRegister(0x40)
	isCode(t, err, errcode.InvalidParams)
}

func TestRegisterCommandsRejectedByDevice(t *testing.T) {
	s, chip, _, _ := newTestSensor(t, nil)

	chip.Reject(0x50, true)
	r, err := s.ReadRegister(RegConf0)
	isCode(t, err, errcode.BusFailure)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.Equal(t, Register{}, r)
	assert.True(t, s.LastStatus().Error)
	isCode(t, s.RefreshCalibration(), errcode.BusFailure)
	chip.Reject(0x50, false)

	chip.Reject(0x60, true)
	err = s.WriteRegister(NewRegister(RegConf0, 0x0000))
	isCode(t, err, errcode.BusFailure)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.Equal(t, uint16(mlxsim.DefaultConf0), chip.Register(RegConf0))
	assert.Equal(t, State{Idle, NoMode}, s.State())
}

func TestRefreshCalibrationToInvalid(t *testing.T) {
	s, _, _, _ := newTestSensor(t, nil)
	require.NoError(t, s.WriteRegister(NewRegister(RegConf0, 0x0003)))
	require.NoError(t, s.RefreshCalibration())
	_, err := s.Calibration()
	isCode(t, err, errcode.CalibrationInvalid)
	isCode(t, s.Start(SingleMeasurement, XYZ), errcode.CalibrationInvalid)
}
