package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magarray-go/drivers/mlx90393"
	"magarray-go/internal/mlxsim"
	"magarray-go/services/sensorgroup"
	"magarray-go/wire"
)

func TestSceneFieldDirectlyBelow(t *testing.T) {
	s := scene{radius: 0, height: 10, period: time.Second, moment: 0.01}
	bx, by, bz := s.field(wire.Position{}, 0)
	assert.InDelta(t, 0, bx, 1e-9)
	assert.InDelta(t, 0, by, 1e-9)
	// On-axis dipole: 2·0.1·m/r³ with r = 0.01 m.
	assert.InDelta(t, 2000, bz, 1e-6)
}

func TestSceneIsPeriodic(t *testing.T) {
	s := defaultScene()
	p := wire.Position{X: 2.25, Y: -6.75}
	x0, y0, z0 := s.field(p, time.Second)
	x1, y1, z1 := s.field(p, time.Second+s.period)
	assert.InDelta(t, x0, x1, 1e-9)
	assert.InDelta(t, y0, y1, 1e-9)
	assert.InDelta(t, z0, z1, 1e-9)
}

func TestCountsSaturate(t *testing.T) {
	cal := mlx90393.Calibration{Gain: 7, HallConf: mlx90393.HallTwoPhase}
	assert.Equal(t, uint16(math.MaxInt16), counts(1e9, cal, mlx90393.ChanX, cal.Resolution.X))
	assert.Equal(t, uint16(0x8000), counts(-1e9, cal, mlx90393.ChanX, cal.Resolution.X))

	cal.TemperatureCompensation = true
	assert.Equal(t, uint16(0x8000), counts(0, cal, mlx90393.ChanZ, cal.Resolution.Z))
}

// The words a simulated chip reports convert back to the scene field.
func TestSceneThroughDriver(t *testing.T) {
	bus := mlxsim.NewBus()
	chip := bus.Add(0x0C)
	pos := wire.Position{X: 6.75, Y: -6.75}
	var sink bytes.Buffer
	g, err := sensorgroup.Open(bus, sensorgroup.Layout{{Address: 0x0C, Position: pos}},
		func(uint16) mlx90393.ReadyPin { return chip },
		mlx90393.Config{Sleep: func(time.Duration) {}}, &sink,
		sensorgroup.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	cal, err := g.Members()[0].Sensor.Calibration()
	require.NoError(t, err)
	s := defaultScene()
	chip.SetSample(s.raw(pos, 0, cal))
	require.NoError(t, g.Cycle(context.Background()))

	m, err := wire.NewFrameReader(&sink, wire.WithLeadingPartial()).Next()
	require.NoError(t, err)
	bx, by, bz := s.field(pos, 0)
	sx := float64(mlx90393.Sensitivity(cal.HallConf, cal.Gain, cal.Resolution.X, mlx90393.ChanX))
	sz := float64(mlx90393.Sensitivity(cal.HallConf, cal.Gain, cal.Resolution.Z, mlx90393.ChanZ))
	assert.InDelta(t, bx, float64(m.Field.X.Value), sx)
	assert.InDelta(t, by, float64(m.Field.Y.Value), sx)
	assert.InDelta(t, bz, float64(m.Field.Z.Value), sz)
	assert.InDelta(t, s.ambient, float64(m.Field.T.Value), 0.05)
}
