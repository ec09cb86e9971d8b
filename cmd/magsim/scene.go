package main

import (
	"math"
	"time"

	"magarray-go/drivers/mlx90393"
	"magarray-go/wire"
)

// scene is a dipole magnet circling above the board.
type scene struct {
	radius  float64 // mm
	height  float64 // mm
	period  time.Duration
	moment  float64 // A·m², along +z
	ambient float64 // °C
}

func defaultScene() scene {
	return scene{radius: 6, height: 10, period: 4 * time.Second, moment: 0.005, ambient: 25}
}

// field returns the flux density in µT at p (mm) at time t.
func (s scene) field(p wire.Position, t time.Duration) (bx, by, bz float64) {
	phase := 2 * math.Pi * float64(t%s.period) / float64(s.period)
	mx, my, mz := s.radius*math.Cos(phase), s.radius*math.Sin(phase), s.height

	// Separation in metres.
	rx := (float64(p.X) - mx) / 1000
	ry := (float64(p.Y) - my) / 1000
	rz := (float64(p.Z) - mz) / 1000
	r := math.Sqrt(rx*rx + ry*ry + rz*rz)
	if r == 0 {
		return 0, 0, 0
	}
	ux, uy, uz := rx/r, ry/r, rz/r

	// µ0/4π = 1e-7 T·m/A, scaled to µT.
	k := 0.1 / (r * r * r)
	mdotu := s.moment * uz
	return k * 3 * mdotu * ux, k * 3 * mdotu * uy, k * (3*mdotu*uz - s.moment)
}

// raw converts the scene at p into the words a sensor with cal reports.
func (s scene) raw(p wire.Position, t time.Duration, cal mlx90393.Calibration) (tw, xw, yw, zw uint16) {
	bx, by, bz := s.field(p, t)
	tw = uint16(clamp(float64(cal.TempRef)+(s.ambient-35)*45.2, 0, math.MaxUint16))
	return tw,
		counts(bx, cal, mlx90393.ChanX, cal.Resolution.X),
		counts(by, cal, mlx90393.ChanY, cal.Resolution.Y),
		counts(bz, cal, mlx90393.ChanZ, cal.Resolution.Z)
}

func counts(b float64, cal mlx90393.Calibration, axis mlx90393.Channel, res mlx90393.Resolution) uint16 {
	sens := float64(mlx90393.Sensitivity(cal.HallConf, cal.Gain, res, axis))
	if sens == 0 {
		return 0
	}
	n := math.Round(b / sens)
	if cal.TemperatureCompensation {
		return uint16(clamp(n+0x8000, 0, math.MaxUint16))
	}
	return uint16(int16(clamp(n, math.MinInt16, math.MaxInt16)))
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
