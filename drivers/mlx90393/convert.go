package mlx90393

import (
	"magarray-go/errcode"
	"magarray-go/wire"
)

// Calibration is the decoded measurement configuration captured after
// reset. It is only built when HALLCONF decoded to a known pattern.
type Calibration struct {
	Resolution              Res3D
	Gain                    Gain
	HallConf                HallConf
	TemperatureCompensation bool
	TempRef                 uint16 // register 0x24
}

// NewCalibration decodes registers 0x00, 0x01, 0x02 and 0x24. An
// unrecognised HALLCONF fails with errcode.CalibrationInvalid.
func NewCalibration(conf0, conf1, conf2, tref Register) (Calibration, error) {
	const op = "mlx90393.NewCalibration"
	c0, err := conf0.Conf0()
	if err != nil {
		return Calibration{}, errcode.New(errcode.WrongRegister, op, err)
	}
	c1, err := conf1.Conf1()
	if err != nil {
		return Calibration{}, errcode.New(errcode.WrongRegister, op, err)
	}
	c2, err := conf2.Conf2()
	if err != nil {
		return Calibration{}, errcode.New(errcode.WrongRegister, op, err)
	}
	if tref.Address != RegTempRef {
		return Calibration{}, errcode.New(errcode.WrongRegister, op, ErrWrongRegister)
	}
	hc, ok := c0.HallConf()
	if !ok {
		return Calibration{}, errcode.Newf(errcode.CalibrationInvalid, op, "unrecognised HALLCONF 0x"+hexNibble(c0.HallConfBits()))
	}
	return Calibration{
		Resolution:              c2.Resolution(),
		Gain:                    c0.Gain(),
		HallConf:                hc,
		TemperatureCompensation: c1.TemperatureCompensation(),
		TempRef:                 tref.Word(),
	}, nil
}

func hexNibble(v uint8) string {
	const digits = "0123456789ABCDEF"
	return string(digits[v&0x0F])
}

// sensitivity[hall][gain][res] = {xy, z} in µT/LSB, from the MLX90393
// datasheet sensitivity tables.
var sensitivity = [2][8][4][2]float32{
	HallTwoPhase: {
		{{0.787, 1.267}, {1.573, 2.534}, {3.146, 5.068}, {6.292, 10.137}},
		{{0.629, 1.014}, {1.258, 2.027}, {2.517, 4.055}, {5.034, 8.109}},
		{{0.472, 0.760}, {0.944, 1.521}, {1.888, 3.041}, {3.775, 6.082}},
		{{0.393, 0.634}, {0.787, 1.267}, {1.573, 2.534}, {3.146, 5.068}},
		{{0.315, 0.507}, {0.629, 1.014}, {1.258, 2.027}, {2.517, 4.055}},
		{{0.262, 0.422}, {0.524, 0.845}, {1.049, 1.689}, {2.097, 3.379}},
		{{0.210, 0.338}, {0.419, 0.676}, {0.839, 1.352}, {1.678, 2.703}},
		{{0.157, 0.253}, {0.315, 0.507}, {0.629, 1.014}, {1.258, 2.027}},
	},
	HallFourPhase: {
		{{0.751, 1.210}, {1.502, 2.420}, {3.004, 4.840}, {6.009, 9.680}},
		{{0.601, 0.968}, {1.202, 1.936}, {2.403, 3.872}, {4.840, 7.744}},
		{{0.451, 0.726}, {0.901, 1.452}, {1.803, 2.904}, {3.605, 5.808}},
		{{0.376, 0.605}, {0.751, 1.210}, {1.502, 2.420}, {3.004, 4.840}},
		{{0.300, 0.484}, {0.601, 0.968}, {1.202, 1.936}, {2.403, 3.872}},
		{{0.250, 0.403}, {0.501, 0.807}, {1.001, 1.613}, {2.003, 3.227}},
		{{0.200, 0.323}, {0.401, 0.645}, {0.801, 1.291}, {1.602, 2.581}},
		{{0.150, 0.242}, {0.300, 0.484}, {0.601, 0.968}, {1.202, 1.936}},
	},
}

// Sensitivity returns µT per LSB for one axis. ChanTemp has no magnetic
// sensitivity and returns 0.
func Sensitivity(hall HallConf, gain Gain, res Resolution, axis Channel) float32 {
	if hall > HallFourPhase || gain > 7 || res > Res16 {
		return 0
	}
	row := sensitivity[hall][gain][res]
	switch axis {
	case ChanX, ChanY:
		return row[0]
	case ChanZ:
		return row[1]
	}
	return 0
}

// Temperature conversion constants (datasheet): 45.2 LSB/°C around 35 °C at
// the factory reference word.
const (
	tempScaleLSBPerC = 45.2
	tempRefCelsius   = 35.0
	tcmpZeroField    = 0x8000
)

// Temperature converts a raw T word to °C.
func (c Calibration) Temperature(raw uint16) float32 {
	return tempRefCelsius + (float32(raw)-float32(c.TempRef))/tempScaleLSBPerC
}

// Axis converts a raw magnetic word for axis to µT. With temperature
// compensation enabled the device reports offset binary around 0x8000.
func (c Calibration) Axis(axis Channel, raw uint16) float32 {
	var counts int32
	if c.TemperatureCompensation {
		counts = int32(raw) - tcmpZeroField
	} else {
		counts = int32(int16(raw))
	}
	var res Resolution
	switch axis {
	case ChanX:
		res = c.Resolution.X
	case ChanY:
		res = c.Resolution.Y
	case ChanZ:
		res = c.Resolution.Z
	default:
		return 0
	}
	return float32(counts) * Sensitivity(c.HallConf, c.Gain, res, axis)
}

// Convert turns a sample into physical values. want must equal the channel
// set carried by s; only those channels are filled in.
func Convert(want ChannelSet, s RawSample, cal Calibration) (wire.MagneticField, error) {
	if s.Channels != want&AllChannels {
		return wire.MagneticField{}, errcode.Newf(errcode.ChannelMismatch, "mlx90393.Convert",
			"requested "+want.String()+", sample has "+s.Channels.String())
	}
	var f wire.MagneticField
	if w, ok := s.Word(ChanX); ok {
		f.X = wire.Some(cal.Axis(ChanX, w))
	}
	if w, ok := s.Word(ChanY); ok {
		f.Y = wire.Some(cal.Axis(ChanY, w))
	}
	if w, ok := s.Word(ChanZ); ok {
		f.Z = wire.Some(cal.Axis(ChanZ, w))
	}
	if w, ok := s.Word(ChanTemp); ok {
		f.T = wire.SomeCelsius(cal.Temperature(w))
	}
	return f, nil
}
