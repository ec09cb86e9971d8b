// Package mlx90393 provides a driver for the Melexis MLX90393 triaxis
// magnetometer on an I²C bus.
//
// The package is split the way the device is: a register codec for the
// customer memory area, a command codec for the single-byte command set, a
// low-level Device issuing commands, a Sensor enforcing the legal sequence
// of operations, and a converter from raw words to µT/°C.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when
// both w and r are provided, without releasing the bus.
package mlx90393

import "errors"

// Register addresses (16-bit word registers).
const (
	RegConf0    = 0x00 // hallconf, gain, z-series, bist
	RegConf1    = 0x01 // burst, tcmp, triggers, comm mode
	RegConf2    = 0x02 // osr, digital filter, resolution
	RegConf3    = 0x03 // sensitivity drift coefficients
	RegOffsetX  = 0x04
	RegOffsetY  = 0x05
	RegOffsetZ  = 0x06
	RegWOxy     = 0x07
	RegWOz      = 0x08
	RegTempRef  = 0x24 // factory temperature reference (read-only)
	maxRegister = 0x3F
)

var (
	ErrWrongRegister = errors.New("mlx90393: field not in this register")
	ErrFieldRange    = errors.New("mlx90393: value does not fit field")
)

// Field names one bit-addressed entry of the customer memory area.
type Field uint8

const (
	Hallconf Field = iota
	GainSel
	ZSeries
	Bist
	AnaReservedLow
	BurstDataRate
	BurstSel
	TcmpEn
	ExtTrg
	WocDiff
	CommMode
	TrigInt
	OSR
	DigFilt
	ResX
	ResY
	ResZ
	OSR2
	SensTcLT
	SensTcHT
	OffsetX
	OffsetY
	OffsetZ
	WOxyThreshold
	WOzThreshold

	numFields
)

type location struct {
	reg    byte
	offset uint8
	length uint8
}

var memoryMap = [numFields]location{
	Hallconf:       {RegConf0, 0, 4},
	GainSel:        {RegConf0, 4, 3},
	ZSeries:        {RegConf0, 7, 1},
	Bist:           {RegConf0, 8, 1},
	AnaReservedLow: {RegConf0, 9, 7},
	BurstDataRate:  {RegConf1, 0, 6},
	BurstSel:       {RegConf1, 6, 4},
	TcmpEn:         {RegConf1, 10, 1},
	ExtTrg:         {RegConf1, 11, 1},
	WocDiff:        {RegConf1, 12, 1},
	CommMode:       {RegConf1, 13, 2},
	TrigInt:        {RegConf1, 15, 1},
	OSR:            {RegConf2, 0, 2},
	DigFilt:        {RegConf2, 2, 3},
	ResX:           {RegConf2, 5, 2},
	ResY:           {RegConf2, 7, 2},
	ResZ:           {RegConf2, 9, 2},
	OSR2:           {RegConf2, 11, 2},
	SensTcLT:       {RegConf3, 0, 8},
	SensTcHT:       {RegConf3, 8, 8},
	OffsetX:        {RegOffsetX, 0, 16},
	OffsetY:        {RegOffsetY, 0, 16},
	OffsetZ:        {RegOffsetZ, 0, 16},
	WOxyThreshold:  {RegWOxy, 0, 16},
	WOzThreshold:   {RegWOz, 0, 16},
}

var fieldNames = [numFields]string{
	"HALLCONF", "GAIN_SEL", "Z_SERIES", "BIST", "ANA_RESERVED_LOW",
	"BURST_DATA_RATE", "BURST_SEL", "TCMP_EN", "EXT_TRG", "WOC_DIFF",
	"COMM_MODE", "TRIG_INT", "OSR", "DIG_FILT", "RES_X", "RES_Y", "RES_Z",
	"OSR2", "SENS_TC_LT", "SENS_TC_HT", "OFFSET_X", "OFFSET_Y", "OFFSET_Z",
	"WOXY_THRESHOLD", "WOZ_THRESHOLD",
}

// Fields lists every customer memory area field in register order.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

func (f Field) String() string {
	if f >= numFields {
		return "UNKNOWN"
	}
	return fieldNames[f]
}

// Location reports where f lives: register address, bit offset and width.
func (f Field) Location() (reg byte, offset, length uint8) {
	l := memoryMap[f]
	return l.reg, l.offset, l.length
}

func (f Field) mask() uint16 {
	l := memoryMap[f]
	return uint16((uint32(1)<<l.length)-1) << l.offset
}

// Register is a raw 16-bit register tagged with its address. Data is in bus
// order (high byte first).
type Register struct {
	Address byte
	Data    [2]byte
}

// NewRegister builds a register from a host-order word.
func NewRegister(addr byte, word uint16) Register {
	return Register{Address: addr, Data: [2]byte{byte(word >> 8), byte(word)}}
}

func (r Register) Word() uint16 { return uint16(r.Data[0])<<8 | uint16(r.Data[1]) }
func (r Register) High() byte   { return r.Data[0] }
func (r Register) Low() byte    { return r.Data[1] }

// Field extracts f from r.
func (r Register) Field(f Field) (uint16, error) {
	if f >= numFields {
		return 0, ErrWrongRegister
	}
	l := memoryMap[f]
	if l.reg != r.Address {
		return 0, ErrWrongRegister
	}
	return (r.Word() & f.mask()) >> l.offset, nil
}

// WithField returns r with f replaced by v.
func (r Register) WithField(f Field, v uint16) (Register, error) {
	if f >= numFields {
		return r, ErrWrongRegister
	}
	l := memoryMap[f]
	if l.reg != r.Address {
		return r, ErrWrongRegister
	}
	if l.length < 16 && v >= 1<<l.length {
		return r, ErrFieldRange
	}
	w := r.Word()&^f.mask() | v<<l.offset
	return NewRegister(r.Address, w), nil
}

// ---- Typed views ----

// Gain is the analog gain selector GAIN_SEL (0..7).
type Gain uint8

// HallConf is the hall plate spinning configuration.
type HallConf uint8

const (
	HallTwoPhase  HallConf = iota // HALLCONF = 0x0
	HallFourPhase                 // HALLCONF = 0xC
)

func (h HallConf) String() string {
	if h == HallFourPhase {
		return "four-phase"
	}
	return "two-phase"
}

// Bits returns the 4-bit HALLCONF code for h.
func (h HallConf) Bits() uint16 {
	if h == HallFourPhase {
		return 0xC
	}
	return 0x0
}

// DecodeHallConf maps the low nibble of register 0x00 to a hall
// configuration. Only 0b0000 and 0b1100 are recognised.
func DecodeHallConf(low byte) (HallConf, bool) {
	switch low & 0x0F {
	case 0x0:
		return HallTwoPhase, true
	case 0xC:
		return HallFourPhase, true
	}
	return 0, false
}

// Resolution is the per-axis RES_x selector. The names follow the internal
// ADC width the selector picks; the output word is 16 bits in all cases.
type Resolution uint8

const (
	Res19 Resolution = iota
	Res18
	Res17
	Res16
)

func (r Resolution) String() string {
	switch r {
	case Res19:
		return "19-bit"
	case Res18:
		return "18-bit"
	case Res17:
		return "17-bit"
	case Res16:
		return "16-bit"
	}
	return "unknown"
}

// Res3D holds the resolution of each axis.
type Res3D struct {
	X, Y, Z Resolution
}

// Conf0 is register 0x00.
type Conf0 struct{ r Register }

func (r Register) Conf0() (Conf0, error) {
	if r.Address != RegConf0 {
		return Conf0{}, ErrWrongRegister
	}
	return Conf0{r}, nil
}

// HallConf decodes HALLCONF; ok is false for any pattern other than the two
// documented ones. There is no default.
func (c Conf0) HallConf() (HallConf, bool) { return DecodeHallConf(c.r.Low()) }

func (c Conf0) HallConfBits() uint8 { return c.r.Low() & 0x0F }

func (c Conf0) Gain() Gain { return Gain((c.r.Low() >> 4) & 0x07) }

func (c Conf0) ZSeries() bool { return c.r.Word()&(1<<7) != 0 }

func (c Conf0) Bist() bool { return c.r.Word()&(1<<8) != 0 }

// Conf1 is register 0x01.
type Conf1 struct{ r Register }

func (r Register) Conf1() (Conf1, error) {
	if r.Address != RegConf1 {
		return Conf1{}, ErrWrongRegister
	}
	return Conf1{r}, nil
}

func (c Conf1) get(f Field) uint16 {
	v, _ := c.r.Field(f)
	return v
}

func (c Conf1) BurstDataRate() uint8 { return uint8(c.get(BurstDataRate)) }

// BurstSel returns the channels measured in burst/WOC mode when the start
// command carries no channel bits. BURST_SEL uses the same zyxt order as the
// command channel bits.
func (c Conf1) BurstSel() ChannelSet { return ChannelSet(c.get(BurstSel)) }

func (c Conf1) TemperatureCompensation() bool { return c.get(TcmpEn) != 0 }
func (c Conf1) ExternalTrigger() bool         { return c.get(ExtTrg) != 0 }
func (c Conf1) WakeOnChangeDiff() bool        { return c.get(WocDiff) != 0 }
func (c Conf1) CommMode() uint8               { return uint8(c.get(CommMode)) }
func (c Conf1) TriggerInterrupt() bool        { return c.get(TrigInt) != 0 }

// Conf2 is register 0x02.
type Conf2 struct{ r Register }

func (r Register) Conf2() (Conf2, error) {
	if r.Address != RegConf2 {
		return Conf2{}, ErrWrongRegister
	}
	return Conf2{r}, nil
}

func (c Conf2) OSR() uint8     { return c.r.Low() & 0x03 }
func (c Conf2) DigFilt() uint8 { return (c.r.Low() >> 2) & 0x07 }
func (c Conf2) OSR2() uint8    { return (c.r.High() >> 3) & 0x03 }

// Resolution decodes RES_X, RES_Y and RES_Z.
//
// RES_Y straddles the byte boundary: its low bit is bit 7 of the low byte
// and the selector bit v is bit 0 of the high byte. With v=0 the Y bit picks
// 19/18-bit, with v=1 it picks 17/16-bit.
func (c Conf2) Resolution() Res3D {
	lo, hi := c.r.Low(), c.r.High()

	x := Resolution((lo >> 5) & 0x03)
	z := Resolution((hi >> 1) & 0x03)

	y := (lo >> 7) & 0x01
	v := hi & 0x01
	var ry Resolution
	switch {
	case v == 0 && y == 0:
		ry = Res19
	case v == 0 && y == 1:
		ry = Res18
	case v == 1 && y == 0:
		ry = Res17
	default:
		ry = Res16
	}
	return Res3D{X: x, Y: ry, Z: z}
}

// Conf3 is register 0x03.
type Conf3 struct{ r Register }

func (r Register) Conf3() (Conf3, error) {
	if r.Address != RegConf3 {
		return Conf3{}, ErrWrongRegister
	}
	return Conf3{r}, nil
}

func (c Conf3) SensTcLT() uint8 { return c.r.Low() }
func (c Conf3) SensTcHT() uint8 { return c.r.High() }
