package mlx90393

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldTableCoversRegistersWithoutOverlap(t *testing.T) {
	used := map[byte]uint16{}
	for _, f := range Fields() {
		reg, off, n := f.Location()
		require.LessOrEqual(t, int(off)+int(n), 16, f.String())
		m := f.mask()
		assert.Zero(t, used[reg]&m, "%s overlaps", f)
		used[reg] |= m
	}
	for _, reg := range []byte{RegConf0, RegConf1, RegConf2, RegConf3, RegOffsetX, RegOffsetY, RegOffsetZ, RegWOxy, RegWOz} {
		if reg == RegConf2 {
			// bits 13..15 are unassigned
			assert.Equal(t, uint16(0x1FFF), used[reg])
			continue
		}
		assert.Equal(t, uint16(0xFFFF), used[reg], "register 0x%02X", reg)
	}
}

func TestFieldRoundTrip(t *testing.T) {
	for _, f := range Fields() {
		reg, _, n := f.Location()
		max := uint16(1<<n - 1)
		if n == 16 {
			max = 0xFFFF
		}
		for _, base := range []uint16{0x0000, 0xFFFF, 0xA5C3} {
			for _, v := range []uint16{0, 1, max / 2, max} {
				r, err := NewRegister(reg, base).WithField(f, v)
				require.NoError(t, err, "%s=%d", f, v)
				got, err := r.Field(f)
				require.NoError(t, err)
				assert.Equal(t, v, got, "%s base=%04X", f, base)

				// Other bits are untouched.
				assert.Equal(t, base&^f.mask(), r.Word()&^f.mask(), "%s", f)
			}
		}
	}
}

func TestFieldErrors(t *testing.T) {
	_, err := NewRegister(RegConf1, 0).Field(GainSel)
	assert.ErrorIs(t, err, ErrWrongRegister)

	_, err = NewRegister(RegConf0, 0).WithField(GainSel, 8)
	assert.ErrorIs(t, err, ErrFieldRange)

	_, err = NewRegister(RegConf0, 0).Field(numFields)
	assert.ErrorIs(t, err, ErrWrongRegister)
}

func TestRegisterByteOrder(t *testing.T) {
	r := NewRegister(RegConf2, 0x1234)
	assert.Equal(t, [2]byte{0x12, 0x34}, r.Data)
	assert.Equal(t, byte(0x12), r.High())
	assert.Equal(t, byte(0x34), r.Low())
	assert.Equal(t, uint16(0x1234), r.Word())
}

func TestHallConfAllPatterns(t *testing.T) {
	for p := 0; p < 16; p++ {
		// Upper nibble must not matter.
		for _, hi := range []byte{0x00, 0x70, 0xF0} {
			h, ok := DecodeHallConf(hi | byte(p))
			switch p {
			case 0x0:
				assert.True(t, ok)
				assert.Equal(t, HallTwoPhase, h)
			case 0xC:
				assert.True(t, ok)
				assert.Equal(t, HallFourPhase, h)
			default:
				assert.False(t, ok, "pattern %04b", p)
			}
		}
	}
	for _, h := range []HallConf{HallTwoPhase, HallFourPhase} {
		got, ok := DecodeHallConf(byte(h.Bits()))
		assert.True(t, ok)
		assert.Equal(t, h, got)
	}
}

func TestConf0Decode(t *testing.T) {
	r := NewRegister(RegConf0, 0x01DC) // BIST, Z_SERIES, gain 5, hall 0xC
	c, err := r.Conf0()
	require.NoError(t, err)
	h, ok := c.HallConf()
	assert.True(t, ok)
	assert.Equal(t, HallFourPhase, h)
	assert.Equal(t, Gain(5), c.Gain())
	assert.True(t, c.ZSeries())
	assert.True(t, c.Bist())

	_, err = NewRegister(RegConf1, 0).Conf0()
	assert.ErrorIs(t, err, ErrWrongRegister)
}

func TestConf1Decode(t *testing.T) {
	r := NewRegister(RegConf1, 0)
	var err error
	for f, v := range map[Field]uint16{BurstDataRate: 0x2A, BurstSel: 0xE, TcmpEn: 1, CommMode: 2, TrigInt: 1} {
		r, err = r.WithField(f, v)
		require.NoError(t, err)
	}
	c, err := r.Conf1()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x2A), c.BurstDataRate())
	assert.Equal(t, XYZ, c.BurstSel())
	assert.True(t, c.TemperatureCompensation())
	assert.False(t, c.ExternalTrigger())
	assert.False(t, c.WakeOnChangeDiff())
	assert.Equal(t, uint8(2), c.CommMode())
	assert.True(t, c.TriggerInterrupt())

	// TCMP_EN is bit 2 of the high byte.
	c, err = NewRegister(RegConf1, 0x0400).Conf1()
	require.NoError(t, err)
	assert.True(t, c.TemperatureCompensation())
}

func TestResolutionYSelector(t *testing.T) {
	cases := []struct {
		v, y uint16
		want Resolution
	}{
		{0, 0, Res19},
		{0, 1, Res18},
		{1, 0, Res17},
		{1, 1, Res16},
	}
	for _, tc := range cases {
		// y is bit 7 of the word, v is bit 8.
		w := tc.y<<7 | tc.v<<8
		c, err := NewRegister(RegConf2, w).Conf2()
		require.NoError(t, err)
		res := c.Resolution()
		assert.Equal(t, tc.want, res.Y, "v=%d y=%d", tc.v, tc.y)
		assert.Equal(t, Res19, res.X)
		assert.Equal(t, Res19, res.Z)

		// The RES_Y field value agrees with the decoded resolution.
		f, err := NewRegister(RegConf2, w).Field(ResY)
		require.NoError(t, err)
		assert.Equal(t, uint16(tc.want), f)
	}
}

func TestResolutionXZ(t *testing.T) {
	for v := uint16(0); v < 4; v++ {
		r, err := NewRegister(RegConf2, 0).WithField(ResX, v)
		require.NoError(t, err)
		r, err = r.WithField(ResZ, 3-v)
		require.NoError(t, err)
		c, err := r.Conf2()
		require.NoError(t, err)
		assert.Equal(t, Res3D{X: Resolution(v), Y: Res19, Z: Resolution(3 - v)}, c.Resolution())
	}
}

func TestConf2OtherFields(t *testing.T) {
	c, err := NewRegister(RegConf2, 0x1817).Conf2() // OSR2=3, DIG_FILT=5, OSR=3
	require.NoError(t, err)
	assert.Equal(t, uint8(3), c.OSR())
	assert.Equal(t, uint8(5), c.DigFilt())
	assert.Equal(t, uint8(3), c.OSR2())

	c3, err := NewRegister(RegConf3, 0xAB12).Conf3()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x12), c3.SensTcLT())
	assert.Equal(t, uint8(0xAB), c3.SensTcHT())
}
