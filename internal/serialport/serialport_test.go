package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestNormalizeDefaults(t *testing.T) {
	got, err := Options{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Options{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, got)
}

func TestNormalizeErrors(t *testing.T) {
	for _, o := range []Options{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := o.Normalize()
		assert.Error(t, err, "%+v", o)
	}
}

func TestMode(t *testing.T) {
	m, err := Options{BaudRate: 9600, StopBits: 2, Parity: "even"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, m)

	m, err = Options{Parity: "o"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, serial.OddParity, m.Parity)
	assert.Equal(t, serial.OneStopBit, m.StopBits)
}

func TestResolveExplicitPath(t *testing.T) {
	p, err := Resolve("/dev/ttyACM0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", p)
}
