package mathx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(7, 0, 5))
	assert.Equal(t, 0, Clamp(-1, 0, 5))
	assert.Equal(t, 3, Clamp(3, 5, 0))
	assert.Equal(t, 1.5, Clamp(1.5, 0.0, 2.0))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "x", OrDefault("", "x"))
	assert.Equal(t, "y", OrDefault("y", "x"))
	assert.Equal(t, time.Second, ClampOrDefault(0, time.Second, time.Millisecond, time.Minute))
	assert.Equal(t, time.Minute, ClampOrDefault(time.Hour, time.Second, time.Millisecond, time.Minute))
}
