// Package wire carries magnetometer telemetry between the firmware and a host
// over a byte stream.
//
// A Message is encoded into a compact little-endian payload (varint enum
// tags, 1-byte option tags, IEEE-754 f32), COBS-stuffed so the payload holds
// no zero bytes, and terminated with a single 0x00. The layout is:
//
//	field.x   option<µT>      0x00 | 0x01 varint(0) f32
//	field.y   option<µT>
//	field.z   option<µT>
//	field.t   option<°C>      0x00 | 0x01 varint(0) f32
//	position  f32 f32 f32
package wire

// Microtesla is an optional magnetic flux density reading.
type Microtesla struct {
	Value float32
	Valid bool
}

// Celsius is an optional temperature reading.
type Celsius struct {
	Value float32
	Valid bool
}

// Some returns a present µT value.
func Some(v float32) Microtesla { return Microtesla{Value: v, Valid: true} }

// SomeCelsius returns a present °C value.
func SomeCelsius(v float32) Celsius { return Celsius{Value: v, Valid: true} }

// Or returns the value, or def when absent.
func (m Microtesla) Or(def float32) float32 {
	if !m.Valid {
		return def
	}
	return m.Value
}

// Or returns the value, or def when absent.
func (c Celsius) Or(def float32) float32 {
	if !c.Valid {
		return def
	}
	return c.Value
}

// MagneticField is one conversion result. Channels that were not measured
// are absent, never zero-filled.
type MagneticField struct {
	X, Y, Z Microtesla
	T       Celsius
}

// Position is the sensor location on the board in millimetres.
type Position struct {
	X, Y, Z float32
}

// Message is the unit of transfer: one field reading tagged with the
// position of the sensor that produced it.
type Message struct {
	Field    MagneticField
	Position Position
}

func NewMessage(f MagneticField, p Position) Message {
	return Message{Field: f, Position: p}
}
