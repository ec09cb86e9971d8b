package sensorgroup

import (
	"fmt"

	"magarray-go/wire"
)

// Placement puts one sensor on the board.
type Placement struct {
	Address  uint16        `yaml:"address"`
	Position wire.Position `yaml:"position"`
}

// Layout is the ordered list of sensors in a group. Sensors are polled in
// this order.
type Layout []Placement

const (
	// Board pitch between neighbouring sensors, mm.
	DefaultPitch = 4.5
	// First address of the 4×4 board; addresses increase along a row.
	DefaultBaseAddress = 0x0C
	defaultRows        = 4
	defaultCols        = 4
)

// DefaultLayout is the 4×4 board: addresses 0x0C..0x1B, centred on the
// origin, rows stepping down in x and columns stepping up in y.
func DefaultLayout() Layout {
	return Grid(DefaultBaseAddress, defaultRows, defaultCols, DefaultPitch)
}

// Grid builds a rows×cols layout with consecutive addresses starting at
// base, centred on the origin.
func Grid(base uint16, rows, cols int, pitch float32) Layout {
	out := make(Layout, 0, rows*cols)
	x0 := pitch * float32(rows-1) / 2
	y0 := -pitch * float32(cols-1) / 2
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, Placement{
				Address: base + uint16(r*cols+c),
				Position: wire.Position{
					X: x0 - pitch*float32(r),
					Y: y0 + pitch*float32(c),
				},
			})
		}
	}
	return out
}

// Validate rejects empty layouts, out-of-range or duplicate addresses.
func (l Layout) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("sensorgroup: empty layout")
	}
	seen := make(map[uint16]bool, len(l))
	for i, p := range l {
		if p.Address < 0x08 || p.Address > 0x77 {
			return fmt.Errorf("sensorgroup: sensor %d: address 0x%02X out of range", i, p.Address)
		}
		if seen[p.Address] {
			return fmt.Errorf("sensorgroup: sensor %d: duplicate address 0x%02X", i, p.Address)
		}
		seen[p.Address] = true
	}
	return nil
}
