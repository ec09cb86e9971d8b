package monitor

import (
	"context"
	"fmt"
	"io"

	"magarray-go/bus"
	"magarray-go/wire"
)

// Render writes m as two lines: sensor position, then field and
// temperature. Absent channels print as 0.
func Render(w io.Writer, m wire.Message) error {
	_, err := fmt.Fprintf(w, "x: %.2f\ty: %.2f\tz: %.2f\nBx: %.3f\tBy: %.3f\tBz: %.3f\tTemp: %.3f\n",
		m.Position.X, m.Position.Y, m.Position.Z,
		m.Field.X.Or(0), m.Field.Y.Or(0), m.Field.Z.Or(0), m.Field.T.Or(0))
	return err
}

// Printer renders every message of a subscription.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

// Run prints until ctx ends or the subscription closes.
func (p *Printer) Run(ctx context.Context, sub *bus.Subscription[wire.Message]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			if err := Render(p.w, msg.Payload); err != nil {
				return err
			}
		}
	}
}
