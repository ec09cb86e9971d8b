//go:build rp2040

// magarray-fw runs on an RP2040 board carrying the 4×4 MLX90393 array. It
// polls every sensor in turn on I2C0 and streams framed readings on UART0.
package main

import (
	"context"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"magarray-go/drivers/mlx90393"
	"magarray-go/internal/readypin"
	"magarray-go/services/heartbeat"
	"magarray-go/services/sensorgroup"
)

const (
	baudRate     = 115200
	i2cFrequency = 400 * machine.KHz
	readyTimeout = 250 * time.Millisecond
	// Used for sensors whose ready line is not wired.
	conversionTime = 20 * time.Millisecond
	statsEvery     = 10 * time.Second
)

// readyPins[i] is the INT line of the i-th sensor of the default layout.
var readyPins = [...]machine.Pin{
	machine.GP6, machine.GP7, machine.GP8, machine.GP9,
	machine.GP10, machine.GP11, machine.GP12, machine.GP13,
	machine.GP14, machine.GP15, machine.GP16, machine.GP17,
	machine.GP18, machine.GP19, machine.GP20, machine.GP21,
}

// irqPin adapts machine.Pin to readypin.Pin.
type irqPin struct{ machine.Pin }

func (p irqPin) SetIRQ(handler func()) error {
	return p.Pin.SetInterrupt(machine.PinRising, func(machine.Pin) { handler() })
}

func (p irqPin) ClearIRQ() error {
	var none machine.PinChange
	return p.Pin.SetInterrupt(none, nil)
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(1500 * time.Millisecond)
	println("[magarray] boot …")

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		Frequency: i2cFrequency,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	}); err != nil {
		halt("i2c configure: " + err.Error())
	}

	uart := uartx.UART0
	_ = uart.Configure(uartx.UARTConfig{
		BaudRate: baudRate,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})

	layout := sensorgroup.DefaultLayout()
	bank := readypin.NewBank(readypin.Delay(conversionTime))
	for i, p := range layout {
		if i >= len(readyPins) {
			break
		}
		pin := readyPins[i]
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
		if err := bank.Add(p.Address, irqPin{pin}); err != nil {
			println("[magarray] ready line", i, "unavailable:", err.Error())
		}
	}

	g, err := sensorgroup.Open(i2c, layout, bank.For, mlx90393.DefaultConfig(), uart,
		sensorgroup.Options{Channels: mlx90393.AllChannels, ReadyTimeout: readyTimeout})
	if err != nil {
		halt("no sensors: " + err.Error())
	}
	println("[magarray] sensors up:", len(g.Members()))

	ctx := context.Background()
	hb := &heartbeat.Service{Interval: statsEvery, Beat: func(time.Time) {
		st := g.Stats()
		println("[magarray] cycles", st.Cycles, "msgs", st.Messages,
			"sensor_errs", st.SensorErrors, "write_errs", st.WriteErrors,
			"resets", st.Resets, "skipped", st.Skipped, "irq_drops", bank.Drops())
	}}
	hb.Start(ctx)
	_ = g.Run(ctx)
}

func halt(msg string) {
	for {
		println("[magarray] FATAL:", msg)
		time.Sleep(2 * time.Second)
	}
}
