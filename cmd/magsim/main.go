// magsim drives a simulated MLX90393 array through the real driver and
// sensor group, streaming framed telemetry to a serial port, a file or
// stdout. It stands in for the board when testing the host tools.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"magarray-go/drivers/mlx90393"
	"magarray-go/internal/mlxsim"
	"magarray-go/internal/serialport"
	"magarray-go/services/config"
	"magarray-go/services/heartbeat"
	"magarray-go/services/sensorgroup"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	profile    = flag.String("profile", "sim", "Built-in profile")
	out        = flag.String("out", "", "Output: empty for the serial port, - for stdout, else a file")
	port       = flag.String("port", "", "Serial port, overrides the config")
	cycles     = flag.Int("cycles", 0, "Cycles to run, 0 for no limit")
	settle     = flag.Bool("settle", false, "Apply real device settle delays")
)

func main() {
	flag.Parse()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Resolve(*configPath, *profile)
	if err != nil {
		log.Error("loading config", "err", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Error("magsim", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	sink, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	sim := mlxsim.NewBus()
	for _, p := range cfg.Layout {
		sim.Add(p.Address)
	}
	dcfg := mlx90393.DefaultConfig()
	if !*settle {
		dcfg.Sleep = func(time.Duration) {}
	}
	opts, err := cfg.Group.Options(log)
	if err != nil {
		return err
	}
	ready := func(addr uint16) mlx90393.ReadyPin { return sim.Chip(addr) }
	g, err := sensorgroup.Open(sim, cfg.Layout, ready, dcfg, sink, opts)
	if err != nil {
		return err
	}

	hb := &heartbeat.Service{Beat: func(time.Time) {
		st := g.Stats()
		log.Info("stats", "cycles", st.Cycles, "messages", st.Messages, "sensor_errors", st.SensorErrors)
	}}
	hb.Start(ctx)

	sc := defaultScene()
	start := time.Now()
	for n := 0; *cycles == 0 || n < *cycles; n++ {
		now := time.Since(start)
		for _, m := range g.Members() {
			cal, err := m.Sensor.Calibration()
			if err != nil {
				continue
			}
			sim.Chip(m.Sensor.Address()).SetSample(sc.raw(m.Position, now, cal))
		}
		if err := g.Cycle(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, cfg.Group.Interval); err != nil {
			return err
		}
	}

	st := g.Stats()
	log.Info("done", "cycles", st.Cycles, "messages", st.Messages, "sensor_errors", st.SensorErrors)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func openSink(cfg config.Config) (io.WriteCloser, error) {
	switch *out {
	case "-":
		return nopCloser{os.Stdout}, nil
	case "":
		return serialport.Open(cfg.Serial.Port, cfg.Serial.Options)
	}
	return os.Create(*out)
}
