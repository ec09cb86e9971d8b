// magview reads magnetometer telemetry from the serial link (or a capture
// file), prints every reading and optionally records it to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"magarray-go/bus"
	"magarray-go/internal/serialport"
	"magarray-go/services/config"
	"magarray-go/services/heartbeat"
	"magarray-go/services/monitor"
	"magarray-go/services/recorder"
	"magarray-go/wire"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	profile    = flag.String("profile", "", "Built-in profile: board, legacy or sim")
	port       = flag.String("port", "", "Serial port, overrides the config (\"auto\" picks the first)")
	replay     = flag.String("replay", "", "Read a captured stream from this file instead of a port")
	record     = flag.Bool("record", false, "Record readings to the database")
	dbPath     = flag.String("db", "", "Database path, overrides the config")
	quiet      = flag.Bool("quiet", false, "Do not print readings")
	listPorts  = flag.Bool("list", false, "List serial ports and exit")
	verbose    = flag.Bool("v", false, "Debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if *listPorts {
		ports, err := serialport.List()
		if err != nil {
			fatal(log, "listing ports", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Resolve(*configPath, *profile)
	if err != nil {
		fatal(log, "loading config", err)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *dbPath != "" {
		cfg.Recorder.Path = *dbPath
	}
	cfg.Recorder.Enabled = cfg.Recorder.Enabled || *record
	cfg.Monitor.Quiet = cfg.Monitor.Quiet || *quiet

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		fatal(log, "magview", err)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	src, source, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer src.Close()

	b := bus.New[wire.Message](cfg.Monitor.Queue)
	mon := monitor.New(src, b, monitor.Options{
		Block:    cfg.Monitor.Reader == config.ReaderBlock,
		Poll:     cfg.Monitor.Poll,
		Preamble: *replay == "" && !cfg.Monitor.SkipPreamble,
		Synced:   *replay != "",
		Logger:   log,
	})

	g, gctx := errgroup.WithContext(ctx)
	var subs []*bus.Subscription[wire.Message]
	all := bus.T(monitor.TopicField, bus.AnyOne)

	if !cfg.Monitor.Quiet {
		sub := b.Subscribe(all)
		subs = append(subs, sub)
		printer := monitor.NewPrinter(os.Stdout)
		g.Go(func() error { return printer.Run(gctx, sub) })
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		store, err := recorder.Open(cfg.Recorder.Path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", cfg.Recorder.Path, err)
		}
		defer store.Close()
		sess, err := store.NewSession(ctx, source, time.Now())
		if err != nil {
			return err
		}
		rec = recorder.New(store, sess, recorder.Options{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			Logger:        log,
		})
		sub := b.Subscribe(all)
		subs = append(subs, sub)
		g.Go(func() error { return rec.Run(gctx, sub) })
		log.Info("recording", "db", cfg.Recorder.Path, "session", sess.ID)
	}

	hb := &heartbeat.Service{Beat: func(time.Time) {
		st := mon.Stats()
		log.Debug("stats", "messages", st.Messages, "decode_errors", st.DecodeErrors, "read_errors", st.ReadErrors, "idle_polls", st.IdlePolls)
	}}
	hb.Start(gctx)

	g.Go(func() error {
		// Consumers drain what is queued and stop once the source ends.
		defer func() {
			for _, s := range subs {
				s.Unsubscribe()
			}
		}()
		return mon.Run(gctx)
	})

	err = g.Wait()
	st := mon.Stats()
	log.Info("monitor stopped", "messages", st.Messages, "decode_errors", st.DecodeErrors, "read_errors", st.ReadErrors, "idle_polls", st.IdlePolls)
	if rec != nil {
		rs := rec.Stats()
		log.Info("recorder stopped", "stored", rs.Stored, "dropped", rs.DroppedOnErr)
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openSource opens the replay file or the serial port. A port is closed
// when ctx ends so a blocked read returns.
func openSource(ctx context.Context, cfg config.Config, log *slog.Logger) (io.ReadCloser, string, error) {
	if *replay != "" {
		f, err := os.Open(*replay)
		if err != nil {
			return nil, "", err
		}
		log.Info("replaying", "file", *replay)
		return f, *replay, nil
	}

	path, err := serialport.Resolve(cfg.Serial.Port)
	if err != nil {
		return nil, "", err
	}
	p, err := serialport.Open(path, cfg.Serial.Options)
	if err != nil {
		return nil, "", err
	}
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	log.Info("port open", "port", path, "baud", cfg.Serial.BaudRate, "reader", cfg.Monitor.Reader)
	return p, path, nil
}
