package recorder

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"magarray-go/bus"
	"magarray-go/wire"
)

type Options struct {
	// BatchSize readings are written per transaction. Default 64.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits. Default 1s.
	FlushInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

type Stats struct {
	Stored       uint64
	Batches      uint64
	WriteErrors  uint64
	DroppedOnErr uint64
}

// Recorder drains a bus subscription into a Store session.
type Recorder struct {
	store   *Store
	session Session
	opts    Options
	log     *slog.Logger
	batch   []Reading

	stored, batches, writeErrs, dropped atomic.Uint64
}

func New(store *Store, session Session, opts Options) *Recorder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		store:   store,
		session: session,
		opts:    opts,
		log:     opts.Logger.With("component", "recorder", "session", session.ID),
		batch:   make([]Reading, 0, opts.BatchSize),
	}
}

func (r *Recorder) Session() Session { return r.session }

func (r *Recorder) Stats() Stats {
	return Stats{
		Stored:       r.stored.Load(),
		Batches:      r.batches.Load(),
		WriteErrors:  r.writeErrs.Load(),
		DroppedOnErr: r.dropped.Load(),
	}
}

// Run records until ctx ends or sub closes. Readings still queued on sub
// when ctx ends are taken too, and everything pending is flushed before it
// returns.
func (r *Recorder) Run(ctx context.Context, sub *bus.Subscription[wire.Message]) error {
	tick := time.NewTicker(r.opts.FlushInterval)
	defer tick.Stop()
	final := context.WithoutCancel(ctx)
	defer r.flush(final)

	for {
		select {
		case <-ctx.Done():
			r.drain(final, sub)
			return ctx.Err()
		case <-tick.C:
			r.flush(ctx)
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			r.add(ctx, msg.Payload)
		}
	}
}

func (r *Recorder) add(ctx context.Context, m wire.Message) {
	r.batch = append(r.batch, Reading{ReceivedAt: r.opts.Now(), Message: m})
	if len(r.batch) >= r.opts.BatchSize {
		r.flush(ctx)
	}
}

// drain takes whatever is queued on sub without waiting for more.
func (r *Recorder) drain(ctx context.Context, sub *bus.Subscription[wire.Message]) {
	for {
		select {
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			r.add(ctx, msg.Payload)
		default:
			return
		}
	}
}

// flush writes the pending batch. A failed batch is dropped.
func (r *Recorder) flush(ctx context.Context) {
	if len(r.batch) == 0 {
		return
	}
	n := uint64(len(r.batch))
	if err := r.store.Insert(ctx, r.session.ID, r.batch); err != nil {
		r.writeErrs.Add(1)
		r.dropped.Add(n)
		r.log.Error("batch write failed", "readings", n, "err", err)
	} else {
		r.stored.Add(n)
		r.batches.Add(1)
	}
	r.batch = r.batch[:0]
}
