// Package heartbeat runs a periodic status callback until its context
// ends. The binaries use it to log pipeline counters.
package heartbeat

import (
	"context"
	"time"
)

const defaultInterval = 10 * time.Second

type Service struct {
	// Interval between beats. Default 10s.
	Interval time.Duration
	// Beat is called on every tick with the tick time.
	Beat func(time.Time)
}

// Run beats until ctx ends and returns ctx.Err().
func (s *Service) Run(ctx context.Context) error {
	iv := s.Interval
	if iv <= 0 {
		iv = defaultInterval
	}
	tick := time.NewTicker(iv)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-tick.C:
			if s.Beat != nil {
				s.Beat(t)
			}
		}
	}
}

// Start runs the service on its own goroutine.
func (s *Service) Start(ctx context.Context) {
	go s.Run(ctx)
}
