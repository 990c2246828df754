/*
janitor.go - Background sweep of expired cache entries

PURPOSE:
  Expired memory entries are never served, but they stay in the map until
  something removes them. The janitor sweeps them on a fixed interval.

USAGE:
  janitor := cache.NewJanitor(mem, time.Minute, logger)
  janitor.Start()
  // ... later
  janitor.Stop()

SEE ALSO:
  - memory.go: Memory.Sweep
*/
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper removes expired entries.
type Sweeper interface {
	Sweep() int
}

// Janitor periodically sweeps a cache.
type Janitor struct {
	Cache    Sweeper
	Interval time.Duration
	Enabled  bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewJanitor creates a janitor. A non-positive interval uses one minute.
func NewJanitor(c Sweeper, interval time.Duration, log zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		Cache:    c,
		Interval: interval,
		Enabled:  true,
		log:      log.With().Str("component", "cache-janitor").Logger(),
	}
}

// Start begins sweeping. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.Enabled {
		j.log.Info().Msg("disabled, not starting")
		return
	}
	if j.ticker != nil {
		return
	}

	j.ticker = time.NewTicker(j.Interval)
	j.stop = make(chan struct{})
	j.wg.Add(1)
	go j.run(j.ticker, j.stop)

	j.log.Info().Dur("interval", j.Interval).Msg("started")
}

// Stop stops the janitor and waits for an in-progress sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker == nil {
		return
	}
	j.ticker.Stop()
	close(j.stop)
	j.wg.Wait()
	j.ticker = nil
	j.log.Info().Msg("stopped")
}

func (j *Janitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer j.wg.Done()

	for {
		select {
		case <-ticker.C:
			if n := j.Cache.Sweep(); n > 0 {
				j.log.Debug().Int("removed", n).Msg("swept expired entries")
			}
		case <-stop:
			return
		}
	}
}
