package feedsync

import (
	"context"
	"sync"
	"time"

	"github.com/bryan-buckman/curio/internal/logging"
)

// MinPollInterval is the minimum allowed interval between polls.
const MinPollInterval = 15 * time.Minute

// Poller runs continuous polling.
type Poller struct {
	fetcher  *Fetcher
	interval time.Duration
	timeout  time.Duration
	log      *logging.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a background poller. Intervals below MinPollInterval
// are raised to it.
func NewPoller(fetcher *Fetcher, interval time.Duration, log *logging.Logger) *Poller {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		timeout:  10 * time.Minute,
		log:      logging.OrNop(log).With("component", "poller"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			p.RunOnce()
			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// RunOnce performs a single bounded fetch of all channels.
func (p *Poller) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	go func() {
		select {
		case <-p.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	results, err := p.fetcher.FetchAll(ctx)
	if err != nil {
		p.log.Error("Poll failed", "error", err)
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	p.log.Info("Poll complete", "new_items", total, "channels", len(results), "interval", p.interval)
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
