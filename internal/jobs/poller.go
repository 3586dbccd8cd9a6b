package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
)

// DefaultInterval is how often the jobs view refreshes.
const DefaultInterval = 5 * time.Second

// Refresher reloads the job list without marking it as loading.
type Refresher interface {
	Refresh(ctx context.Context) ([]model.Job, error)
}

// Poller refreshes the job list on a fixed interval while a view is watching it. A tick that
// finds the previous refresh still running is skipped, not queued.
type Poller struct {
	// System dependencies.
	source   Refresher
	interval time.Duration
	clock    clockwork.Clock
	log      *logrus.Entry

	// Internal state.
	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	polls       sync.WaitGroup
	inFlight    atomic.Bool
	skipped     atomic.Int64
	subscribers []func([]model.Job, error)
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithInterval replaces DefaultInterval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewPoller returns a stopped poller of source.
func NewPoller(source Refresher, opts ...PollerOption) *Poller {
	p := &Poller{
		source:   source,
		interval: DefaultInterval,
		clock:    clockwork.NewRealClock(),
		log:      logger.Component("job-poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers fn to receive the outcome of every poll.
func (p *Poller) Subscribe(fn func([]model.Job, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Interval is the polling period.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Skipped counts ticks dropped because a poll was still running.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

// Running reports whether the poller has been started and not stopped.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start begins polling. The first poll happens one interval from now. Polling ends when ctx is
// cancelled or Stop is called. Starting a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	ticker := p.clock.NewTicker(p.interval)
	go p.run(ctx, ticker, p.done)
	p.log.WithField("interval", p.interval).Debug("job polling started")
}

func (p *Poller) run(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			if !p.inFlight.CompareAndSwap(false, true) {
				p.skipped.Add(1)
				p.log.Debug("previous poll still in flight, skipping tick")
				continue
			}
			p.polls.Add(1)
			go p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	defer p.polls.Done()
	defer p.inFlight.Store(false)

	jobs, err := p.source.Refresh(ctx)
	if ctx.Err() != nil {
		// Torn down while waiting; nobody is watching anymore.
		return
	}
	if err != nil {
		p.log.WithError(err).Warn("job poll failed")
	}

	p.mu.Lock()
	subs := append(([]func([]model.Job, error))(nil), p.subscribers...)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(jobs, err)
	}
}

// Stop ends polling and waits for the loop and any running poll to finish. No request is
// issued after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.polls.Wait()
	p.log.Debug("job polling stopped")
}
