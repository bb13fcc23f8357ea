// Package capture runs the goroutine that moves frames from a source into the frame store and
// asks the window to redraw.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/stats"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"

	"go.viam.com/framediff/framestore"
	"go.viam.com/framediff/logging"
	"go.viam.com/framediff/source"
)

// State is the phase the capture loop is in.
type State int32

// Loop states. Stopped and Failed are terminal.
const (
	StateIdle State = iota
	StateFetching
	StateUpdating
	StateSignaling
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateUpdating:
		return "updating"
	case StateSignaling:
		return "signaling"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// A Trigger asks the render side to redraw. Wake must not block.
type Trigger interface {
	Wake()
}

// Config controls how capture failures are retried.
type Config struct {
	// MaxConsecutiveFailures is how many retryable failures in a row are tolerated before the
	// loop fails. Zero or one makes every failure fatal.
	MaxConsecutiveFailures int
	RetryBackoff           time.Duration
	MaxRetryBackoff        time.Duration
}

// DefaultConfig returns the retry policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 10,
		RetryBackoff:           50 * time.Millisecond,
		MaxRetryBackoff:        2 * time.Second,
	}
}

// Stats is a snapshot of loop counters.
type Stats struct {
	State   State
	Frames  uint64
	Retries uint64
	LastSeq uint64
}

// An Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for backoff waits, upload latency, and throughput logging.
func WithClock(clk clock.Clock) Option {
	return func(l *Loop) {
		l.clock = clk
	}
}

// WithFatalHandler sets a function called once, from the capture goroutine, when the loop fails.
func WithFatalHandler(fn func(error)) Option {
	return func(l *Loop) {
		l.onFatal = fn
	}
}

// Loop fetches frames on a dedicated goroutine: Fetching, then Updating the store, then
// Signaling the trigger, and back to Fetching.
type Loop struct {
	src     source.Source
	store   framestore.Updater
	trigger Trigger
	cfg     Config
	logger  logging.Logger
	clock   clock.Clock
	onFatal func(error)

	state   atomic.Int32
	frames  atomic.Uint64
	retries atomic.Uint64
	lastSeq atomic.Uint64
	err     atomic.Error

	throughput  rate.Sometimes
	lastLogAt   time.Time
	lastLogSeen uint64

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewLoop returns a loop that has not started.
func NewLoop(
	src source.Source,
	store framestore.Updater,
	trigger Trigger,
	cfg Config,
	logger logging.Logger,
	opts ...Option,
) *Loop {
	l := &Loop{
		src:        src,
		store:      store,
		trigger:    trigger,
		cfg:        cfg,
		logger:     logger,
		clock:      clock.New(),
		throughput: rate.Sometimes{Interval: 10 * time.Second},
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cfg.RetryBackoff <= 0 {
		l.cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if l.cfg.MaxRetryBackoff < l.cfg.RetryBackoff {
		l.cfg.MaxRetryBackoff = l.cfg.RetryBackoff
	}
	return l
}

// Start launches the capture goroutine. It runs until ctx is cancelled, Stop is called, or a
// fatal error occurs. Calling Start more than once, or after Stop, has no effect.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.lastLogAt = l.clock.Now()
	goutils.PanicCapturingGo(func() {
		defer close(l.done)
		l.run(ctx)
	})
}

// Stop cancels the loop, closes the source so a blocked fetch returns, and waits for the
// goroutine to exit. It returns the source's close error.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		started := l.started
		l.started = true
		cancel := l.cancel
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		l.stopErr = l.src.Close(ctx)
		if started {
			<-l.done
		} else {
			l.setState(StateStopped)
			close(l.done)
		}
	})
	return l.stopErr
}

// Done is closed when the capture goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that failed the loop, if any.
func (l *Loop) Err() error {
	return l.err.Load()
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	return Stats{
		State:   l.State(),
		Frames:  l.frames.Load(),
		Retries: l.retries.Load(),
		LastSeq: l.lastSeq.Load(),
	}
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Loop) run(ctx context.Context) {
	failures := 0
	backoff := l.cfg.RetryBackoff
	for {
		if ctx.Err() != nil {
			l.stopped()
			return
		}

		l.setState(StateFetching)
		frame, err := l.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.stopped()
				return
			}
			if !source.IsRetryable(err) {
				l.fail(err)
				return
			}
			failures++
			l.retries.Inc()
			stats.Record(ctx, captureRetries.M(1))
			if failures >= l.cfg.MaxConsecutiveFailures {
				l.fail(errors.Wrapf(err, "giving up after %d consecutive capture failures", failures))
				return
			}
			l.logger.Warnw("frame capture failed; retrying", "error", err, "attempt", failures, "backoff", backoff)
			if !l.sleep(ctx, backoff) {
				l.stopped()
				return
			}
			backoff *= 2
			if backoff > l.cfg.MaxRetryBackoff {
				backoff = l.cfg.MaxRetryBackoff
			}
			continue
		}
		if failures > 0 {
			l.logger.Infow("frame capture recovered", "failures", failures)
		}
		failures = 0
		backoff = l.cfg.RetryBackoff
		fetchedAt := l.clock.Now()

		l.setState(StateUpdating)
		if err := l.store.Update(frame.Data); err != nil {
			l.fail(errors.Wrap(err, "failed to update frame store"))
			return
		}

		l.setState(StateSignaling)
		l.trigger.Wake()

		l.frames.Inc()
		l.lastSeq.Store(frame.Seq)
		stats.Record(ctx,
			framesCaptured.M(1),
			uploadLatency.M(float64(l.clock.Since(fetchedAt))/float64(time.Millisecond)))
		l.throughput.Do(l.logThroughput)
	}
}

func (l *Loop) logThroughput() {
	now := l.clock.Now()
	frames := l.frames.Load()
	elapsed := now.Sub(l.lastLogAt).Seconds()
	if elapsed > 0 {
		l.logger.Debugw("capture throughput",
			"frames", frames,
			"fps", float64(frames-l.lastLogSeen)/elapsed,
			"retries", l.retries.Load())
	}
	l.lastLogAt = now
	l.lastLogSeen = frames
}

// sleep waits d on the loop clock and reports false if ctx ended first.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	timer := l.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Loop) stopped() {
	l.setState(StateStopped)
	l.logger.Debugw("capture loop stopped", "frames", l.frames.Load())
}

// fail records err, moves to Failed, and wakes the trigger so the render side observes it.
func (l *Loop) fail(err error) {
	l.err.Store(err)
	l.setState(StateFailed)
	l.logger.Errorw("capture loop failed", "error", err)
	if l.onFatal != nil {
		l.onFatal(err)
	}
	l.trigger.Wake()
}
