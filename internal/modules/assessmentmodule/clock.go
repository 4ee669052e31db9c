package assessmentmodule

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ExamClock counts an exam attempt down from its configured duration.
// The countdown pauses while a permission retry is in flight and the
// expiry signal fires exactly once, no matter how the clock is driven
// afterwards.
type ExamClock struct {
	logger   hclog.Logger
	interval time.Duration

	mu        sync.Mutex
	remaining time.Duration
	running   bool
	expired   bool
	stop      chan struct{}
	stopped   chan struct{}

	// OnTick fires after every elapsed interval with the remaining time.
	OnTick func(remaining time.Duration)
	// OnExpired fires exactly once when the countdown reaches zero.
	OnExpired func()
}

// NewExamClock creates a stopped clock. Interval controls the tick
// granularity; zero selects one second.
func NewExamClock(logger hclog.Logger, interval time.Duration) *ExamClock {
	if interval <= 0 {
		interval = time.Second
	}
	return &ExamClock{
		logger:   logger.Named("clock"),
		interval: interval,
	}
}

// Start begins the countdown from the given duration. Starting an
// already running or expired clock is a no-op.
func (c *ExamClock) Start(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.expired {
		return
	}

	c.remaining = duration
	c.startLocked()
	c.logger.Debug("countdown started", "duration", duration)
}

// Pause suspends the countdown, preserving the remaining time.
func (c *ExamClock) Pause() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop := c.stop
	stopped := c.stopped
	c.mu.Unlock()

	close(stop)
	<-stopped

	c.logger.Debug("countdown paused", "remaining", c.Remaining())
}

// Resume continues the countdown from where Pause left it. Resuming a
// running or expired clock is a no-op.
func (c *ExamClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.expired {
		return
	}
	c.startLocked()
}

func (c *ExamClock) startLocked() {
	c.running = true
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})
	go c.run(c.stop, c.stopped)
}

func (c *ExamClock) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick advances the countdown by one interval. Returns true when the
// clock has expired and the run loop should exit.
func (c *ExamClock) tick() bool {
	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()
		return true
	}

	c.remaining -= c.interval
	if c.remaining < 0 {
		c.remaining = 0
	}
	remaining := c.remaining
	onTick := c.OnTick

	var onExpired func()
	if remaining == 0 && !c.expired {
		c.expired = true
		c.running = false
		onExpired = c.OnExpired
	}
	done := c.expired
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if onExpired != nil {
		c.logger.Info("countdown expired")
		onExpired()
	}
	return done
}

// Remaining returns the time left on the countdown.
func (c *ExamClock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether the countdown is currently advancing.
func (c *ExamClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Expired reports whether the countdown has reached zero.
func (c *ExamClock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}
