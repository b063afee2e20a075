// Package throttle implements the adaptive rate limiter that governs global
// packet emission for osprey. A token-bucket acquirer caps the instantaneous
// send rate; a sliding window of recent outcomes drives periodic multiplicative
// increase/decrease of that rate based on the observed success ratio.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/metrics"
)

// Outcome is the feedback signal a caller reports after each probe.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// Config bounds and tunes the adaptive controller (§4.B, §6 [throttling]).
type Config struct {
	InitialPPS       float64
	MaxPPS           float64
	MinPPS           float64
	SuccessThreshold float64       // default 0.95
	FailureThreshold float64       // default 0.80
	RateIncrease     float64       // default 1.5
	RateDecrease     float64       // default 0.5
	WindowSize       int           // default 200
	Cooldown         time.Duration // default 500ms
}

// DefaultConfig returns the spec's documented defaults (§4.B).
func DefaultConfig() Config {
	return Config{
		InitialPPS:       100,
		MaxPPS:           10000,
		MinPPS:           10,
		SuccessThreshold: 0.95,
		FailureThreshold: 0.80,
		RateIncrease:     1.5,
		RateDecrease:     0.5,
		WindowSize:       200,
		Cooldown:         500 * time.Millisecond,
	}
}

// State is a read-only snapshot of the controller's internal counters (§3
// ThrottleState).
type State struct {
	CurrentPPS     float64
	Sent           uint64
	Succeeded      uint64
	Failed         uint64
	LastAdjustTime time.Time
	SuccessWindow  float64 // successes / len(window), over the current window
}

// Controller is the adaptive rate limiter shared by every worker in a scan.
// Its updates are behind a mutex held only for the tiny critical section
// that adjusts the rate and slides the outcome window; the token-bucket
// acquire path itself never blocks while holding the mutex.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	limiter    *rate.Limiter
	window     []Outcome
	windowHead int
	windowLen  int
	successes  int // successes currently in the window

	currentPPS float64
	sent       uint64
	succeeded  uint64
	failed     uint64
	lastAdjust time.Time
}

// New creates a Controller with the given configuration. Burst is pps/10,
// per §4.B, with a floor of 1 so the bucket never stalls at very low rates.
func New(cfg Config) *Controller {
	burst := int(cfg.InitialPPS / 10)
	if burst < 1 {
		burst = 1
	}

	return &Controller{
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.InitialPPS), burst),
		window:     make([]Outcome, cfg.WindowSize),
		currentPPS: cfg.InitialPPS,
		lastAdjust: time.Now(),
	}
}

// Acquire suspends the caller until it is permitted to send one packet. It
// respects ctx cancellation instead of busy-waiting.
func (c *Controller) Acquire(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.sent++
	c.mu.Unlock()

	return nil
}

// Report feeds a probe outcome back into the controller. At most once per
// cooldown, it recomputes the success ratio over the sliding window and
// adjusts pps accordingly (§4.B).
func (c *Controller) Report(outcome Outcome) {
	metrics.RecordThrottleProbe(outcomeLabel(outcome))

	c.mu.Lock()
	defer c.mu.Unlock()

	switch outcome {
	case Success:
		c.succeeded++
	case Failure:
		c.failed++
	}

	c.pushOutcome(outcome)

	if time.Since(c.lastAdjust) < c.cfg.Cooldown {
		return
	}
	c.adjustLocked()
	c.lastAdjust = time.Now()
}

// pushOutcome slides outcome into the fixed-size window, replacing the
// oldest entry once full, and maintains the running success count.
func (c *Controller) pushOutcome(outcome Outcome) {
	n := len(c.window)
	if n == 0 {
		return
	}

	if c.windowLen == n {
		if c.window[c.windowHead] == Success {
			c.successes--
		}
	} else {
		c.windowLen++
	}

	c.window[c.windowHead] = outcome
	if outcome == Success {
		c.successes++
	}

	c.windowHead = (c.windowHead + 1) % n
}

// adjustLocked applies the multiplicative increase/decrease rule over the
// current window's success ratio. Callers must hold c.mu.
func (c *Controller) adjustLocked() {
	if c.windowLen == 0 {
		return
	}

	successRate := float64(c.successes) / float64(c.windowLen)

	switch {
	case successRate >= c.cfg.SuccessThreshold:
		c.setRateLocked(c.currentPPS*c.cfg.RateIncrease, "increase")
	case successRate <= c.cfg.FailureThreshold:
		c.setRateLocked(c.currentPPS*c.cfg.RateDecrease, "decrease")
	}
}

// setRateLocked clamps newPPS to [MinPPS, MaxPPS], applies it to the
// token-bucket limiter, and emits the ambient logging/metrics side effects.
// Callers must hold c.mu.
func (c *Controller) setRateLocked(newPPS float64, direction string) {
	if newPPS > c.cfg.MaxPPS {
		newPPS = c.cfg.MaxPPS
	}
	if newPPS < c.cfg.MinPPS {
		newPPS = c.cfg.MinPPS
	}

	c.currentPPS = newPPS
	c.limiter.SetLimit(rate.Limit(newPPS))

	burst := int(newPPS / 10)
	if burst < 1 {
		burst = 1
	}
	c.limiter.SetBurst(burst)

	metrics.SetThrottlePPS(newPPS)
	metrics.SetThrottlePPSPrometheus(newPPS)
	metrics.GetGlobalMetrics().IncrementThrottleAdjustment(direction)
	logging.InfoThrottle("rate "+direction+"d", newPPS, "direction", direction)
}

// Stats returns the current controller state (§3 ThrottleState).
func (c *Controller) Stats() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	var successWindow float64
	if c.windowLen > 0 {
		successWindow = float64(c.successes) / float64(c.windowLen)
	}

	return State{
		CurrentPPS:     c.currentPPS,
		Sent:           c.sent,
		Succeeded:      c.succeeded,
		Failed:         c.failed,
		LastAdjustTime: c.lastAdjust,
		SuccessWindow:  successWindow,
	}
}

// SetRate forcibly overrides the current rate, bypassing the sliding-window
// adjustment logic. Used by tests and by manual operator overrides.
func (c *Controller) SetRate(pps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setRateLocked(pps, "manual")
}

func outcomeLabel(o Outcome) string {
	if o == Success {
		return "success"
	}
	return "failure"
}
