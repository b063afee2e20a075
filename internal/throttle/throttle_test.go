package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialPPS = 1000
	cfg.MinPPS = 100
	cfg.MaxPPS = 10000
	cfg.RateDecrease = 0.5
	cfg.RateIncrease = 1.5
	cfg.WindowSize = 10
	cfg.Cooldown = 0 // adjust on every report, so tests don't need to sleep
	return cfg
}

// forceElapsed makes the controller believe a full cooldown period has
// passed, so the next Report call is guaranteed to trigger an adjustment.
// Lets cooldown-boundary behavior be tested deterministically, without
// sleeping for real wall-clock time.
func forceElapsed(c *Controller) {
	c.mu.Lock()
	c.lastAdjust = time.Time{}
	c.mu.Unlock()
}

func TestControllerInitialRate(t *testing.T) {
	c := New(testConfig())
	assert.Equal(t, 1000.0, c.Stats().CurrentPPS)
}

// TestControllerRateDecreaseToFloor mirrors §8 scenario 4: inject a stream
// of failures from pps=1000 with min_pps=100, rate_decrease=0.5 and expect
// repeated halving down to the floor, one adjustment per cooldown window.
func TestControllerRateDecreaseToFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	c := New(cfg)

	for i := 0; i < cfg.WindowSize; i++ {
		c.Report(Failure)
	}
	assert.Equal(t, 1000.0, c.Stats().CurrentPPS, "no adjustment until cooldown elapses")

	step := func(expected float64) {
		forceElapsed(c)
		c.Report(Failure)
		assert.Equal(t, expected, c.Stats().CurrentPPS)
	}

	step(500)
	step(250)
	step(125)
	step(100) // floored at min_pps
	step(100) // stays at floor
}

func TestControllerRateIncreaseToCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	c := New(cfg)

	for i := 0; i < cfg.WindowSize; i++ {
		c.Report(Success)
	}

	for round := 0; round < 10; round++ {
		forceElapsed(c)
		c.Report(Success)
	}

	assert.LessOrEqual(t, c.Stats().CurrentPPS, cfg.MaxPPS)
	assert.Equal(t, cfg.MaxPPS, c.Stats().CurrentPPS, "repeated 1.5x growth saturates at max_pps")
}

func TestControllerCooldownLimitsAdjustmentFrequency(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	c := New(cfg)

	for i := 0; i < cfg.WindowSize; i++ {
		c.Report(Failure)
	}
	assert.Equal(t, 1000.0, c.Stats().CurrentPPS, "still within cooldown from New()")

	for i := 0; i < cfg.WindowSize; i++ {
		c.Report(Failure)
	}
	assert.Equal(t, 1000.0, c.Stats().CurrentPPS, "cooldown suppresses repeated adjustment")
}

func TestControllerSlidingWindowEvictsOldOutcomes(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSize = 4
	c := New(cfg)

	c.Report(Failure)
	c.Report(Failure)
	c.Report(Failure)
	c.Report(Failure)
	assert.Equal(t, 0.0, c.Stats().SuccessWindow)

	// Push four successes; they should fully evict the failures from a
	// window of size 4.
	c.Report(Success)
	c.Report(Success)
	c.Report(Success)
	c.Report(Success)
	assert.Equal(t, 1.0, c.Stats().SuccessWindow)
}

func TestControllerAcquireRespectsContextCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.InitialPPS = 1 // one token per second, burst 1
	cfg.MinPPS = 1
	c := New(cfg)

	// The first acquire consumes the pre-filled burst token and returns
	// immediately.
	require.NoError(t, c.Acquire(context.Background()))

	// The second must wait ~1s for the bucket to refill; a 10ms deadline
	// expires first.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.Acquire(ctx)
	require.Error(t, err)
}

func TestControllerAcquireCountsSent(t *testing.T) {
	c := New(testConfig())

	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Acquire(ctx))

	assert.Equal(t, uint64(2), c.Stats().Sent)
}

func TestControllerManualSetRateClamps(t *testing.T) {
	c := New(testConfig())

	c.SetRate(999999)
	assert.Equal(t, c.cfg.MaxPPS, c.Stats().CurrentPPS)

	c.SetRate(0)
	assert.Equal(t, c.cfg.MinPPS, c.Stats().CurrentPPS)
}

func TestTimingProfileParams(t *testing.T) {
	p := ProfileInsane.Params()
	assert.Greater(t, p.InitialPPS, ProfileParanoid.Params().InitialPPS)

	cfg := ConfigForProfile(ProfileParanoid)
	assert.Equal(t, 1.0, cfg.InitialPPS)
}

func TestUnknownTimingProfileFallsBackToNormal(t *testing.T) {
	var unknown TimingProfile = "bogus"
	assert.Equal(t, ProfileNormal.Params(), unknown.Params())
}
