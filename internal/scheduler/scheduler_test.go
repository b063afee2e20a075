package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerInitializesAllFields(t *testing.T) {
	s := NewScheduler(nil, nil)
	require.NotNil(t, s)
	assert.NotNil(t, s.cron)
	assert.NotNil(t, s.jobs)
	assert.NotNil(t, s.ctx)
	assert.NotNil(t, s.cancel)
}

func TestStartThenStopClearsRunningFlag(t *testing.T) {
	s := NewScheduler(nil, nil)
	require.NoError(t, s.Start())
	assert.True(t, s.running)

	s.Stop()
	assert.False(t, s.running)

	select {
	case <-s.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("context was not cancelled after Stop")
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := NewScheduler(nil, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s := NewScheduler(nil, nil)
	assert.NotPanics(t, func() { s.Stop() })
}

func TestConcurrentStopCallsDoNotRace(t *testing.T) {
	s := NewScheduler(nil, nil)
	require.NoError(t, s.Start())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()

	assert.False(t, s.running)
}

func TestGetJobsReflectsCronNextRun(t *testing.T) {
	s := NewScheduler(nil, nil)
	_, err := s.AddScanJob("hourly", "0 * * * *", ScanJobConfig{Targets: []string{"127.0.0.1"}})
	require.NoError(t, err)

	jobs := s.GetJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "hourly", jobs[0].Name)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestEnableJobUnknownIDFails(t *testing.T) {
	s := NewScheduler(nil, nil)
	assert.Error(t, s.EnableJob(uuid.New()))
}
