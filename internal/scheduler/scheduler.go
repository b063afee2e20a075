// Package scheduler drives recurring discovery and scan jobs against the
// osprey engines on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/osprey/internal/discovery"
	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/portscan"
)

// JobType identifies what kind of engine a scheduled job drives.
type JobType string

const (
	JobTypeDiscovery JobType = "discovery"
	JobTypeScan      JobType = "scan"
)

// Scheduler manages scheduled discovery and scan jobs. It holds no
// persistent store: jobs live for the process lifetime, matching
// osprey's stateless, single-run-oriented operation.
type Scheduler struct {
	cron      *cron.Cron
	discovery *discovery.Engine
	portscan  *portscan.Scanner
	jobs      map[uuid.UUID]*ScheduledJob
	mu        sync.RWMutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// ScheduledJob is an in-memory record of one cron-driven job.
type ScheduledJob struct {
	ID       uuid.UUID
	CronID   cron.EntryID
	Name     string
	Type     JobType
	CronExpr string
	Enabled  bool
	Running  bool
	LastRun  time.Time
	NextRun  time.Time
}

// DiscoveryJobConfig configures a scheduled discovery run.
type DiscoveryJobConfig struct {
	Targets []string
	Timeout time.Duration
}

// ScanJobConfig configures a scheduled port-scan run.
type ScanJobConfig struct {
	Targets   []string
	Ports     []uint16
	Technique portscan.Technique
	Timeout   time.Duration
}

// NewScheduler creates a scheduler driving the given discovery engine and
// port scanner.
func NewScheduler(discoveryEngine *discovery.Engine, scanner *portscan.Scanner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(),
		discovery: discoveryEngine,
		portscan:  scanner,
		jobs:      make(map[uuid.UUID]*ScheduledJob),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true
	logging.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the cron scheduler and cancels any in-flight job context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	s.running = false
	logging.Info("scheduler stopped")
}

// AddDiscoveryJob registers a discovery job on the given standard
// five-field cron expression.
func (s *Scheduler) AddDiscoveryJob(name, cronExpr string, cfg DiscoveryJobConfig) (uuid.UUID, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return uuid.Nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	id := uuid.New()
	cronID, err := s.cron.AddFunc(cronExpr, func() { s.executeDiscoveryJob(id, cfg) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}

	s.storeJob(id, cronID, name, JobTypeDiscovery, cronExpr)
	return id, nil
}

// AddScanJob registers a scan job on the given standard five-field cron
// expression.
func (s *Scheduler) AddScanJob(name, cronExpr string, cfg ScanJobConfig) (uuid.UUID, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return uuid.Nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	id := uuid.New()
	cronID, err := s.cron.AddFunc(cronExpr, func() { s.executeScanJob(id, cfg) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}

	s.storeJob(id, cronID, name, JobTypeScan, cronExpr)
	return id, nil
}

func (s *Scheduler) storeJob(id uuid.UUID, cronID cron.EntryID, name string, jobType JobType, cronExpr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, _ := cron.ParseStandard(cronExpr)
	s.jobs[id] = &ScheduledJob{
		ID:       id,
		CronID:   cronID,
		Name:     name,
		Type:     jobType,
		CronExpr: cronExpr,
		Enabled:  true,
		NextRun:  schedule.Next(time.Now()),
	}
	logging.Info("scheduled job added", "type", jobType, "name", name, "cron", cronExpr)
}

// RemoveJob removes a scheduled job from the cron scheduler.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found")
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, jobID)
	logging.Info("scheduled job removed", "name", job.Name)
	return nil
}

// GetJobs returns a snapshot of all scheduled jobs, sorted by next run.
func (s *Scheduler) GetJobs() []*ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		for _, entry := range s.cron.Entries() {
			if entry.ID == job.CronID && !entry.Next.IsZero() {
				snapshot.NextRun = entry.Next
				break
			}
		}
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextRun.Before(jobs[j].NextRun) })
	return jobs
}

// EnableJob re-enables execution of a previously disabled job.
func (s *Scheduler) EnableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, true)
}

// DisableJob prevents a job's cron trigger from executing without
// removing it from the schedule.
func (s *Scheduler) DisableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, false)
}

func (s *Scheduler) setJobEnabled(jobID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found")
	}
	job.Enabled = enabled

	action := "disabled"
	if enabled {
		action = "enabled"
	}
	logging.Info("scheduled job "+action, "name", job.Name)
	return nil
}

// beginRun marks a job running if it is enabled and not already in
// flight, returning false when the caller should skip this tick.
func (s *Scheduler) beginRun(jobID uuid.UUID) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || !job.Enabled || job.Running {
		return nil, false
	}
	job.Running = true
	job.LastRun = time.Now()
	return job, true
}

func (s *Scheduler) endRun(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[jobID]; exists {
		job.Running = false
	}
}

func (s *Scheduler) executeDiscoveryJob(jobID uuid.UUID, cfg DiscoveryJobConfig) {
	job, ok := s.beginRun(jobID)
	if !ok {
		return
	}
	defer s.endRun(jobID)

	ctx, cancel := context.WithTimeout(s.ctx, cfg.Timeout)
	defer cancel()

	logging.InfoDiscovery("executing scheduled discovery job", job.Name, "targets", len(cfg.Targets))
	results, err := s.discovery.Discover(ctx, cfg.Targets)
	if err != nil {
		logging.ErrorDiscovery("scheduled discovery job failed", job.Name, err)
		return
	}
	logging.InfoDiscovery("scheduled discovery job completed", job.Name, "hosts_up", countUp(results))
}

func resolveTarget(target string) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		return ip, nil
	}
	addrs, err := net.LookupIP(target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	for _, addr := range addrs {
		if v4 := addr.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address found for %s", target)
}

func countUp(results []discovery.Result) int {
	n := 0
	for _, r := range results {
		if r.Up {
			n++
		}
	}
	return n
}

func (s *Scheduler) executeScanJob(jobID uuid.UUID, cfg ScanJobConfig) {
	job, ok := s.beginRun(jobID)
	if !ok {
		return
	}
	defer s.endRun(jobID)

	ctx, cancel := context.WithTimeout(s.ctx, cfg.Timeout)
	defer cancel()

	logging.InfoScan("executing scheduled scan job", job.Name, "targets", len(cfg.Targets), "ports", len(cfg.Ports))
	for _, target := range cfg.Targets {
		select {
		case <-ctx.Done():
			logging.ErrorScan("scheduled scan job cancelled", job.Name, ctx.Err())
			return
		default:
		}
		host, err := resolveTarget(target)
		if err != nil {
			logging.ErrorScan("scheduled scan job could not resolve target", target, err)
			continue
		}
		results := s.portscan.ScanHost(ctx, host, cfg.Ports, cfg.Technique)
		open := 0
		for _, r := range results {
			if r.Status == portscan.StatusOpen {
				open++
			}
		}
		logging.InfoScan("scheduled scan job scanned host", target, "open_ports", open)
	}
	logging.InfoScan("scheduled scan job completed", job.Name)
}
