// Package scheduler drives one periodic job per enabled pair on top of
// robfig/cron. robfig/cron provides the trigger machinery but not
// overlap-skip or coalesce semantics on its own, so each job is wrapped with
// a small gate before it ever reaches the cycle runner's own per-pair mutex
// (internal/cycle.MutexRegistry already supplies the skip behavior; this
// wrapper additionally drops a firing that arrives while the previous one
// for the same pair is still in flight). Firings are not checked for
// lateness: there is no misfire grace window, and a late firing runs like
// any other.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/metrics"
)

// RunFunc is invoked once per firing for a given pair.
type RunFunc func(pairID uint)

// jobEntry tracks one scheduled pair job.
type jobEntry struct {
	id       cron.EntryID
	pairID   uint
	name     string
	trigger  string
	running  bool // true while a firing is in flight on this wrapper's gate
	lastFire time.Time
}

// Scheduler owns the cron engine and the pair_<id> job registry.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[uint]*jobEntry
	run     RunFunc
	started bool
}

func New(run RunFunc) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		jobs: make(map[uint]*jobEntry),
		run:  run,
	}
}

// Start begins dispatching firings. Call after the reconciler has completed,
// so no job fires against a stale or unreconciled position book.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts new firings; in-flight jobs are allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	ctx := s.cron.Stop()
	s.mu.Unlock()
	// Wait without holding s.mu: a finishing fire() takes s.mu to clear its
	// running flag.
	<-ctx.Done()
}

// AddOrReplace schedules (or reschedules) the job for pairID at the given
// interval string.
func (s *Scheduler) AddOrReplace(pairID uint, interval string) error {
	spec, err := cronSpecFor(interval)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[pairID]; ok {
		s.cron.Remove(existing.id)
		delete(s.jobs, pairID)
	}

	entry := &jobEntry{pairID: pairID, name: fmt.Sprintf("pair_%d", pairID), trigger: interval}
	id, err := s.cron.AddFunc(spec, func() { s.fire(entry) })
	if err != nil {
		return fmt.Errorf("schedule pair %d: %w", pairID, err)
	}
	entry.id = id
	s.jobs[pairID] = entry
	metrics.SchedulerJobs.Set(float64(len(s.jobs)))
	return nil
}

// Remove unschedules the job for pairID, if present.
func (s *Scheduler) Remove(pairID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[pairID]
	if !ok {
		return
	}
	s.cron.Remove(entry.id)
	delete(s.jobs, pairID)
	metrics.SchedulerJobs.Set(float64(len(s.jobs)))
}

// fire is the per-entry gate: max_instances=1 (skip if already running) and
// coalesce=true (a firing that arrives while one is in flight is simply
// dropped, never queued). It does not check how late a firing is; there is
// no misfire grace time.
func (s *Scheduler) fire(entry *jobEntry) {
	s.mu.Lock()
	if entry.running {
		s.mu.Unlock()
		log.Debug().Str("job", entry.name).Msg("scheduler: firing skipped, job already running")
		return
	}
	entry.running = true
	entry.lastFire = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		entry.running = false
		s.mu.Unlock()
	}()

	s.run(entry.pairID)
}

// JobStatus is one row of the scheduler's status view.
type JobStatus struct {
	ID      string
	Name    string
	NextRun time.Time
	Trigger string
}

// Status reports the scheduler's current job list.
func (s *Scheduler) Status() (running bool, jobCount int, jobs []JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	running = s.started
	entries := s.cron.Entries()
	nextRun := make(map[cron.EntryID]time.Time, len(entries))
	for _, e := range entries {
		nextRun[e.ID] = e.Next
	}
	for _, j := range s.jobs {
		jobs = append(jobs, JobStatus{
			ID:      j.name,
			Name:    j.name,
			NextRun: nextRun[j.id],
			Trigger: j.trigger,
		})
	}
	return running, len(s.jobs), jobs
}

// intervalTable maps the fixed interval vocabulary to an hours duration,
// defaulting unknowns to 4h.
var intervalTable = map[string]float64{
	"1m":  1.0 / 60,
	"3m":  3.0 / 60,
	"5m":  5.0 / 60,
	"15m": 15.0 / 60,
	"30m": 30.0 / 60,
	"1h":  1,
	"2h":  2,
	"4h":  4,
	"6h":  6,
	"8h":  8,
	"12h": 12,
	"1d":  24,
}

const defaultIntervalHours = 4.0

// cronSpecFor turns a pair's schedule_interval into a robfig/cron spec.
// "<N>m" is every N minutes; otherwise the fixed interval table is
// consulted, defaulting to 4h. Sub-hour intervals are scheduled in minutes.
func cronSpecFor(interval string) (string, error) {
	var n int
	if _, err := fmt.Sscanf(interval, "%dm", &n); err == nil && n > 0 {
		return fmt.Sprintf("@every %dm", n), nil
	}

	hours, ok := intervalTable[interval]
	if !ok {
		hours = defaultIntervalHours
	}
	if hours < 1 {
		minutes := int(hours * 60)
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("@every %dm", minutes), nil
	}
	return fmt.Sprintf("@every %dh", int(hours)), nil
}
