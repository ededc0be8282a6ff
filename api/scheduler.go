/*
scheduler.go - Daily workflow scheduler

PURPOSE:
  Triggers the daily run once a day, at or after a configured hour, and
  optionally a lookback validation once that run has finished.

DESIGN:
  - Runs a background goroutine that checks on a fixed interval
  - Fires at most once per calendar day (local time)
  - Goes through etl.Service like the HTTP triggers, so a run already
    active from the API is reported as a conflict and skipped

CONFIGURATION:
  - Hour:          Hour of day to fire (default: 6)
  - Validate:      Follow the daily run with a validation
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled:       Whether the scheduler is active

USAGE:
  scheduler := NewDailyScheduler(service, 6)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunDaily and Validate endpoints (manual triggers)
  - etl/service.go: Trigger
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/fund-etl/etl"
	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/workflow"
)

// DailyScheduler triggers the daily workflows.
type DailyScheduler struct {
	Service       *etl.Service
	Hour          int
	Validate      bool
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker  *time.Ticker
	stop    chan struct{}
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun fund.Date
}

// NewDailyScheduler creates an enabled scheduler firing at hour.
func NewDailyScheduler(svc *etl.Service, hour int) *DailyScheduler {
	return &DailyScheduler{
		Service:       svc,
		Hour:          hour,
		CheckInterval: time.Minute,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (ds *DailyScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if ds.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ds.cancel = cancel
	ds.stop = make(chan struct{})
	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.running = true
	ds.wg.Add(1)

	go ds.run(ctx, ds.ticker.C, ds.stop)

	log.Printf("[Scheduler] Started: daily run at %02d:00, check interval %v", ds.Hour, ds.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight check.
func (ds *DailyScheduler) Stop() {
	ds.mu.Lock()
	if !ds.running {
		ds.mu.Unlock()
		return
	}
	ds.ticker.Stop()
	ds.cancel()
	close(ds.stop)
	ds.running = false
	ds.mu.Unlock()

	ds.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (ds *DailyScheduler) run(ctx context.Context, tick <-chan time.Time, stop <-chan struct{}) {
	defer ds.wg.Done()

	// Check immediately on start
	ds.check(ctx)

	for {
		select {
		case <-stop:
			return
		case <-tick:
			ds.check(ctx)
		}
	}
}

// RunNow performs one check immediately (for testing/admin).
// It returns true if the daily run was triggered.
func (ds *DailyScheduler) RunNow(ctx context.Context) bool {
	return ds.check(ctx)
}

func (ds *DailyScheduler) check(ctx context.Context) bool {
	now := ds.Now()
	if now.Hour() < ds.Hour {
		return false
	}
	today := fund.DateOf(now)

	ds.mu.Lock()
	done := ds.lastRun == today
	ds.mu.Unlock()
	if done {
		return false
	}

	log.Printf("[Scheduler] Triggering daily run for %s", today)
	res, err := ds.Service.TriggerDaily(ctx, today)
	if err != nil {
		// The day stays open; the next check retries.
		log.Printf("[Scheduler] Error starting daily run: %v", err)
		return false
	}

	ds.mu.Lock()
	ds.lastRun = today
	ds.mu.Unlock()
	if res.Status == workflow.Conflict {
		log.Printf("[Scheduler] Skipped: %v", res.Conflict)
		return false
	}

	if ds.Validate {
		ds.validateAfter(ctx, res.Handle.ID())
	}
	return true
}

func (ds *DailyScheduler) validateAfter(ctx context.Context, dailyID string) {
	run, err := ds.Service.Wait(ctx, dailyID)
	if err != nil {
		log.Printf("[Scheduler] Stopped waiting for %s: %v", dailyID, err)
		return
	}
	log.Printf("[Scheduler] Daily run %s finished %s", dailyID, run.Status)

	res, err := ds.Service.TriggerValidation(ctx, "")
	if err != nil {
		log.Printf("[Scheduler] Error starting validation: %v", err)
		return
	}
	if res.Status == workflow.Conflict {
		log.Printf("[Scheduler] Validation skipped: %v", res.Conflict)
		return
	}
	log.Printf("[Scheduler] Validation %s started", res.Handle.ID())
}

// NextRunTime returns when the next daily run is due.
func (ds *DailyScheduler) NextRunTime() time.Time {
	now := ds.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), ds.Hour, 0, 0, 0, now.Location())

	ds.mu.Lock()
	ranToday := ds.lastRun == fund.DateOf(now)
	ds.mu.Unlock()
	switch {
	case ranToday:
		return next.AddDate(0, 0, 1)
	case now.After(next):
		return now
	}
	return next
}
