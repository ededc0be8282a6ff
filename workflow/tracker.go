package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TRACKER - Active-run registry and lifecycle
// =============================================================================

// Admission is the discriminant of a StartResult.
type Admission int

const (
	Admitted Admission = iota
	Conflict
)

func (a Admission) String() string {
	if a == Conflict {
		return "conflict"
	}
	return "admitted"
}

// StartResult is the outcome of Start. Exactly one of Handle and
// Conflict is set, according to Status.
type StartResult struct {
	Status   Admission
	Handle   *Handle
	Conflict *ConflictError
}

type entry struct {
	run    Run
	output *OutputBuffer
	ctx    context.Context
	cancel context.CancelCauseFunc
	timer  *time.Timer
	done   chan struct{}
	once   sync.Once

	saveMu sync.Mutex // serialises persistence so the last save holds the latest state
}

func (e *entry) close() {
	e.once.Do(func() { close(e.done) })
}

// Tracker admits, follows and retires workflow runs.
//
// All access to the active registry goes through Start, Finish, Cancel
// and the timeout timer, each atomic under mu.
type Tracker struct {
	store   RunStore
	metrics *Metrics

	timeout     time.Duration
	outputLines int
	now         func() time.Time
	newID       func() string

	mu      sync.Mutex
	active  map[Kind]*entry
	entries map[string]*entry
}

type Option func(*Tracker)

// WithTimeout sets the wall-clock budget of every run. Zero disables it.
func WithTimeout(d time.Duration) Option { return func(t *Tracker) { t.timeout = d } }

// WithOutputLines bounds the per-run output buffer.
func WithOutputLines(n int) Option { return func(t *Tracker) { t.outputLines = n } }

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }
func WithIDGenerator(f func() string) Option { return func(t *Tracker) { t.newID = f } }
func WithMetrics(m *Metrics) Option { return func(t *Tracker) { t.metrics = m } }

func NewTracker(store RunStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:       store,
		outputLines: DefaultOutputLines,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.Must(uuid.NewV7()).String() },
		active:      make(map[Kind]*entry),
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start admits a run of kind unless one is already active.
//
// The slot is reserved under the lock, so concurrent callers for the same
// kind see exactly one Admitted. The PENDING record is then persisted (the
// slot is released again if that fails) and the run moves to RUNNING.
// A conflict is a result, not an error; err is set only for real failures.
func (t *Tracker) Start(ctx context.Context, kind Kind, params map[string]string) (StartResult, error) {
	t.mu.Lock()
	if cur, ok := t.active[kind]; ok {
		conflict := &ConflictError{Kind: kind, ActiveRunID: cur.run.ID, Since: cur.run.CreatedAt}
		t.mu.Unlock()
		t.metrics.conflict(kind)
		log.Printf("[Tracker] rejected %s: %v", kind, conflict)
		return StartResult{Status: Conflict, Conflict: conflict}, nil
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	e := &entry{
		run: Run{
			ID:        t.newID(),
			Kind:      kind,
			Status:    StatusPending,
			Params:    params,
			CreatedAt: t.now(),
		},
		output: NewOutputBuffer(t.outputLines),
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.active[kind] = e
	t.entries[e.run.ID] = e
	t.mu.Unlock()

	if err := t.persist(ctx, e); err != nil {
		t.mu.Lock()
		t.release(e)
		t.mu.Unlock()
		cancel(err)
		e.close()
		return StartResult{}, fmt.Errorf("persist new %s run: %w", kind, err)
	}

	t.mu.Lock()
	if e.run.Status == StatusPending {
		started := t.now()
		e.run.Status = StatusRunning
		e.run.StartedAt = &started
		if t.timeout > 0 {
			e.timer = time.AfterFunc(t.timeout, func() { t.expire(e) })
		}
	}
	t.mu.Unlock()

	if err := t.persist(ctx, e); err != nil {
		log.Printf("[Tracker] persist running state of %s: %v", e.run.ID, err)
	}
	t.metrics.started(kind)
	log.Printf("[Tracker] started %s run %s", kind, e.run.ID)
	return StartResult{Status: Admitted, Handle: &Handle{t: t, e: e}}, nil
}

// Update appends a progress note to an active run's output.
func (t *Tracker) Update(id, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if !e.run.Status.Active() {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, id, e.run.Status)
	}
	e.output.Append(note)
	return nil
}

// SetResult stores the run's JSON result. Allowed only while active.
func (t *Tracker) SetResult(id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result of %s: %w", id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if !e.run.Status.Active() {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, id, e.run.Status)
	}
	e.run.Result = raw
	return nil
}

// Finish moves a RUNNING run to COMPLETED or FAILED, persists it and
// frees its kind. A run that was cancelled or timed out stays as it is
// and ErrRunTerminal is returned.
func (t *Tracker) Finish(ctx context.Context, id string, outcome Status, runErr error) error {
	if outcome != StatusCompleted && outcome != StatusFailed {
		return fmt.Errorf("%w: %s", ErrInvalidOutcome, outcome)
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
		if outcome == StatusCompleted {
			outcome = StatusFailed
		}
	}
	err := t.terminate(ctx, id, []Status{StatusRunning}, outcome, msg, nil)
	return t.alreadyFinished(ctx, id, err)
}

// Cancel moves a PENDING or RUNNING run to CANCELLED and signals its
// context. The work itself stops at its next checkpoint.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	err := t.terminate(ctx, id, []Status{StatusPending, StatusRunning}, StatusCancelled, ErrCancelled.Error(), ErrCancelled)
	return t.alreadyFinished(ctx, id, err)
}

// alreadyFinished turns ErrRunNotFound for a run that has left the
// registry but exists in the store into ErrRunTerminal.
func (t *Tracker) alreadyFinished(ctx context.Context, id string, err error) error {
	if !errors.Is(err, ErrRunNotFound) {
		return err
	}
	if run, getErr := t.store.GetRun(ctx, id); getErr == nil {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, id, run.Status)
	}
	return err
}

func (t *Tracker) expire(e *entry) {
	tErr := &TimeoutError{RunID: e.run.ID, Limit: t.timeout}
	err := t.terminate(context.Background(), e.run.ID, []Status{StatusPending, StatusRunning}, StatusFailed, tErr.Error(), tErr)
	if err == nil {
		log.Printf("[Tracker] %v", tErr)
	}
}

// terminate performs one terminal transition. The record is persisted
// before the kind is released.
func (t *Tracker) terminate(ctx context.Context, id string, from []Status, to Status, msg string, cause error) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if !statusIn(e.run.Status, from) {
		status := e.run.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, id, status)
	}
	ended := t.now()
	e.run.Status = to
	e.run.EndedAt = &ended
	e.run.Error = msg
	if e.timer != nil {
		e.timer.Stop()
	}
	t.mu.Unlock()

	if cause != nil {
		e.cancel(cause)
	}
	persistErr := t.persist(ctx, e)
	if persistErr != nil {
		log.Printf("[Tracker] persist %s state of %s: %v", to, id, persistErr)
	}

	t.mu.Lock()
	t.release(e)
	t.mu.Unlock()
	e.cancel(nil)
	e.close()

	t.metrics.finished(e.run.Kind, to)
	t.metrics.released(e.run.Kind)
	log.Printf("[Tracker] %s run %s -> %s", e.run.Kind, id, to)
	return persistErr
}

// release removes e from the registry. Caller holds mu.
func (t *Tracker) release(e *entry) {
	if t.active[e.run.Kind] == e {
		delete(t.active, e.run.Kind)
	}
	delete(t.entries, e.run.ID)
}

func (t *Tracker) persist(ctx context.Context, e *entry) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	t.mu.Lock()
	snap := t.snapshot(e)
	t.mu.Unlock()
	return t.store.SaveRun(ctx, snap)
}

// snapshot copies the run with its current output. Caller holds mu.
func (t *Tracker) snapshot(e *entry) Run {
	run := e.run.clone()
	run.Output = e.output.Lines()
	run.OutputDropped = e.output.Dropped()
	return run
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a run snapshot, live if active, from history otherwise.
func (t *Tracker) Get(ctx context.Context, id string) (Run, error) {
	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		run := t.snapshot(e)
		t.mu.Unlock()
		return run, nil
	}
	t.mu.Unlock()
	return t.store.GetRun(ctx, id)
}

// List returns runs from history, with live snapshots for active runs.
func (t *Tracker) List(ctx context.Context, filter RunFilter) ([]Run, error) {
	runs, err := t.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range runs {
		if e, ok := t.entries[r.ID]; ok {
			runs[i] = t.snapshot(e)
		}
	}
	return runs, nil
}

// ActiveRun returns the active run of kind, if any.
func (t *Tracker) ActiveRun(kind Kind) (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[kind]
	if !ok {
		return Run{}, false
	}
	return t.snapshot(e), true
}

// Result returns the JSON result of a terminal run.
func (t *Tracker) Result(ctx context.Context, id string) (Run, error) {
	run, err := t.Get(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if !run.Status.Terminal() {
		return run, fmt.Errorf("%w: %s is %s", ErrRunNotTerminal, id, run.Status)
	}
	if len(run.Result) == 0 {
		return run, fmt.Errorf("%w: %s", ErrNoResult, id)
	}
	return run, nil
}

// Wait blocks until the run leaves the registry or ctx is done.
func (t *Tracker) Wait(ctx context.Context, id string) (Run, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if ok {
		select {
		case <-e.done:
		case <-ctx.Done():
			return Run{}, ctx.Err()
		}
	}
	return t.Get(ctx, id)
}

// Recover marks runs persisted as active but unknown to this process as
// FAILED with a StaleRunError. Call once at startup, before admitting runs.
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	runs, err := t.store.ListActiveRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active runs: %w", err)
	}
	recovered := 0
	for _, run := range runs {
		t.mu.Lock()
		_, live := t.entries[run.ID]
		t.mu.Unlock()
		if live {
			continue
		}
		stale := &StaleRunError{RunID: run.ID, Status: run.Status}
		ended := t.now()
		run.Status = StatusFailed
		run.EndedAt = &ended
		run.Error = stale.Error()
		if err := t.store.SaveRun(ctx, run); err != nil {
			return recovered, fmt.Errorf("recover %s: %w", run.ID, err)
		}
		recovered++
		t.metrics.finished(run.Kind, StatusFailed)
		log.Printf("[Tracker] recovered %v", stale)
	}
	return recovered, nil
}

// =============================================================================
// HANDLE - The executing side of an admitted run
// =============================================================================

// Handle is given to the code executing an admitted run.
type Handle struct {
	t *Tracker
	e *entry
}

func (h *Handle) ID() string { return h.e.run.ID }
func (h *Handle) Kind() Kind { return h.e.run.Kind }

func (h *Handle) Param(key string) string {
	return h.e.run.Params[key]
}

// Context is cancelled on Cancel, timeout and termination.
// context.Cause tells which.
func (h *Handle) Context() context.Context { return h.e.ctx }

// Done is closed once the run is terminal and released.
func (h *Handle) Done() <-chan struct{} { return h.e.done }

// Logf appends a formatted progress line and mirrors it to the log.
func (h *Handle) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	log.Printf("[%s %s] %s", h.e.run.Kind, shortID(h.e.run.ID), line)
	_ = h.t.Update(h.e.run.ID, line)
}

func (h *Handle) SetResult(v any) error {
	return h.t.SetResult(h.e.run.ID, v)
}

// Finish completes the run, or fails it when runErr is set.
func (h *Handle) Finish(ctx context.Context, runErr error) error {
	outcome := StatusCompleted
	if runErr != nil {
		outcome = StatusFailed
	}
	return h.t.Finish(ctx, h.e.run.ID, outcome, runErr)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
