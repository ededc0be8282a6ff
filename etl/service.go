/*
Package etl runs the fund pipeline's workflows on top of the tracker.

PURPOSE:
  Service is the facade callers use: Trigger admits a run through the
  workflow Tracker and executes it in the background; Status, Report,
  Cancel and Wait answer for it afterwards.

WORKFLOWS:
  daily_run:   Load the prior business day's feed for every region.
               Weekends and holidays carry the latest data forward.
  validation:  Reconcile the 30-day lookback feed against storage,
               apply the resulting plan and verify it.

CANCELLATION:
  Every run gets its own context from the Tracker. Workflows check it
  between regions, between dates and between writes; a cancelled or
  timed-out run stops at the next checkpoint.

SEE ALSO:
  - daily.go:          Daily load
  - validate.go:       Lookback validation
  - workflow/tracker.go: Admission and lifecycle
*/
package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"sync"

	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/reconcile"
	"github.com/warp/fund-etl/workflow"
)

// Run parameters.
const (
	ParamDate = "date" // daily_run: run date, default today
	ParamMode = "mode" // validation: selective or full, default from config
)

// Store is the storage a Service needs.
type Store interface {
	fund.Store
	fund.LoadLog
}

// Options are the optional collaborators of a Service.
type Options struct {
	Calendar              fund.HolidayCalendar
	Notifier              Notifier
	CarryForwardOnFailure bool
	Metrics               *reconcile.Metrics
	Today                 func() fund.Date
}

// Service executes workflows admitted by a Tracker.
type Service struct {
	tracker  *workflow.Tracker
	source   fund.Source
	store    Store
	cfg      *reconcile.Config
	engine   *reconcile.Engine
	applier  *reconcile.Applier
	calendar fund.HolidayCalendar
	notifier Notifier

	carryForwardOnFailure bool
	today                 func() fund.Date

	wg sync.WaitGroup
}

func NewService(tracker *workflow.Tracker, source fund.Source, store Store, cfg *reconcile.Config, opts Options) *Service {
	if cfg == nil {
		cfg = reconcile.DefaultConfig()
	}
	s := &Service{
		tracker:               tracker,
		source:                source,
		store:                 store,
		cfg:                   cfg,
		engine:                reconcile.NewEngine(cfg),
		applier:               reconcile.NewApplier(store, cfg, opts.Metrics),
		calendar:              opts.Calendar,
		notifier:              opts.Notifier,
		carryForwardOnFailure: opts.CarryForwardOnFailure,
		today:                 opts.Today,
	}
	if s.calendar == nil {
		s.calendar = fund.USFederalCalendar{}
	}
	if s.today == nil {
		s.today = fund.Today
	}
	return s
}

func (s *Service) Tracker() *workflow.Tracker { return s.tracker }
func (s *Service) Config() *reconcile.Config   { return s.cfg }

// =============================================================================
// TRIGGER
// =============================================================================

// Trigger admits a run of kind and starts it in the background.
// A conflict is reported through the StartResult, not as an error.
func (s *Service) Trigger(ctx context.Context, kind workflow.Kind, params map[string]string) (workflow.StartResult, error) {
	params, err := s.normalizeParams(kind, params)
	if err != nil {
		return workflow.StartResult{}, err
	}

	res, err := s.tracker.Start(ctx, kind, params)
	if err != nil || res.Status != workflow.Admitted {
		return res, err
	}

	s.wg.Add(1)
	go s.execute(res.Handle)
	return res, nil
}

// TriggerDaily starts a daily run for date. A zero date means today.
func (s *Service) TriggerDaily(ctx context.Context, date fund.Date) (workflow.StartResult, error) {
	params := map[string]string{}
	if !date.IsZero() {
		params[ParamDate] = date.String()
	}
	return s.Trigger(ctx, workflow.KindDailyRun, params)
}

// TriggerValidation starts a lookback validation. An empty mode uses the configured one.
func (s *Service) TriggerValidation(ctx context.Context, mode reconcile.UpdateMode) (workflow.StartResult, error) {
	params := map[string]string{}
	if mode != "" {
		params[ParamMode] = string(mode)
	}
	return s.Trigger(ctx, workflow.KindValidation, params)
}

func (s *Service) normalizeParams(kind workflow.Kind, in map[string]string) (map[string]string, error) {
	params := maps.Clone(in)
	if params == nil {
		params = map[string]string{}
	}
	switch kind {
	case workflow.KindDailyRun:
		if raw := params[ParamDate]; raw != "" {
			d, err := fund.ParseDate(raw)
			if err != nil {
				return nil, err
			}
			params[ParamDate] = d.String()
		}
	case workflow.KindValidation:
		mode := s.cfg.Mode()
		if raw := params[ParamMode]; raw != "" {
			m, err := reconcile.ParseMode(raw)
			if err != nil {
				return nil, err
			}
			mode = m
		}
		params[ParamMode] = string(mode)
	default:
		return nil, fmt.Errorf("%w: %q", workflow.ErrUnknownKind, kind)
	}
	return params, nil
}

func (s *Service) execute(h *workflow.Handle) {
	defer s.wg.Done()

	err := s.dispatch(h)
	if err != nil && h.Context().Err() == nil {
		h.Logf("failed: %v", err)
	}

	// A cancelled or timed-out run is already terminal; Finish leaves it so.
	if ferr := h.Finish(context.Background(), err); ferr != nil && !errors.Is(ferr, workflow.ErrRunTerminal) {
		log.Printf("[ETL] finish %s: %v", h.ID(), ferr)
	}
}

// saveResult records the run result. A result that cannot be stored is
// reported in the run output; the run outcome is unaffected.
func saveResult(h *workflow.Handle, res any) {
	if err := h.SetResult(res); err != nil {
		h.Logf("store result: %v", err)
	}
}

func (s *Service) dispatch(h *workflow.Handle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s run panicked: %v", h.Kind(), p)
		}
	}()

	switch h.Kind() {
	case workflow.KindDailyRun:
		return s.runDaily(h.Context(), h)
	case workflow.KindValidation:
		return s.runValidation(h.Context(), h)
	}
	return fmt.Errorf("%w: %q", workflow.ErrUnknownKind, h.Kind())
}

// =============================================================================
// QUERIES
// =============================================================================

// Status returns a run snapshot, live output included while it is active.
func (s *Service) Status(ctx context.Context, id string) (workflow.Run, error) {
	return s.tracker.Get(ctx, id)
}

// Runs lists run history, newest first.
func (s *Service) Runs(ctx context.Context, filter workflow.RunFilter) ([]workflow.Run, error) {
	return s.tracker.List(ctx, filter)
}

// Report returns the validation result of a terminal validation run.
func (s *Service) Report(ctx context.Context, id string) (*ValidationResult, error) {
	run, err := s.tracker.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Kind != workflow.KindValidation {
		return nil, fmt.Errorf("%w: %s is a %s run", workflow.ErrNoResult, id, run.Kind)
	}
	var res ValidationResult
	if err := json.Unmarshal(run.Result, &res); err != nil {
		return nil, fmt.Errorf("decode report of %s: %w", id, err)
	}
	return &res, nil
}

// Cancel stops a run at its next checkpoint.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.tracker.Cancel(ctx, id)
}

// Wait blocks until the run is terminal or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (workflow.Run, error) {
	return s.tracker.Wait(ctx, id)
}

// MissingDates lists business days in [from, to] with no stored partition.
func (s *Service) MissingDates(ctx context.Context, region fund.Region, from, to fund.Date) ([]fund.Date, error) {
	stored, err := s.store.ListDates(ctx, region, from, to)
	if err != nil {
		return nil, err
	}
	have := make(map[fund.Date]bool, len(stored))
	for _, d := range stored {
		have[d] = true
	}
	var missing []fund.Date
	for _, d := range fund.BusinessDays(s.calendar, region, from, to) {
		if !have[d] {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// Shutdown cancels active runs and waits for their goroutines.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, kind := range workflow.Kinds {
		if run, ok := s.tracker.ActiveRun(kind); ok {
			if err := s.tracker.Cancel(ctx, run.ID); err != nil {
				log.Printf("[ETL] cancel %s on shutdown: %v", run.ID, err)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClientError returns true if a Trigger error is due to invalid input.
func IsClientError(err error) bool {
	return fund.IsClientError(err) ||
		workflow.IsClientError(err) ||
		errors.Is(err, reconcile.ErrInvalidMode)
}
