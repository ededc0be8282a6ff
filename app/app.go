/*
app.go - Dependency wiring shared by the server and the CLI

PURPOSE:
  Builds the object graph from a loaded configuration: SQLite store,
  metrics registry, workflow tracker, feed source, notifier and the
  etl.Service on top of them.

USAGE:
  a, err := app.Open(ctx, cfg)
  if err != nil {
      log.Fatal(err)
  }
  defer a.Close(ctx)

SEE ALSO:
  - cmd/server/main.go: HTTP server
  - cli/root.go:        fundetl command
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/fund-etl/config"
	"github.com/warp/fund-etl/etl"
	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/reconcile"
	"github.com/warp/fund-etl/store/sqlite"
	"github.com/warp/fund-etl/workflow"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Store    *sqlite.Store
	Registry *prometheus.Registry
	Tracker  *workflow.Tracker
	Service  *etl.Service

	// Recovered is the number of runs a previous process left active.
	Recovered int
}

// Open wires the application. Runs left PENDING or RUNNING by a
// previous process are marked FAILED before anything can be admitted.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	rcfg, err := cfg.Reconcile()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tracker := workflow.NewTracker(store,
		workflow.WithTimeout(cfg.Workflow.Timeout),
		workflow.WithOutputLines(cfg.Workflow.OutputLines),
		workflow.WithMetrics(workflow.NewMetrics(reg)),
	)
	n, err := tracker.Recover(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to recover stale runs: %w", err)
	}
	if n > 0 {
		log.Printf("[App] Marked %d stale runs as FAILED", n)
	}

	svc := etl.NewService(tracker, NewSource(cfg), store, rcfg, etl.Options{
		Calendar:              fund.ChainCalendar{fund.USFederalCalendar{}, store},
		Notifier:              NewNotifier(cfg),
		CarryForwardOnFailure: cfg.Source.CarryForwardOnFailure,
		Metrics:               reconcile.NewMetrics(reg),
	})

	return &App{
		Config:    cfg,
		Store:     store,
		Registry:  reg,
		Tracker:   tracker,
		Service:   svc,
		Recovered: n,
	}, nil
}

// Close cancels active runs, waits for them within ctx and closes the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Service.Shutdown(ctx), a.Store.Close())
}

// NewSource returns the configured feed source. Retries wrap the
// directory source when configured.
func NewSource(cfg *config.Config) fund.Source {
	var src fund.Source = etl.DirSource{Dir: cfg.Source.Dir}
	if cfg.Source.Retries > 0 {
		src = etl.RetrySource{
			Source:   src,
			Attempts: cfg.Source.Retries + 1,
			Delay:    cfg.Source.RetryDelay,
		}
	}
	return src
}

// NewNotifier returns an SMTP notifier when alerts are enabled and a
// log-only one otherwise.
func NewNotifier(cfg *config.Config) etl.Notifier {
	a := cfg.Alerts
	if !a.Enabled {
		return etl.LogNotifier{}
	}
	n := &etl.SMTPNotifier{Addr: a.SMTPAddr, From: a.From, Recipients: a.To}
	if a.Username != "" {
		host, _, err := net.SplitHostPort(a.SMTPAddr)
		if err != nil {
			host = a.SMTPAddr
		}
		n.Auth = smtp.PlainAuth("", a.Username, a.Password, host)
	}
	return n
}
