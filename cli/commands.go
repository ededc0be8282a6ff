package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/fund-etl/app"
	"github.com/warp/fund-etl/etl"
	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/workflow"
)

// =============================================================================
// TRIGGERS
// =============================================================================

// NewRunDailyCommand creates the run-daily command.
func NewRunDailyCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run-daily",
		Short: "Load the prior business day's feed for every region",
		Long: `Run the daily load and wait for it to finish.

Without --date the run date is today. On a weekend or holiday the latest
stored data is carried forward instead.

Example:
  fundetl run-daily
  fundetl run-daily --date 2025-06-17 --db ./fund_data.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{}
			if date != "" {
				params[etl.ParamDate] = date
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runAndWait(ctx, cmd.OutOrStdout(), opts, a, workflow.KindDailyRun, params)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "run date (YYYY-MM-DD or MM/DD/YYYY)")
	return cmd
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Reconcile stored data against the lookback feed",
		Long: `Compare the lookback feed of every region with stored data, apply
the resulting update plan and print the validation report.

Example:
  fundetl validate
  fundetl validate --mode full`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{}
			if mode != "" {
				params[etl.ParamMode] = mode
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runAndWait(ctx, cmd.OutOrStdout(), opts, a, workflow.KindValidation, params)
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "update mode (selective|full), default from config")
	return cmd
}

func runAndWait(ctx context.Context, w io.Writer, opts *RootOptions, a *app.App, kind workflow.Kind, params map[string]string) error {
	res, err := a.Service.Trigger(ctx, kind, params)
	if err != nil {
		return err
	}
	if res.Status == workflow.Conflict {
		return res.Conflict
	}

	run, err := a.Service.Wait(ctx, res.Handle.ID())
	if err != nil {
		return err
	}
	if err := printRun(ctx, w, opts, a, run); err != nil {
		return err
	}
	if run.Status != workflow.StatusCompleted {
		return fmt.Errorf("workflow %s finished %s", run.ID, run.Status)
	}
	return nil
}

// =============================================================================
// INSPECTION
// =============================================================================

// NewRunsCommand creates the runs command.
func NewRunsCommand(opts *RootOptions) *cobra.Command {
	var kind, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List workflow runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := workflow.RunFilter{Limit: limit}
			var err error
			if kind != "" {
				if filter.Kind, err = workflow.ParseKind(kind); err != nil {
					return err
				}
			}
			if status != "" {
				if filter.Status, err = workflow.ParseStatus(status); err != nil {
					return err
				}
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				runs, err := a.Service.Runs(ctx, filter)
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tCREATED\tDURATION")
				now := time.Now()
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.Kind, r.Status, r.CreatedAt.Format(time.RFC3339), r.Duration(now).Round(time.Millisecond))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (daily_run|validation)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show one workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				run, err := a.Service.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printRun(ctx, cmd.OutOrStdout(), opts, a, run)
			})
		},
	}
}

// NewMissingCommand creates the missing-dates command.
func NewMissingCommand(opts *RootOptions) *cobra.Command {
	var region, from, to string

	cmd := &cobra.Command{
		Use:   "missing-dates",
		Short: "List business days with no stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			end := fund.Today()
			if to != "" {
				d, err := fund.ParseDate(to)
				if err != nil {
					return err
				}
				end = d
			}
			start := end.AddDays(-fund.LookbackDays)
			if from != "" {
				d, err := fund.ParseDate(from)
				if err != nil {
					return err
				}
				start = d
			}
			if end.Before(start) {
				return errors.New("--from must not be after --to")
			}
			regions := fund.Regions
			if region != "" {
				r, err := fund.ParseRegion(region)
				if err != nil {
					return err
				}
				regions = []fund.Region{r}
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				missing := make(map[fund.Region][]fund.Date, len(regions))
				for _, r := range regions {
					dates, err := a.Service.MissingDates(ctx, r, start, end)
					if err != nil {
						return err
					}
					missing[r] = dates
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), missing)
				}
				w := cmd.OutOrStdout()
				for _, r := range regions {
					if len(missing[r]) == 0 {
						fmt.Fprintf(w, "%s: complete\n", r)
						continue
					}
					fmt.Fprintf(w, "%s: %d missing\n", r, len(missing[r]))
					for _, d := range missing[r] {
						fmt.Fprintf(w, "  %s\n", d)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "only this region")
	cmd.Flags().StringVar(&from, "from", "", "first date (default: lookback window before --to)")
	cmd.Flags().StringVar(&to, "to", "", "last date (default: today)")
	return cmd
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Mark runs left active by a crashed process as FAILED",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(_ context.Context, a *app.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "recovered %d runs\n", a.Recovered)
				return nil
			})
		},
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

type runView struct {
	workflow.Run
	Report *etl.ValidationResult `json:"report,omitempty"`
}

func printRun(ctx context.Context, w io.Writer, opts *RootOptions, a *app.App, run workflow.Run) error {
	var report *etl.ValidationResult
	if run.Kind == workflow.KindValidation && run.Status.Terminal() {
		res, err := a.Service.Report(ctx, run.ID)
		switch {
		case err == nil:
			report = res
		case !errors.Is(err, workflow.ErrNoResult):
			return err
		}
	}

	if opts.json() {
		return writeJSON(w, runView{Run: run, Report: report})
	}

	fmt.Fprintf(w, "%s %s %s (%s)\n", run.ID, run.Kind, run.Status, run.Duration(time.Now()).Round(time.Millisecond))
	for k, v := range run.Params {
		fmt.Fprintf(w, "  %s=%s\n", k, v)
	}
	if len(run.Output) > 0 {
		fmt.Fprintln(w, "output:")
		if run.OutputDropped > 0 {
			fmt.Fprintf(w, "  ... %d earlier lines dropped\n", run.OutputDropped)
		}
		for _, line := range run.Output {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	if report != nil {
		fmt.Fprint(w, strings.TrimRight(report.Summary(), "\n")+"\n")
	}
	return nil
}
