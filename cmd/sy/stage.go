package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/scheduler"
)

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Stage management commands",
	}

	cmd.AddCommand(newStageAddCmd())
	cmd.AddCommand(newStageShowCmd())
	cmd.AddCommand(newStageTransitionCmd("start", "Start a scheduled stage",
		func(e *scheduler.Engine, id, op string) (scheduler.Outcome, error) { return e.StartStage(id, op) }))
	cmd.AddCommand(newStageCompleteCmd())
	cmd.AddCommand(newStageProgressCmd())
	cmd.AddCommand(newStageRescheduleCmd())
	cmd.AddCommand(newStageTransitionCmd("cancel", "Cancel a scheduled stage and free its machine time",
		func(e *scheduler.Engine, id, op string) (scheduler.Outcome, error) { return e.CancelStage(id, op) }))
	cmd.AddCommand(newStageTransitionCmd("abort", "Stop an in-progress stage and return it to blocked",
		func(e *scheduler.Engine, id, op string) (scheduler.Outcome, error) { return e.AbortStage(id, op) }))
	return cmd
}

func newStageAddCmd() *cobra.Command {
	var (
		configPath string
		operator   string
		req        scheduler.StageRequest
		hours      string
		notBefore  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a stage to a job",
		Long: `Adds a stage in a department to a job. A stage with incomplete
requirements is created blocked; otherwise machine time is booked at once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageAdd(cmd, configPath, operator, req, hours, notBefore)
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	cmd.Flags().StringVar(&req.JobID, "job", "", "job ID (required)")
	cmd.Flags().StringVar(&req.Department, "dept", "", "department (required)")
	cmd.Flags().StringVar(&req.MachineID, "machine", "", "pin the stage to one machine")
	cmd.Flags().StringVar(&hours, "hours", "", "planned hours (default from routing)")
	cmd.Flags().StringSliceVar(&req.Requires, "requires", nil, "stages that must complete first")
	cmd.Flags().StringVar(&req.DepType, "dep-type", models.DepFinishToStart, "dependency type for --requires")
	cmd.Flags().StringVar(&notBefore, "not-before", "", "earliest start (default now)")
	cmd.MarkFlagRequired("job")
	cmd.MarkFlagRequired("dept")
	return cmd
}

func runStageAdd(cmd *cobra.Command, configPath, operator string, req scheduler.StageRequest, hours, notBefore string) error {
	if hours != "" {
		h, err := decimal.NewFromString(hours)
		if err != nil {
			return fmt.Errorf("invalid --hours %q: %w", hours, err)
		}
		req.PlannedHours = h
	}
	nb, err := parseWhen(notBefore, time.Time{})
	if err != nil {
		return fmt.Errorf("--not-before: %w", err)
	}
	req.NotBefore = nb

	_, gormDB, e, err := openEngine(configPath)
	if err != nil {
		return err
	}
	out, err := e.CreateStage(operator, req)
	if err != nil {
		return err
	}
	if err := commitOutcome(cmd.OutOrStdout(), gormDB, out); err != nil {
		return err
	}
	if out.Stage.Booked() {
		fmt.Fprintf(cmd.OutOrStdout(), "Booked %s\n", formatBooking(out.Stage))
	}
	return nil
}

func newStageShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show stage details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStageShow(cmd *cobra.Command, configPath, id string) error {
	_, _, e, err := openEngine(configPath)
	if err != nil {
		return err
	}
	s, err := e.Stage(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Stage:      %s\n", s.ID)
	fmt.Fprintf(out, "Job:        %s\n", s.JobID)
	fmt.Fprintf(out, "Department: %s\n", s.Department)
	fmt.Fprintf(out, "Status:     %s\n", s.Status)
	fmt.Fprintf(out, "Progress:   %d%%\n", s.Progress)
	fmt.Fprintf(out, "Planned:    %sh\n", s.PlannedHours.StringFixed(2))
	fmt.Fprintf(out, "Booking:    %s\n", formatBooking(s))
	fmt.Fprintf(out, "Operator:   %s\n", dash(s.Operator))
	if s.CohortID != "" {
		fmt.Fprintf(out, "Cohort:     %s\n", s.CohortID)
	}
	if s.ActualStart != nil {
		fmt.Fprintf(out, "Started:    %s\n", s.ActualStart.Format(clockLayout))
	}
	if s.CompletionDate != nil {
		fmt.Fprintf(out, "Completed:  %s\n", s.CompletionDate.Format(clockLayout))
	}
	if s.ActualHours.Valid {
		fmt.Fprintf(out, "Actual:     %sh\n", s.ActualHours.Decimal.StringFixed(2))
	}
	if s.ActualCost.Valid {
		fmt.Fprintf(out, "Cost:       %s\n", s.ActualCost.Decimal.StringFixed(2))
	}
	return nil
}

type stageAction func(e *scheduler.Engine, stageID, operatorID string) (scheduler.Outcome, error)

// newStageTransitionCmd builds a "<verb> <id> --operator" command over action.
func newStageTransitionCmd(verb, short string, action stageAction) *cobra.Command {
	var (
		configPath string
		operator   string
	)

	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageAction(cmd, configPath, func(e *scheduler.Engine) (scheduler.Outcome, error) {
				return action(e, args[0], operator)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	return cmd
}

func runStageAction(cmd *cobra.Command, configPath string, fn func(*scheduler.Engine) (scheduler.Outcome, error)) error {
	_, gormDB, e, err := openEngine(configPath)
	if err != nil {
		return err
	}
	out, err := fn(e)
	if err != nil {
		return err
	}
	return commitOutcome(cmd.OutOrStdout(), gormDB, out)
}

func newStageCompleteCmd() *cobra.Command {
	var (
		configPath string
		operator   string
		cost       string
	)

	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete an in-progress stage",
		Long: `Completes a stage and books the downstream stages it unblocks. For cohort
jobs, the next routed department's stages are created for every job in the
cohort.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var actualCost *decimal.Decimal
			if cost != "" {
				c, err := decimal.NewFromString(cost)
				if err != nil {
					return fmt.Errorf("invalid --cost %q: %w", cost, err)
				}
				actualCost = &c
			}
			return runStageAction(cmd, configPath, func(e *scheduler.Engine) (scheduler.Outcome, error) {
				return e.CompleteStage(args[0], operator, actualCost)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	cmd.Flags().StringVar(&cost, "cost", "", "actual cost of the stage")
	return cmd
}

func newStageProgressCmd() *cobra.Command {
	var (
		configPath string
		operator   string
	)

	cmd := &cobra.Command{
		Use:   "progress <id> <percent>",
		Short: "Record percent complete on an in-progress stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid percent %q", args[1])
			}
			return runStageAction(cmd, configPath, func(e *scheduler.Engine) (scheduler.Outcome, error) {
				return e.UpdateProgress(args[0], operator, pct)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	return cmd
}

func newStageRescheduleCmd() *cobra.Command {
	var (
		configPath string
		operator   string
		start, end string
	)

	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move a scheduled stage's booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseWhen(start, time.Time{})
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			en, err := parseWhen(end, time.Time{})
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			return runStageAction(cmd, configPath, func(e *scheduler.Engine) (scheduler.Outcome, error) {
				return e.RescheduleStage(args[0], operator, s, en)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	cmd.Flags().StringVar(&start, "start", "", "new start (required)")
	cmd.Flags().StringVar(&end, "end", "", "new end (required)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}
