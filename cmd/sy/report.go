package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/dashboard"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Schedule reports",
	}

	cmd.AddCommand(newReportUtilizationCmd())
	cmd.AddCommand(newReportOverdueCmd())
	cmd.AddCommand(newReportSummaryCmd())
	return cmd
}

func newReportUtilizationCmd() *cobra.Command {
	var (
		configPath string
		from, to   string
	)

	cmd := &cobra.Command{
		Use:   "utilization",
		Short: "Booked share of machine capacity per department",
		Long: `Reports booked machine time as a percentage of open capacity per
department. Capacity follows the plant shift calendar; bookings outside
shifts can push a department past 100%.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			f, err := parseWhen(from, now.AddDate(0, 0, -7))
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			t, err := parseWhen(to, now)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			_, _, e, err := openEngine(configPath)
			if err != nil {
				return err
			}
			util, err := e.DepartmentUtilization(f, t)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Utilization %s to %s\n", f.Format(clockLayout), t.Format(clockLayout))
			depts := make([]string, 0, len(util))
			for d := range util {
				depts = append(depts, d)
			}
			sort.Strings(depts)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DEPT\tUTIL%")
			for _, d := range depts {
				fmt.Fprintf(w, "%s\t%s\n", d, util[d].StringFixed(2))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&from, "from", "", "range start (default 7 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "range end (default now)")
	return cmd
}

func newReportOverdueCmd() *cobra.Command {
	var (
		configPath string
		at         string
	)

	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List stages running past their scheduled end",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseWhen(at, time.Now())
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			_, _, e, err := openEngine(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			stages := e.OverdueStages(now)
			if len(stages) == 0 {
				fmt.Fprintln(out, "No overdue stages.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tJOB\tDEPT\tSTATUS\tOPERATOR\tBOOKING\tLATE")
			for _, s := range stages {
				late := now.Sub(*s.ScheduledEnd).Round(time.Minute)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					s.ID, s.JobID, s.Department, s.Status, dash(s.Operator), formatBooking(s), late)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&at, "at", "", "reference time (default now)")
	return cmd
}

func newReportSummaryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Stage counts per department and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, e, err := openEngine(configPath)
			if err != nil {
				return err
			}
			rows := dashboard.DepartmentSummary(e)
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No stages.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DEPT\tBLOCKED\tSCHEDULED\tIN PROGRESS\tCOMPLETED\tCANCELLED\tTOTAL")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
					r.Department, r.Blocked, r.Scheduled, r.InProgress, r.Completed, r.Cancelled, r.Total)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
