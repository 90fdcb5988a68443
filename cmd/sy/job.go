package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/store"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Job management commands",
	}

	cmd.AddCommand(newJobAddCmd())
	cmd.AddCommand(newJobShowCmd())
	return cmd
}

func newJobAddCmd() *cobra.Command {
	var (
		configPath string
		job        models.Job
		due        string
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or update a job",
		Long:  "Records a job for a part and quantity. Jobs sharing a cohort were produced in one upstream run and move through departments together.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job.ID = args[0]
			return runJobAdd(cmd, configPath, job, due)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&job.PartNumber, "part", "", "part number (required)")
	cmd.Flags().IntVar(&job.Quantity, "qty", 1, "quantity")
	cmd.Flags().StringVar(&job.CohortID, "cohort", "", "cohort ID")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("part")
	return cmd
}

func runJobAdd(cmd *cobra.Command, configPath string, job models.Job, due string) error {
	if job.Quantity < 1 {
		return fmt.Errorf("--qty must be at least 1")
	}
	if due != "" {
		d, err := time.ParseInLocation("2006-01-02", due, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --due %q: want YYYY-MM-DD", due)
		}
		job.DueDate = &d
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := store.SaveJob(gormDB, job); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Job %s saved: %s x%d", job.ID, job.PartNumber, job.Quantity)
	if job.CohortID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (cohort %s)", job.CohortID)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func newJobShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job's stages and dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runJobShow(cmd *cobra.Command, configPath, jobID string) error {
	_, _, e, err := openEngine(configPath)
	if err != nil {
		return err
	}
	stages, err := e.Stages(jobID)
	if err != nil {
		return err
	}
	deps, err := e.Dependencies(jobID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(stages) == 0 {
		fmt.Fprintf(out, "Job %s has no stages.\n", jobID)
		return nil
	}

	requires := make(map[string][]string)
	for _, d := range deps {
		requires[d.StageID] = append(requires[d.StageID], d.RequiredStageID)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEPT\tSTATUS\tPROG\tOPERATOR\tBOOKING\tREQUIRES")
	for _, s := range stages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			s.ID, s.Department, s.Status, s.Progress, dash(s.Operator), formatBooking(s),
			dash(strings.Join(requires[s.ID], ",")))
	}
	w.Flush()
	return nil
}
