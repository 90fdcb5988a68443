package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newSlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Machine availability commands",
	}

	cmd.AddCommand(newSlotNextCmd())
	return cmd
}

func newSlotNextCmd() *cobra.Command {
	var (
		configPath string
		hours      string
		notBefore  string
	)

	cmd := &cobra.Command{
		Use:   "next <machine>",
		Short: "Preview the earliest free slot on a machine",
		Long:  "Finds the earliest free interval of the given length on a machine. Nothing is booked.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlotNext(cmd, configPath, args[0], hours, notBefore)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&hours, "hours", "1", "slot length in hours")
	cmd.Flags().StringVar(&notBefore, "not-before", "", "earliest start (default now)")
	return cmd
}

func runSlotNext(cmd *cobra.Command, configPath, machineID, hours, notBefore string) error {
	h, err := decimal.NewFromString(hours)
	if err != nil {
		return fmt.Errorf("invalid --hours %q: %w", hours, err)
	}
	nb, err := parseWhen(notBefore, time.Now())
	if err != nil {
		return fmt.Errorf("--not-before: %w", err)
	}

	_, _, e, err := openEngine(configPath)
	if err != nil {
		return err
	}
	start, end, err := e.NextAvailableSlot(machineID, nb, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s free %s to %s\n", machineID, start.Format(clockLayout), end.Format(clockLayout))
	return nil
}
