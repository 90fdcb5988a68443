package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/store"
)

var weekdayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func newShiftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Shift calendar commands",
	}

	cmd.AddCommand(newShiftListCmd())
	cmd.AddCommand(newShiftValidateCmd())
	cmd.AddCommand(newShiftAddCmd())
	return cmd
}

func newShiftListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shift windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, e, err := openEngine(configPath)
			if err != nil {
				return err
			}
			windows := e.Shifts()
			if len(windows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No shifts defined; the plant is treated as always open.")
				return nil
			}
			printShifts(cmd.OutOrStdout(), windows)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printShifts(out io.Writer, windows []models.ShiftWindow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCALENDAR\tDAY\tHOURS\tACTIVE")
	for _, s := range windows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s-%s\t%t\n",
			s.ID, dash(s.Name), dash(s.Calendar), shiftDay(s), s.Start, s.End, s.Active)
	}
	w.Flush()
}

func shiftDay(s models.ShiftWindow) string {
	if s.Date != "" {
		return s.Date
	}
	if s.Weekday != nil && *s.Weekday >= 0 && *s.Weekday < len(weekdayNames) {
		return weekdayNames[*s.Weekday]
	}
	return "-"
}

// shiftFlags binds the flags describing one proposed window.
type shiftFlags struct {
	window  models.ShiftWindow
	weekday int
}

func (f *shiftFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.window.Name, "name", "", "shift name")
	cmd.Flags().StringVar(&f.window.Calendar, "calendar", "", "calendar (default plant)")
	cmd.Flags().IntVar(&f.weekday, "weekday", -1, "weekday, 0 = Sunday")
	cmd.Flags().StringVar(&f.window.Date, "date", "", "single date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.window.Start, "start", "", "start time HH:MM (required)")
	cmd.Flags().StringVar(&f.window.End, "end", "", "end time HH:MM (required)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
}

func (f *shiftFlags) proposed(cmd *cobra.Command) models.ShiftWindow {
	w := f.window
	w.Active = true
	if cmd.Flags().Changed("weekday") {
		wd := f.weekday
		w.Weekday = &wd
	}
	return w
}

func newShiftValidateCmd() *cobra.Command {
	var (
		configPath string
		flags      shiftFlags
		excluding  uint
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a proposed shift window against the calendar",
		Long:  "Reports every existing window the proposal would overlap on the same date. Windows that only touch do not conflict.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, e, err := openEngine(configPath)
			if err != nil {
				return err
			}
			conflicts, err := e.ValidateShift(flags.proposed(cmd), excluding)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(conflicts) == 0 {
				fmt.Fprintln(out, "No conflicts.")
				return nil
			}
			fmt.Fprintf(out, "%d conflicting window(s):\n", len(conflicts))
			printShifts(out, conflicts)
			return fmt.Errorf("shift overlaps %d existing window(s)", len(conflicts))
		},
	}

	addConfigFlag(cmd, &configPath)
	flags.bind(cmd)
	cmd.Flags().UintVar(&excluding, "excluding", 0, "ID of the window being edited")
	return cmd
}

func newShiftAddCmd() *cobra.Command {
	var (
		configPath string
		operator   string
		flags      shiftFlags
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a shift window to the calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, e, err := openEngine(configPath)
			if err != nil {
				return err
			}
			saved, conflicts, err := e.SaveShift(operator, flags.proposed(cmd))
			if err != nil {
				if len(conflicts) > 0 {
					printShifts(cmd.OutOrStdout(), conflicts)
				}
				return err
			}
			if err := store.SaveShift(gormDB, saved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Shift %d saved: %s %s-%s\n", saved.ID, shiftDay(saved), saved.Start, saved.End)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	flags.bind(cmd)
	return cmd
}
