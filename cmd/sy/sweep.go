package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var (
		configPath string
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-evaluate every job on a schedule",
		Long: `Books stages whose requirements have completed, blocks stages whose
requirements no longer hold, and reports overdue stages. Runs on the
sweep.schedule cron expression from config until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath, once)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string, once bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	opts := engineOptions(cfg)
	out := cmd.OutOrStdout()

	if once {
		_, err := sweep.RunOnce(gormDB, opts, out)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return sweep.Run(ctx, gormDB, cfg.Sweep.Schedule, opts, out)
}
