package main

import (
	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/scheduler"
)

func newDepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage stage dependencies",
	}

	cmd.AddCommand(newDepAddCmd())
	cmd.AddCommand(newDepRemoveCmd())
	return cmd
}

func newDepAddCmd() *cobra.Command {
	var (
		configPath string
		operator   string
		requires   string
		depType    string
	)

	cmd := &cobra.Command{
		Use:   "add <stage>",
		Short: "Make a stage wait for another stage of the same job",
		Long:  "Adds a dependency edge. A scheduled stage gaining an incomplete requirement goes back to blocked and releases its booking.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageAction(cmd, configPath, func(e *scheduler.Engine) (scheduler.Outcome, error) {
				return e.AddDependency(operator, args[0], requires, depType)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	cmd.Flags().StringVar(&requires, "requires", "", "stage that must complete first (required)")
	cmd.Flags().StringVar(&depType, "type", models.DepFinishToStart, "dependency type")
	cmd.MarkFlagRequired("requires")
	return cmd
}

func newDepRemoveCmd() *cobra.Command {
	var (
		configPath string
		operator   string
		requires   string
	)

	cmd := &cobra.Command{
		Use:   "remove <stage>",
		Short: "Remove a dependency and book the stage if it is now unblocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageAction(cmd, configPath, func(e *scheduler.Engine) (scheduler.Outcome, error) {
				return e.RemoveDependency(operator, args[0], requires)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	addOperatorFlag(cmd, &operator)
	cmd.Flags().StringVar(&requires, "requires", "", "required stage to drop (required)")
	cmd.MarkFlagRequired("requires")
	return cmd
}
