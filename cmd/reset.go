package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all tracked data",
	Long:  "Delete every pull request, project, team member and history entry. Configuration and the stored token are kept.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resetRun()
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Confirm deletion")
	rootCmd.AddCommand(resetCmd)
}

func resetRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete all data in %s", viper.GetString("db_path"))
		return nil
	}
	if !resetYes {
		return fmt.Errorf("refusing to delete all data without --yes")
	}

	if err := s.ClearAll(context.Background()); err != nil {
		return fmt.Errorf("clear data: %w", err)
	}
	ui.Success("All data deleted")
	return nil
}
