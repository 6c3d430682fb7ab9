package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Node store maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the node table and its unique url index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Nodes().EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			appInstance.Logger().Info("Schema ready")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Schema ready")
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate url rows, keeping the oldest, and enforce uniqueness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := appInstance.Nodes().DedupeURLs(cmd.Context())
			if err != nil {
				return fmt.Errorf("dedupe: %w", err)
			}
			appInstance.Logger().Info("Duplicate urls removed", zap.Int("removed", removed))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate rows\n", removed)
			return err
		},
	})
	return cmd
}
