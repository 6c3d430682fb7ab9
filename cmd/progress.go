package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/store"
	"github.com/JakeFAU/sitetree-crawler/internal/urlcanon"
)

func newProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect and manage crawl checkpoints",
	}
	cmd.AddCommand(newProgressStatusCmd(), newProgressClearCmd(), newProgressSyncCmd())
	return cmd
}

func newProgressStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint of every domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summaries := appInstance.Progress().Summarize(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			if len(summaries) == 0 {
				_, err := fmt.Fprintln(out, "No saved progress at", appInstance.Progress().Location())
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tVISITED\tPENDING\tDEPTH\tPHASE\tSAVED")
			for _, s := range summaries {
				saved := "-"
				if !s.SavedAt.IsZero() {
					saved = s.SavedAt.Format(time.RFC3339)
				}
				phase := string(s.Phase)
				if phase == "" {
					phase = "-"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", s.Domain, s.VisitedCount, s.PendingCount, s.CurrentDepth, phase, saved)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newProgressClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [domain]",
		Short: "Delete the checkpoint of one domain, or of every domain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			domain := ""
			if len(args) == 1 {
				domain = urlcanon.CanonicalDomain(args[0])
			}
			if err := appInstance.Progress().Clear(cmd.Context(), domain); err != nil {
				return fmt.Errorf("clear progress: %w", err)
			}
			if domain == "" {
				domain = "all domains"
			}
			appInstance.Logger().Info("Progress cleared", zap.String("domain", domain))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Cleared progress for", domain)
			return err
		},
	}
}

func newProgressSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <domain>",
		Short: "Merge stored node urls of a domain into its checkpoint",
		Long: `Adds every url already stored for the domain to the checkpoint's visited set,
so a resumed crawl does not fetch them again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			domain := urlcanon.CanonicalDomain(args[0])
			urls, err := appInstance.Nodes().URLsForDomain(cmd.Context(), domain)
			if err != nil {
				return fmt.Errorf("load stored urls: %w", err)
			}
			added, err := appInstance.Progress().Merge(cmd.Context(), domain, store.FilterDomain(urls, domain))
			if err != nil {
				return fmt.Errorf("merge progress: %w", err)
			}
			appInstance.Logger().Info("Progress synced",
				zap.String("domain", domain), zap.Int("stored", len(urls)), zap.Int("added", added))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Synced %s: %d stored urls, %d added\n", domain, len(urls), added)
			return err
		},
	}
}
