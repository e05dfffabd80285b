package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/app"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/service"
	"io"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <url>...",
	Short: "Fetch the given pages and sync them into the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.IndexService.RunBatch(ctx, args, model.TriggerCLI)
			printBatch(cmd.OutOrStdout(), result)
			return err
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Delete every record owned by the given url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			deleted, err := a.IndexService.RemoveURL(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records for %s\n", deleted, args[0])
			return nil
		})
	},
}

var (
	flagSyncNew       bool
	flagSyncStale     bool
	flagSyncNoLastMod bool
	flagSyncYes       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Compare the sitemap with the index and update new or changed pages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			plan, err := a.IndexService.PlanRefresh(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "New: %d, stale: %d, without lastmod: %d\n", len(plan.New), len(plan.Stale), len(plan.NoLastMod))

			sel := syncSelection{New: flagSyncNew, Stale: flagSyncStale, NoLastMod: flagSyncNoLastMod, Yes: flagSyncYes}
			urls := selectURLs(plan, sel, bufio.NewReader(cmd.InOrStdin()), out)
			if len(urls) == 0 {
				fmt.Fprintln(out, "Nothing to update")
				return nil
			}
			result, err := a.IndexService.RunBatch(ctx, urls, model.TriggerSitemap)
			printBatch(out, result)
			return err
		})
	},
}

var flagPruneForce bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete pages that are no longer listed in the sitemap",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			result, err := a.IndexService.Prune(ctx, flagPruneForce)
			if errors.Is(err, service.ErrPruneThresholdExceeded) {
				fmt.Fprintf(out, "%d urls are missing from the sitemap, rerun with --force to delete them:\n", len(result.Missing))
				for _, u := range result.Missing {
					fmt.Fprintln(out, "  "+u)
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Missing: %d, deleted records: %d\n", len(result.Missing), result.Deleted)
			return nil
		})
	},
}

var validateCookieCmd = &cobra.Command{
	Use:   "validate-cookie",
	Short: "Check that the configured intranet session cookie is still valid",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.IndexService.ValidateSession(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session cookie is valid")
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().BoolVar(&flagSyncNew, "new", false, "update urls that are not in the index")
	syncCmd.Flags().BoolVar(&flagSyncStale, "stale", false, "update urls changed since they were indexed")
	syncCmd.Flags().BoolVar(&flagSyncNoLastMod, "nolastmod", false, "update urls without lastmod in the sitemap")
	syncCmd.Flags().BoolVarP(&flagSyncYes, "yes", "y", false, "update every category without asking")
	pruneCmd.Flags().BoolVar(&flagPruneForce, "force", false, "delete even when the threshold is exceeded")

	rootCmd.AddCommand(updateCmd, removeCmd, syncCmd, pruneCmd, validateCookieCmd)
}

func printBatch(out io.Writer, result *service.BatchResult) {
	if result == nil {
		return
	}
	fmt.Fprintf(out, "Updated: %d, unchanged: %d, failed: %d, cost: %.4f SEK\n",
		result.Updated, result.Unchanged, len(result.Failed), result.CostSEK)
	for _, u := range result.Failed {
		fmt.Fprintln(out, "  failed: "+u)
	}
}
