package cli

import (
	"github.com/dmitrijs2005/gokdbx/internal/retention"
	"github.com/spf13/cobra"
)

func (a *App) cleanupCmd() *cobra.Command {
	var (
		opts   = retention.All
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup <file>",
		Short: "Trim history and drop unused icons and attachments",
		Long: `Applies the history caps stored in the database, then removes custom
icons and attachments that no entry or group refers to. The file is
rewritten in place unless --dry-run is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := args[0]
			db, err := a.open(cmd.Context(), file)
			if err != nil {
				return err
			}
			r := db.Cleanup(cmd.Context(), opts)
			if r.Empty() {
				a.done("Nothing to clean in %s", filename.Sprintf("%s", file))
				return nil
			}
			summary := muted.Sprintf("%d history, %d icons, %d attachments", r.History, r.CustomIcons, r.Binaries)
			if dryRun {
				a.done("Would remove %s", summary)
				return nil
			}
			if err := a.write(cmd.Context(), db, file); err != nil {
				return err
			}
			a.done("Cleaned %s %s", filename.Sprintf("%s", file), summary)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.HistoryRules, "history", opts.HistoryRules, "apply the history caps")
	f.BoolVar(&opts.CustomIcons, "icons", opts.CustomIcons, "drop unused custom icons")
	f.BoolVar(&opts.Binaries, "binaries", opts.Binaries, "drop unused attachments")
	f.BoolVar(&dryRun, "dry-run", false, "report without writing")
	return cmd
}
