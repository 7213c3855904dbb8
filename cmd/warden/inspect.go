package main

import (
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/moderation/models"
	"warden/internal/moderation/ports"
	"warden/internal/platform/logger"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [mute|ban]",
	Short: "Print the persisted restriction tables",
	Long: `Load the configured store and print every persisted restriction with
its expiry. Entries that already lapsed are marked as such; the server drops
them on its next load or sweep. The tables are not modified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	kinds := models.Kinds()
	if len(args) == 1 {
		kind, err := models.ParseKind(args[0])
		if err != nil {
			return err
		}
		kinds = []models.Kind{kind}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	return printRestrictions(cmd, store.store, kinds, time.Now())
}

// printRestrictions reads the tables straight from the store so inspecting
// never rewrites them.
func printRestrictions(cmd *cobra.Command, store ports.RestrictionStore, kinds []models.Kind, now time.Time) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSUBJECT\tEXPIRES\tREMAINING")
	for _, kind := range kinds {
		entries, err := store.Load(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("failed to load %s table: %w", kind, err)
		}
		rows := make([]models.Restriction, 0, len(entries))
		for subject, expiresAt := range entries {
			rows = append(rows, models.Restriction{Subject: subject, Kind: kind, ExpiresAt: expiresAt})
		}
		slices.SortFunc(rows, func(a, b models.Restriction) int {
			return a.ExpiresAt.Compare(b.ExpiresAt)
		})
		for _, r := range rows {
			remaining := "lapsed"
			if r.IsActiveAt(now) {
				remaining = models.FormatRemaining(r.RemainingAt(now))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, r.Subject, r.ExpiresAt.Format(time.RFC3339), remaining)
		}
	}
	return tw.Flush()
}
