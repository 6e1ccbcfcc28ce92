package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/index"
)

func newCheckCmd(gopts *globalOptions) *cobra.Command {
	var (
		repair bool
		quick  bool
	)

	cmd := &cobra.Command{
		Use:   "check <kind>",
		Short: "Compare the index of a kind with the store",
		Long: `Compare the documents indexed for a kind with the entities in the store.

Orphans are documents whose entity no longer exists; missing entities are
stored but not indexed. --repair deletes orphans and indexes missing
entities. --quick only compares counts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd, gopts, args[0], repair, quick)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Fix the inconsistencies found")
	cmd.Flags().BoolVar(&quick, "quick", false, "Compare document and entity counts only")

	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, gopts *globalOptions, kind string, repair, quick bool) error {
	a, err := openApp(ctx, gopts, kind)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	checker := index.NewConsistencyChecker(a.coord, a.store, a.store)

	if quick {
		ok, err := checker.QuickCheck(ctx, kind)
		if err != nil {
			return err
		}
		if ok {
			_, _ = fmt.Fprintf(out, "%s: counts match\n", kind)
		} else {
			_, _ = fmt.Fprintf(out, "%s: counts differ, run without --quick for details\n", kind)
		}
		return nil
	}

	res, err := checker.Check(ctx, kind)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s: %d stored, %d indexed, %d inconsistencies\n",
		kind, res.Stored, res.Indexed, len(res.Inconsistencies))
	for _, issue := range res.Inconsistencies {
		_, _ = fmt.Fprintf(out, "  %-8s %s\n", issue.Type, issue.Key)
	}

	if repair && len(res.Inconsistencies) > 0 {
		fixed := checker.Repair(ctx, res.Inconsistencies)
		if err := a.coord.Refresh(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Repaired %d of %d\n", fixed, len(res.Inconsistencies))
	}
	return nil
}
