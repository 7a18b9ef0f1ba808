package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var downKeepState bool

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Tear the stack down",
	Long: `Remove every stack resource in reverse dependency order, including
serving endpoints and training jobs recorded by the pipeline. Teardown is
best-effort: a resource that cannot be removed blocks only what it depends
on, and the remainder is reported so a re-run can finish the job.`,
	RunE: runDown,
}

func init() {
	downCmd.Flags().BoolVar(&downKeepState, "keep-state", false, "Keep the state file after a full teardown")
}

func runDown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	return rt.withLock(func() error {
		st, err := rt.store.Load(rt.cfg.Name, rt.cfg.Region)
		if err != nil {
			return err
		}
		if len(st.Resources) == 0 {
			fmt.Printf("Stack %q has no recorded resources.\n", rt.cfg.Name)
			return nil
		}

		specs := append(rt.topo.AllSpecs(), rt.topo.DynamicSpecs(st)...)

		fmt.Printf("Tearing down stack %q...\n", rt.cfg.Name)
		result, err := rt.orchestrator().Down(ctx, st, specs)
		if err != nil {
			return err
		}

		for _, id := range result.Ready {
			fmt.Printf("  removed  %s\n", id)
		}
		for _, f := range result.Failed {
			fmt.Fprintf(os.Stderr, "  failed   %s: %v\n", f.SpecID, f.Err)
		}
		for _, id := range result.Skipped {
			fmt.Fprintf(os.Stderr, "  blocked  %s (dependent still present)\n", id)
		}

		if !result.OK() {
			return fmt.Errorf("stack %q was only partially removed; re-run down to retry", rt.cfg.Name)
		}

		fmt.Println("\nStack is down.")
		if !downKeepState {
			if err := rt.store.Remove(rt.cfg.Name); err != nil {
				return fmt.Errorf("remove state file: %w", err)
			}
		}
		return nil
	})
}
