package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded state of every stack resource",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}

	st, err := rt.store.Load(rt.cfg.Name, rt.cfg.Region)
	if err != nil {
		return err
	}
	if len(st.Resources) == 0 {
		fmt.Printf("Stack %q has no recorded resources.\n", rt.cfg.Name)
		return nil
	}

	ids := make([]string, 0, len(st.Resources))
	for id := range st.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("Stack %q in %s (serial %d):\n", st.Name, st.Region, st.Serial)
	for _, id := range ids {
		rs := st.Resources[id]
		line := fmt.Sprintf("  %-12s %s", rs.Status, id)
		if rs.LastError != "" {
			line += fmt.Sprintf("  (%s)", rs.LastError)
		}
		fmt.Println(line)
	}

	if len(st.Runs) > 0 {
		fmt.Println("\nTraining runs:")
		for _, run := range st.Runs {
			line := fmt.Sprintf("  %-10s %s", run.Status, run.ID)
			if run.ModelVersion > 0 {
				line += fmt.Sprintf("  v%d", run.ModelVersion)
			}
			if run.Reason != "" {
				line += fmt.Sprintf("  (%s)", run.Reason)
			}
			fmt.Println(line)
		}
	}
	return nil
}
