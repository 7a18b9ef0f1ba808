package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var outputsJSON bool

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "Print the stack's outputs",
	Long: `Print the user-facing outputs of a provisioned stack, such as the service
URL and the model bucket. Per-resource outputs are included with --json.`,
	RunE: runOutputs,
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "Emit all outputs as JSON")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}

	st, err := rt.store.Load(rt.cfg.Name, rt.cfg.Region)
	if err != nil {
		return err
	}

	if outputsJSON {
		doc := map[string]any{"outputs": st.Outputs}
		resources := make(map[string]any, len(st.Resources))
		for id, rs := range st.Resources {
			if len(rs.Outputs) > 0 {
				resources[id] = rs.Outputs
			}
		}
		doc["resources"] = resources
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	if len(st.Outputs) == 0 {
		fmt.Printf("Stack %q has no outputs yet.\n", rt.cfg.Name)
		return nil
	}
	keys := make([]string, 0, len(st.Outputs))
	for k := range st.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %v\n", k, st.Outputs[k])
	}
	return nil
}
