package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var upSkipML bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision the stack",
	Long: `Converge every stack resource in dependency order: network fabric and
load balancer, log group, IAM roles, image registry, the container service,
the model bucket and the training execution role.

Already-converged resources are skipped, so re-running up after a partial
failure resumes where the previous run stopped.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVar(&upSkipML, "skip-ml", false, "Provision only the serving stack, without the training bucket and role")
}

func runUp(cmd *cobra.Command, args []string) error {
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

		specs := rt.topo.BaseSpecs()
		if !upSkipML {
			specs = rt.topo.AllSpecs()
		}

		fmt.Printf("Provisioning stack %q (%d resources)...\n", rt.cfg.Name, len(specs))
		result, err := rt.orchestrator().Up(ctx, st, specs)
		if err != nil {
			return err
		}

		for _, id := range result.Ready {
			fmt.Printf("  ready    %s\n", id)
		}
		for _, f := range result.Failed {
			fmt.Fprintf(os.Stderr, "  failed   %s: %v\n", f.SpecID, f.Err)
		}
		for _, id := range result.Skipped {
			fmt.Fprintf(os.Stderr, "  skipped  %s (dependency not ready)\n", id)
		}

		if !result.OK() {
			return fmt.Errorf("stack %q did not fully converge; re-run up to resume", rt.cfg.Name)
		}

		// Promote the user-facing outputs to stack level.
		promote := func(id string, keys map[string]string) {
			rs := st.Resource(id)
			if rs == nil {
				return
			}
			for from, to := range keys {
				if v, ok := rs.Outputs[from]; ok {
					st.SetOutput(to, v)
				}
			}
		}
		promote(rt.topo.NetworkID(), map[string]string{
			"service_url":  "service_url",
			"alb_dns_name": "alb_dns_name",
		})
		promote(rt.topo.RegistryID(), map[string]string{"repository_uri": "registry_uri"})
		promote(rt.topo.ComputeID(), map[string]string{
			"cluster":      "cluster",
			"service_name": "service_name",
		})
		promote(rt.topo.BucketID(), map[string]string{"bucket": "model_bucket"})
		if err := rt.store.Save(st); err != nil {
			return err
		}

		fmt.Println("\nStack is up.")
		if url, ok := st.Outputs["service_url"]; ok {
			fmt.Printf("Service URL: %v\n", url)
		}

		// With the infrastructure converged, run the training pipeline when
		// training data is configured.
		if upSkipML || rt.cfg.TrainingDataURI == "" {
			return nil
		}
		p, err := rt.pipeline(st)
		if err != nil {
			return err
		}
		fmt.Printf("\nStarting training run against %s...\n", rt.cfg.TrainingDataURI)
		run, err := p.Run(ctx, st, rt.cfg.TrainingDataURI)
		if err != nil {
			return fmt.Errorf("run %s failed: %w", run.ID, err)
		}
		st.SetOutput("model_version", run.ModelVersion)
		st.SetOutput("model_uri", run.ModelURI)
		if err := rt.store.Save(st); err != nil {
			return err
		}
		fmt.Printf("Model version %d published at %s\n", run.ModelVersion, run.ModelURI)
		return nil
	})
}
