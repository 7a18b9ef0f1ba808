package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trainDataURI string

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run the train, publish, deploy pipeline",
	Long: `Wait for the training data, run a training job, publish the model under
the next version in the stack's bucket, and roll the serving endpoint to it.

A failed run never rolls back: earlier versions and the currently serving
model are left untouched.`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainDataURI, "data", "", "s3:// URI of the training data (default: config training_data_uri)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	inputURI := trainDataURI
	if inputURI == "" {
		inputURI = rt.cfg.TrainingDataURI
	}
	if inputURI == "" {
		return fmt.Errorf("no training data: pass --data or set training_data_uri")
	}

	return rt.withLock(func() error {
		st, err := rt.store.Load(rt.cfg.Name, rt.cfg.Region)
		if err != nil {
			return err
		}

		p, err := rt.pipeline(st)
		if err != nil {
			return err
		}

		fmt.Printf("Starting training run against %s...\n", inputURI)
		run, err := p.Run(ctx, st, inputURI)
		if err != nil {
			return fmt.Errorf("run %s failed: %w", run.ID, err)
		}

		st.SetOutput("model_version", run.ModelVersion)
		st.SetOutput("model_uri", run.ModelURI)
		if err := rt.store.Save(st); err != nil {
			return err
		}

		fmt.Printf("\nRun %s succeeded.\n", run.ID)
		fmt.Printf("Model version %d published at %s\n", run.ModelVersion, run.ModelURI)
		return nil
	})
}
