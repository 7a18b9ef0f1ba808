// Package cli wires the commands: stack lifecycle (up, down), the training
// pipeline (train), and read-only views of the persisted state (status,
// outputs).
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	stateDir  string
	stackName string
	region    string
)

var rootCmd = &cobra.Command{
	Use:   "mlstack",
	Short: "Dependency-aware lifecycle manager for ML serving stacks",
	Long: `mlstack provisions and tears down the cloud stack behind a containerized
ML service (networking, load balancer, ECS on Fargate, ECR, logs, IAM, S3)
and drives the train/publish/deploy pipeline against it.

Resources form a dependency graph; mlstack converges them in order, resumes
partially built stacks, and tears everything down in reverse.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under a cancellable context, so an
// interrupt stops work at the next resource boundary.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: ./mlstack.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory for stack state (default: ~/.mlstack)")
	rootCmd.PersistentFlags().StringVar(&stackName, "name", "", "Stack name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (overrides config)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(versionCmd)
}
