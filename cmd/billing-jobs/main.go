package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "billing-jobs",
		Short:         "Run academia billing batch jobs",
		Long:          "billing-jobs runs the enrollment billing cycle, status reconciliation and schema migrations from cron or an operator shell.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newProcessCmd(),
		newReconcileCmd(),
		newUpcomingCmd(),
		newMigrateCmd(),
		newIssueTokenCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
