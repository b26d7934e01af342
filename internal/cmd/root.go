package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for policykit
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policykit",
		Short: "Policy enforcement for model and data endpoints",
		Long: `Policykit evaluates chains of access policies around endpoint handlers.

Policies (rate limits, token limits, content filters, access groups,
subscriptions, manual review and more) are declared in bundle files
(YAML or Markdown) or passed inline by a host SDK. The chain runs
before the handler and again after it, and the first denial stops
the request.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewExportCommand())
	cmd.AddCommand(NewReviewCommand())

	return cmd
}
