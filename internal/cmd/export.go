package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmined/policykit/internal/parser"
	"github.com/openmined/policykit/internal/runner"
	"github.com/openmined/policykit/policy"
	"github.com/openmined/policykit/store"
)

// NewExportCommand creates the export command
func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <bundle-file>",
		Short: "Export a bundle's policy chain as JSON",
		Long: `Build the policy chain from a bundle file and print its exported
configuration as JSON: each policy's name, type, active phases and
safe-to-share settings.

The chain is built against an in-memory store, so exporting never
touches the bundle's configured backend.

Examples:
  policykit export bundle.yaml
  policykit export policies.md | jq '.policies[].name'`,
		Args:         cobra.ExactArgs(1),
		RunE:         exportCommand,
		SilenceUsage: true,
	}

	return cmd
}

// exportCommand implements the export command logic
func exportCommand(cmd *cobra.Command, args []string) error {
	bundle, err := parser.ParseFile(args[0])
	if err != nil {
		return err
	}

	policies, err := runner.NewFactory().CreateAll(bundle.Policies)
	if err != nil {
		return err
	}

	st := store.NewMemoryStore()
	defer st.Close()

	manager := policy.NewManager(st)
	for _, p := range policies {
		if err := manager.AddPolicy(cmd.Context(), p); err != nil {
			return fmt.Errorf("failed to register policy %q: %w", p.Name(), err)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(manager.Export())
}
