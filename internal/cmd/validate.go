package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openmined/policykit/internal/parser"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <bundle-file>...",
		Short: "Validate one or more policy bundle files",
		Long: `Parse and validate bundle files, checking for:
  - Parse errors (YAML or Markdown with yaml code blocks)
  - Duplicate policy names
  - Unknown policy types
  - Composite policies referencing undeclared children
  - Invalid policy configuration (bad regexes, negative limits)

Exit code: 0 if all bundles are valid, 1 if errors found

Examples:
  policykit validate bundle.yaml
  policykit validate policies.md bundles/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateBundles(args, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

// validateBundles validates each bundle file and reports per-file results.
func validateBundles(paths []string, output io.Writer) error {
	failed := 0

	for _, path := range paths {
		bundle, err := parser.ParseFile(path)
		if err != nil {
			fmt.Fprintf(output, "✗ %s\n", path)
			fmt.Fprintf(output, "  Error: %v\n", err)
			failed++
			continue
		}

		fmt.Fprintf(output, "✓ %s (%s, %d policies)\n", path, parser.DetectFormat(path), len(bundle.Policies))
		for _, pc := range bundle.Policies {
			fmt.Fprintf(output, "  - %s (%s)\n", pc.Name, pc.Type)
		}
	}

	if failed > 0 {
		fmt.Fprintf(output, "\nFound %d invalid bundle(s)!\n", failed)
		return fmt.Errorf("validation failed for %d of %d bundle(s)", failed, len(paths))
	}

	fmt.Fprintf(output, "\n✓ All bundles are valid!\n")
	return nil
}
