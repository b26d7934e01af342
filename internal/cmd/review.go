package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmined/policykit/policy"
	"github.com/openmined/policykit/store"
)

// NewReviewCommand creates the review command and its subcommands
func NewReviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Manage manual review requests",
		Long: `List, approve and reject requests held for manual review.

A manual_review policy parks each matching request in the store as a
pending review. These subcommands operate on that queue directly, so
they need the same store the running chain uses.

Examples:
  policykit review list --store sqlite --store-path /var/lib/policykit/store.db
  policykit review approve 4f3d2c1b0a9e
  policykit review reject 4f3d2c1b0a9e --reason "Out of scope"`,
	}

	cmd.AddCommand(newReviewListCommand())
	cmd.AddCommand(newReviewApproveCommand())
	cmd.AddCommand(newReviewRejectCommand())

	return cmd
}

func newReviewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending review requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, st, err := openReviewPolicy(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			pending, err := reviewer.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending reviews")
				return nil
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(pending)
		},
		SilenceUsage: true,
	}
	addReviewFlags(cmd)
	return cmd
}

func newReviewApproveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <review-id>",
		Short: "Approve a pending review request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, st, err := openReviewPolicy(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			found, err := reviewer.Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no pending review with id %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Approved review %s\n", args[0])
			return nil
		},
		SilenceUsage: true,
	}
	addReviewFlags(cmd)
	return cmd
}

func newReviewRejectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <review-id>",
		Short: "Reject a pending review request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, st, err := openReviewPolicy(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			reason, _ := cmd.Flags().GetString("reason")
			found, err := reviewer.Reject(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no pending review with id %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Rejected review %s\n", args[0])
			return nil
		},
		SilenceUsage: true,
	}
	addReviewFlags(cmd)
	cmd.Flags().String("reason", "", "Reason recorded with the rejection")
	return cmd
}

func addReviewFlags(cmd *cobra.Command) {
	addConfigFlag(cmd)
	addStoreFlags(cmd)
	cmd.Flags().String("policy", "manual_review", "Name of the manual review policy")
}

// openReviewPolicy opens the configured store and binds a manual review
// policy to it. The caller owns the returned store.
func openReviewPolicy(cmd *cobra.Command) (*policy.ManualReview, store.Store, error) {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(storeConfigFromFlags(cmd, cfg))
	if err != nil {
		return nil, nil, err
	}

	name, _ := cmd.Flags().GetString("policy")
	reviewer := policy.NewManualReview(name)
	if err := reviewer.Setup(cmd.Context(), st); err != nil {
		st.Close()
		return nil, nil, err
	}
	return reviewer, st, nil
}
