package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmined/policykit/internal/runner"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one request under policy enforcement",
		Long: `Execute a single request: evaluate the pre-execution policy chain,
invoke the handler executable, evaluate the post-execution chain, and
write the outcome as JSON.

The request is read as one JSON document from stdin (or --input). It
carries the query or messages, the caller context, the policy
declarations, the store configuration, and the handler path. The
response is always one valid JSON document on stdout, even when
policies deny or the handler fails, so host SDKs can always parse it.

Exit code: 0 on success, 1 on denial or failure.

Examples:
  # Read the request from stdin
  policykit run < request.json

  # Read the request from a file
  policykit run --input request.json

  # Override the store declared in the request
  policykit run --store sqlite --store-path /var/lib/policykit/store.db < request.json

  # Bound handler execution time
  policykit run --timeout 30s < request.json`,
		Args:         cobra.NoArgs,
		RunE:         runCommand,
		SilenceUsage: true,
	}

	addConfigFlag(cmd)
	addStoreFlags(cmd)
	cmd.Flags().String("input", "", "Read the request from a file instead of stdin")
	cmd.Flags().String("timeout", "", "Maximum handler execution time (e.g. 30s, 5m)")
	cmd.Flags().Bool("verbose", false, "Show detailed execution information on stderr")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return emitFailure(cmd, err)
	}
	log := newLogger(cmd, cfg)

	in, err := readInput(cmd)
	if err != nil {
		return emitFailure(cmd, err)
	}

	// Flag and config overrides apply only when the request leaves the
	// store unspecified; an explicit store in the request wins.
	if in.Store.Type == "" {
		in.Store = storeConfigFromFlags(cmd, cfg)
	}

	timeout, err := parseTimeout(cmd, cfg)
	if err != nil {
		return emitFailure(cmd, err)
	}

	sink := newAuditSink(cfg, log)
	defer sink.Close()

	exec := runner.NewExecutor(
		runner.WithLogger(log),
		runner.WithAuditSink(sink),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := exec.Execute(ctx, in)

	encoder := json.NewEncoder(cmd.OutOrStdout())
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if !out.Success {
		// Stdout already carries the structured error. The returned
		// error sets the exit code and a short stderr line.
		return fmt.Errorf("%s: %s", out.ErrorType, out.Error)
	}
	return nil
}

// emitFailure folds a failure that happened before the executor could run
// into the wire Output, so stdout always carries one valid JSON document
// for the host to parse. The returned error sets the exit code.
func emitFailure(cmd *cobra.Command, err error) error {
	out := runner.Output{
		Success:   false,
		Error:     err.Error(),
		ErrorType: runner.ErrTypeExecution,
	}
	if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(out); encErr != nil {
		return fmt.Errorf("failed to write response: %w", encErr)
	}
	return fmt.Errorf("%s: %s", out.ErrorType, out.Error)
}

// readInput decodes the request from --input or stdin.
func readInput(cmd *cobra.Command) (runner.Input, error) {
	var in runner.Input

	var r io.Reader = cmd.InOrStdin()
	if path, _ := cmd.Flags().GetString("input"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return in, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		r = f
	}

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&in); err != nil {
		return in, fmt.Errorf("failed to parse request JSON: %w", err)
	}
	return in, nil
}
