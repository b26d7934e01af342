package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmined/policykit/internal/metrics"
	"github.com/openmined/policykit/internal/server"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <bundle-file>",
		Short: "Serve policy decisions over HTTP",
		Long: `Run an HTTP decision service for a policy bundle.

Endpoints:
  POST /v1/execute   Evaluate the chain for a request (200 allow,
                     403 deny, 202 pending review)
  GET  /v1/policies  Export the loaded policy chain
  GET  /healthz      Liveness and bundle status
  GET  /metrics      Prometheus metrics

The bundle file is watched for changes and reloaded in place. A
reload that fails to parse keeps the previous chain serving.

Examples:
  policykit serve bundle.yaml
  policykit serve --addr 0.0.0.0:8787 policies.md
  policykit serve --no-watch bundle.yaml`,
		Args:         cobra.ExactArgs(1),
		RunE:         serveCommand,
		SilenceUsage: true,
	}

	addConfigFlag(cmd)
	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	cmd.Flags().Bool("no-watch", false, "Disable bundle hot reload")
	cmd.Flags().Bool("verbose", false, "Show detailed request information")

	return cmd
}

// serveCommand implements the serve command logic
func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd, cfg)

	addr := cfg.Serve.Addr
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}

	sink := newAuditSink(cfg, log)
	defer sink.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, args[0],
		server.WithLogger(log),
		server.WithMetrics(metrics.New()),
		server.WithAuditSink(sink),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
		go func() {
			if err := srv.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("Bundle watcher stopped: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Serving policy decisions on %s (bundle: %s)", addr, args[0])
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
