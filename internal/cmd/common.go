package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmined/policykit/internal/audit"
	"github.com/openmined/policykit/internal/config"
	"github.com/openmined/policykit/internal/logger"
	"github.com/openmined/policykit/store"
)

// addConfigFlag registers the shared --config flag.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file (default: .policykit/config.yaml)")
}

// addStoreFlags registers the shared store override flags.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "", "Store backend: memory, sqlite or file (overrides config)")
	cmd.Flags().String("store-path", "", "Store path for sqlite and file backends")
}

// loadConfigFromFlags loads the config file named by --config, falling back
// to the default path and then to built-in defaults.
func loadConfigFromFlags(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// storeConfigFromFlags merges the --store/--store-path flags over the
// configured store backend.
func storeConfigFromFlags(cmd *cobra.Command, cfg *config.Config) store.Config {
	sc := cfg.Store
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		sc.Type = v
	}
	if v, _ := cmd.Flags().GetString("store-path"); v != "" {
		sc.Path = v
	}
	return sc
}

// newLogger builds a stderr console logger honoring --verbose over the
// configured level. Logs go to stderr so stdout stays machine-readable.
func newLogger(cmd *cobra.Command, cfg *config.Config) *logger.Console {
	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	return logger.NewConsole(os.Stderr, level)
}

// newAuditSink connects the configured audit sink, or a no-op sink when
// auditing is disabled.
func newAuditSink(cfg *config.Config, log *logger.Console) audit.Sink {
	if !cfg.Audit.Enabled {
		return audit.NopSink{}
	}
	sink, err := audit.NewNATSSink(cfg.Audit.URL, cfg.Audit.Subject)
	if err != nil {
		log.Warnf("Audit sink unavailable, continuing without auditing: %v", err)
		return audit.NopSink{}
	}
	return sink
}

// parseTimeout reads the --timeout flag, falling back to the configured
// handler timeout.
func parseTimeout(cmd *cobra.Command, cfg *config.Config) (time.Duration, error) {
	raw, _ := cmd.Flags().GetString("timeout")
	if raw == "" {
		return cfg.HandlerTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}
