// Command cid is the scheduling daemon binary (spec.md §1/§6): it loads a
// job catalog, drives the reactor event loop, and exits once shutdown has
// been handled to completion.
//
// Grounded on the teacher's cmd/provisr/main.go cobra-root wiring, trimmed
// to the one subcommand SPEC_FULL.md's External Interfaces actually call
// for: there is no start/stop/status surface here, because this binary
// *is* the daemon, not a client of one.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/cid/internal/catalog"
	"github.com/loykin/cid/internal/logger"
	"github.com/loykin/cid/internal/metrics"
	"github.com/loykin/cid/internal/reactor"
	"github.com/loykin/cid/internal/runstore/factory"
)

func main() {
	var flags runFlags

	root := &cobra.Command{
		Use:   "cid",
		Short: "A lightweight continuous-integration scheduling daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	root.Flags().StringVarP(&flags.ConfigDir, "config-dir", "c", ".", "base config directory")
	root.Flags().BoolVarP(&flags.Fork, "fork", "d", false, "daemonize (fork into the background)")
	root.Flags().BoolVar(&flags.Debug, "debug", false, "verbose logging")
	root.Flags().BoolVar(&flags.NoTimestamp, "no-timestamp", false, "suppress log timestamps")
	root.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "address to serve Prometheus /metrics (e.g. :9090)")

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runFlags mirrors spec.md §6's CLI surface, kept as a plain struct so the
// daemonize/run logic below can be exercised without going through cobra
// (grounded on the teacher's StartFlags/StopFlags decoupling in flags.go).
type runFlags struct {
	ConfigDir     string
	Fork          bool
	Debug         bool
	NoTimestamp   bool
	MetricsListen string
}

func run(flags runFlags) error {
	if flags.Fork {
		if err := daemonize(); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}

	configPath, err := resolveConfigFile(flags.ConfigDir)
	if err != nil {
		return err
	}

	cat, err := catalog.Load(configPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	log := logger.Setup(logger.Config{}, flags.Debug, flags.NoTimestamp)

	store, err := factory.NewFromDSN(databaseDSN(cat.Database))
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure run store schema: %w", err)
	}

	if flags.MetricsListen != "" {
		if err := metrics.RegisterDefault(); err != nil {
			log.Warn("metrics registration failed", "error", err)
		}
		go func() {
			if err := metrics.Serve(flags.MetricsListen); err != nil {
				log.Error("metrics server exited", "error", err)
			}
		}()
	}

	r, err := reactor.New(cat, configPath, store, log)
	if err != nil {
		return fmt.Errorf("build reactor: %w", err)
	}

	log.Info("cid daemon starting", "config", configPath, "data_dir", cat.DataDir)
	return r.Run(ctx)
}
