/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
FlyStream Server - Main Entry Point.

USAGE:
======

	flystream [--config path] [--human-readable] [--quiet]
	flystream version

ENVIRONMENT VARIABLES:
======================

	FLYSTREAM_DATA_DIR        Data directory path
	FLYSTREAM_LOG_LEVEL       Log level: debug, info, warn, error
	FLYSTREAM_ENFORCE_FSYNC   Flush every write to stable storage
	FLYSTREAM_CACHE_SIZE      Message cache budget, e.g. "4GB"
	FLYSTREAM_ENCRYPTION_KEY  AES-256 key (64 hex chars)

STARTUP SEQUENCE:
=================
1. Load configuration (defaults, file, environment)
2. Initialize logging
3. Recover streams, topics and partitions from disk
4. Start the cache evictor, message saver and retention
5. Start the metrics and health endpoints
6. Wait for SIGINT/SIGTERM, then persist every partition and close
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flystream/internal/banner"
	"flystream/internal/config"
	"flystream/internal/health"
	"flystream/internal/logging"
	"flystream/internal/metrics"
	"flystream/internal/streaming"
)

const (
	shutdownTimeout = 30 * time.Second

	// The evictor normally keeps usage under the budget; staying above it
	// means eviction cannot keep up with appends.
	cacheDegradedPercent = 100
)

var (
	configPath    string
	humanReadable bool
	quietMode     bool
)

func main() {
	root := &cobra.Command{
		Use:          "flystream",
		Short:        "Start a FlyStream storage server",
		Example:      "flystream --config /etc/flystream/flystream.yaml",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a JSON or YAML configuration file")
	root.Flags().BoolVar(&humanReadable, "human-readable", false, "use console log format instead of JSON")
	root.Flags().BoolVarP(&quietMode, "quiet", "q", false, "skip banner and config display, output logs only")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			banner.PrintTo(cmd.OutOrStdout())
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if !quietMode {
		banner.PrintServerWithConfig(cfg)
	}

	logging.Configure(logging.Config{
		Level:    logging.ParseLevel(cfg.Logging.Level),
		Output:   os.Stdout,
		JSONMode: cfg.Logging.JSON && !humanReadable,
	})
	defer logging.Sync()
	logger := logging.NewLogger("main")
	logger.Info("Starting FlyStream", "version", banner.Version, "data_dir", cfg.System.DataDir)

	sys, err := streaming.NewSystem(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sys.Init(ctx); err != nil {
		logger.Error("Failed to initialize storage", "error", err, "kind", streaming.KindOf(err))
		return err
	}
	if err := sys.Start(); err != nil {
		return err
	}

	checker := health.NewChecker(banner.Version)
	checker.RegisterCheck("storage", health.StorageCheck(sys.Ping))
	checker.RegisterCheck("cache", health.MemoryCheck(cacheDegradedPercent, func() float64 {
		t := sys.MemoryTracker()
		if t.Limit() == 0 {
			return 0
		}
		return float64(t.Usage()) / float64(t.Limit()) * 100
	}))

	metricsServer := metrics.NewServer(cfg.Metrics, sys.Metrics())
	metricsServer.Handle("/health", checker.Handler())
	if err := metricsServer.Start(); err != nil {
		logger.Error("Failed to start metrics server", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	if err := metricsServer.Stop(); err != nil {
		logger.Error("Failed to stop metrics server", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sys.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
		return err
	}
	logger.Info("FlyStream stopped")
	return nil
}
