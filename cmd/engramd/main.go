// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// engramd is the observation worker daemon. It watches a coding
// assistant's tool activity, distills it into searchable observations,
// and serves the viewer's API on loopback.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/logging"
	"github.com/engramlabs/engram/services/worker"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "engramd",
	Short: "Background worker that distills coding-assistant activity into persistent memory",
	Long: `engramd observes an interactive coding assistant's tool calls, feeds
them to a per-session analyzer subprocess, and persists the distilled
observations for search, live streaming, and token-economics metrics.

All configuration comes from ENGRAM_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engramd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("engramd " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon() error {
	lg, err := logging.New(logging.Config{
		Service: "engram-worker",
		Level:   logging.ParseLevel(getEnvString("ENGRAM_LOG_LEVEL", "info")),
		LogDir:  getEnvString("ENGRAM_LOG_DIR", ""),
		JSON:    true,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer lg.Close()
	slog.SetDefault(lg.Slog())

	cfg := worker.Config{
		Port:               getEnvInt("ENGRAM_PORT", worker.DefaultPort),
		DBPath:             getEnvString("ENGRAM_DB_PATH", "~/.engram/engram.db"),
		AnalyzerCommand:    getEnvString("ENGRAM_ANALYZER_BIN", worker.DefaultAnalyzerCommand),
		AnalyzerModel:      getEnvString("ENGRAM_ANALYZER_MODEL", ""),
		WeaviateScheme:     getEnvString("ENGRAM_WEAVIATE_SCHEME", "http"),
		WeaviateHost:       getEnvString("ENGRAM_WEAVIATE_HOST", ""),
		WeaviateVectorizer: getEnvString("ENGRAM_WEAVIATE_VECTORIZER", ""),
		KeepProcessed:      getEnvInt("ENGRAM_KEEP_PROCESSED", 100),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := getEnvString("ENGRAM_OTLP_ENDPOINT", ""); endpoint != "" {
		cleanup, err := initTracer(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("configure tracing: %w", err)
		}
		defer cleanup(context.Background())
		cfg.Tracing = true
	}

	svc, err := worker.New(cfg)
	if err != nil {
		return err
	}

	slog.Info("starting engramd", "version", version, "port", cfg.Port)
	return svc.Run(ctx)
}

// getEnvString reads an environment variable with a fallback.
func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt reads an integer environment variable with a fallback.
// Garbage values fall back too, with a warning, rather than aborting
// startup.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment value", "key", key, "value", v)
		return fallback
	}
	return n
}
