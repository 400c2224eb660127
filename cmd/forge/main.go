// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "forge",
		Short: "Multi-agent documentation and code generation service",
		Long: `Forge turns natural-language prompts into documentation answers or
framework-specific code. It routes each prompt through a semantic cache,
a supervisor that classifies intent, a documentation search agent over a
pgvector store, and a syntax-validating code generation agent.`,
		SilenceUsage: true,
	}

	configPath string
	verbose    bool
	jsonLogs   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML config file. FORGE_* environment variables override it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false,
		"Emit JSON logs on stderr")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() *logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "forge",
		JSON:    jsonLogs,
	})
}
