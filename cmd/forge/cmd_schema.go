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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/vectorstore"
)

var (
	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Manage the vector store schema",
	}

	schemaEnsureCmd = &cobra.Command{
		Use:   "ensure",
		Short: "Create the pgvector tables and indexes if they are missing",
		Long: `Ensure creates the documentation and cache tables with VECTOR columns
sized to the configured embedding backend. Pass --dimensions to size the
columns without constructing an embedding provider.`,
		RunE: runSchemaEnsure,
	}

	schemaDimensions int
)

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaEnsureCmd)
	schemaEnsureCmd.Flags().IntVar(&schemaDimensions, "dimensions", 0,
		"Vector column width. Zero derives it from the embedding backend.")
}

func runSchemaEnsure(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()
	slogger := logger.Slog()

	cfg, err := forge.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	dimensions := schemaDimensions
	if dimensions <= 0 {
		embedder, closeEmbedder, err := buildEmbedder(cfg, slogger)
		if err != nil {
			return fmt.Errorf("%w (pass --dimensions to skip provider construction)", err)
		}
		dimensions = embedder.Dimensions()
		if err := closeEmbedder(); err != nil {
			slogger.Warn("embedding_cache_close_failed", "error", err)
		}
	}

	store, err := vectorstore.NewClient(ctx, cfg.Database, slogger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx, dimensions); err != nil {
		return err
	}
	fmt.Printf("Schema ensured with %d-dimensional vectors\n", dimensions)
	return nil
}
