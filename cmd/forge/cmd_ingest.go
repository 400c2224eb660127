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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/embedding"
	"github.com/AleutianAI/AleutianForge/services/forge/ingest"
	"github.com/AleutianAI/AleutianForge/services/forge/vectorstore"
)

var (
	ingestCmd = &cobra.Command{
		Use:   "ingest [path]",
		Short: "Load documentation files into the vector store",
		Long: `Ingest splits the file or directory at [path] into overlapping chunks,
embeds them, and upserts the result into the vector store. Re-running
over the same sources replaces their chunks instead of duplicating them.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}

	ingestFramework string
	ingestVersion   string
	ingestChunkSize int
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestFramework, "framework", "",
		"Framework the documentation belongs to, e.g. flask or react")
	ingestCmd.Flags().StringVar(&ingestVersion, "version", "",
		"Documentation version label")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", ingest.DefaultChunkSize,
		"Target chunk size in characters")
	_ = ingestCmd.MarkFlagRequired("framework")
}

func runIngest(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()
	slogger := logger.Slog()

	cfg, err := forge.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	embedder, closeEmbedder, err := buildEmbedder(cfg, slogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeEmbedder(); err != nil {
			slogger.Warn("embedding_cache_close_failed", "error", err)
		}
	}()

	store, err := vectorstore.NewClient(ctx, cfg.Database, slogger)
	if err != nil {
		return err
	}
	defer store.Close()

	ingestor, err := ingest.New(embedder, store, ingestChunkSize, slogger)
	if err != nil {
		return err
	}

	written, err := ingestor.IngestPath(ctx, args[0], ingestFramework, ingestVersion)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d chunks from %s\n", written, args[0])
	return nil
}

// buildEmbedder constructs the configured embedding provider with the
// on-disk vector cache layered on top when it opens. It mirrors the
// provider wiring the serve command gets from the service constructor.
func buildEmbedder(cfg forge.Config, logger *slog.Logger) (embedding.Provider, func() error, error) {
	var base embedding.Provider
	switch cfg.Embedding.Backend {
	case "openai":
		provider, err := embedding.NewOpenAIProvider()
		if err != nil {
			return nil, nil, fmt.Errorf("forge: openai embedding provider: %w", err)
		}
		base = provider
	case "local":
		provider, err := embedding.NewLocalProvider()
		if err != nil {
			return nil, nil, fmt.Errorf("forge: local embedding provider: %w", err)
		}
		base = provider
	default:
		return nil, nil, fmt.Errorf("forge: unknown embedding backend %q", cfg.Embedding.Backend)
	}

	closeFn := func() error { return nil }
	cacheDB, err := embedding.OpenCacheDB(logger)
	if err != nil {
		logger.Warn("embedding_cache_unavailable",
			slog.String("error", err.Error()))
		cacheDB = nil
	} else {
		closeFn = cacheDB.Close
	}
	return embedding.NewCachedProvider(base, cacheDB, cfg.Embedding.CacheTTL), closeFn, nil
}
