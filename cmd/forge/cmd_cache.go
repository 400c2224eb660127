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
	"github.com/AleutianAI/AleutianForge/services/forge/kv"
	"github.com/AleutianAI/AleutianForge/services/forge/semcache"
	"github.com/AleutianAI/AleutianForge/services/forge/vectorstore"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage the semantic response cache",
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Drop all exact and semantic cache entries",
		RunE:  runCacheClear,
	}
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()
	slogger := logger.Slog()

	cfg, err := forge.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store := kv.NewRedisStore(cfg.Redis)
	defer store.Close()

	vec, err := vectorstore.NewClient(ctx, cfg.Database, slogger)
	if err != nil {
		return err
	}
	defer vec.Close()

	cache := semcache.New(store, vec, cfg.Cache.TTL, slogger)
	if err := cache.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Cache cleared")
	return nil
}
