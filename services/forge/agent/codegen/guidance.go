// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegen

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// guidanceFileName is the file looked up inside a guidance override
// directory.
const guidanceFileName = "frameworks.yaml"

// maxGuidanceFileSize caps override files; guidance blocks are prompts, not
// documents.
const maxGuidanceFileSize = 1024 * 1024

//go:embed guidance/frameworks.yaml
var defaultGuidanceYAML []byte

// guidanceFile is the YAML schema for guidance assets.
type guidanceFile struct {
	Frameworks map[string]string `yaml:"frameworks"`
}

// GuidanceTable resolves per-framework guidance blocks for the code
// generation system prompt. The embedded asset is the baseline; an optional
// directory override layers on top and can be hot-reloaded.
//
// Thread Safety: Lookup is lock-free (atomic pointer load); reloads swap
// the whole table.
type GuidanceTable struct {
	table  atomic.Pointer[map[string]string]
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewGuidanceTable parses the embedded guidance asset. A nil logger falls
// back to slog.Default().
func NewGuidanceTable(logger *slog.Logger) (*GuidanceTable, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := parseGuidance(defaultGuidanceYAML)
	if err != nil {
		return nil, fmt.Errorf("codegen: embedded guidance asset: %w", err)
	}
	g := &GuidanceTable{logger: logger}
	g.table.Store(&base)
	return g, nil
}

// Lookup returns the guidance block for a normalized framework name.
func (g *GuidanceTable) Lookup(framework string) (string, bool) {
	if framework == "" {
		return "", false
	}
	table := *g.table.Load()
	block, ok := table[framework]
	return block, ok
}

// LoadDir reads dir/frameworks.yaml and swaps in a table of the embedded
// defaults overlaid with the file's entries. Frameworks absent from the
// file keep their embedded guidance.
func (g *GuidanceTable) LoadDir(dir string) error {
	path := filepath.Join(dir, guidanceFileName)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("codegen: guidance override: %w", err)
	}
	if info.Size() > maxGuidanceFileSize {
		return fmt.Errorf("codegen: guidance override %s exceeds %d bytes", path, maxGuidanceFileSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("codegen: guidance override: %w", err)
	}
	overlay, err := parseGuidance(raw)
	if err != nil {
		return fmt.Errorf("codegen: guidance override %s: %w", path, err)
	}

	base, err := parseGuidance(defaultGuidanceYAML)
	if err != nil {
		return fmt.Errorf("codegen: embedded guidance asset: %w", err)
	}
	for fw, block := range overlay {
		base[fw] = block
	}
	g.table.Store(&base)
	g.logger.Info("guidance_table_reloaded", "path", path, "frameworks", len(base))
	return nil
}

// Watch hot-reloads the override directory: every write or create of
// frameworks.yaml triggers LoadDir. Reload failures are logged and the
// previous table stays active. Call Close to stop watching.
func (g *GuidanceTable) Watch(dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher != nil {
		return fmt.Errorf("codegen: guidance watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("codegen: guidance watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("codegen: watch %s: %w", dir, err)
	}

	g.watcher = watcher
	g.done = make(chan struct{})
	go g.watchLoop(dir, watcher, g.done)
	return nil
}

func (g *GuidanceTable) watchLoop(dir string, watcher *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != guidanceFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := g.LoadDir(dir); err != nil {
				g.logger.Warn("guidance_reload_failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warn("guidance_watcher_error", "error", err)
		case <-done:
			return
		}
	}
}

// Close stops the watcher, if one is running.
func (g *GuidanceTable) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher == nil {
		return nil
	}
	close(g.done)
	err := g.watcher.Close()
	g.watcher = nil
	g.done = nil
	return err
}

// parseGuidance decodes a guidance YAML document into a normalized-key map.
func parseGuidance(raw []byte) (map[string]string, error) {
	var file guidanceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse guidance yaml: %w", err)
	}
	table := make(map[string]string, len(file.Frameworks))
	for fw, block := range file.Frameworks {
		table[normalizeFramework(fw)] = block
	}
	return table, nil
}
