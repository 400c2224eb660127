// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest loads documentation into the vector store: split into
// overlapping chunks, embed in bounded-concurrency batches, bulk upsert.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianForge/pkg/validation"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/embedding"
)

var tracer = otel.Tracer("forge.ingest")

// ErrInvalidDocument marks client mistakes: missing source, malformed
// framework, unreadable path. Handlers map it to HTTP 400.
var ErrInvalidDocument = errors.New("invalid document")

const (
	// DefaultChunkSize is the target chunk width in characters.
	DefaultChunkSize = 1000

	// embedBatchSize bounds texts per embedding round trip.
	embedBatchSize = 64

	// embedWorkers bounds concurrent embedding batches.
	embedWorkers = 4
)

// Separator ladders per file family. The splitter walks each list left to
// right looking for a boundary that keeps chunks under the size target.
var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
	pythonSeparators = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	cStyleSeparators = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}
)

// ingestibleExtensions gates directory walks. Single-file ingestion accepts
// any extension; walking a tree only picks up files we know how to split.
var ingestibleExtensions = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".rst": true,
	".py": true, ".js": true, ".ts": true, ".go": true,
	".java": true, ".rs": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true,
}

// DocumentWriter is the slice of the vector store ingestion needs.
// *vectorstore.Client satisfies it.
type DocumentWriter interface {
	UpsertDocuments(ctx context.Context, chunks []datatypes.DocumentationChunk) (int, error)
}

// Document is one source document to ingest.
type Document struct {
	// Content is the raw document text.
	Content string

	// Source identifies the document, e.g. a URL or file path. Part of
	// the (framework, source, section) upsert key.
	Source string

	// Framework tags every chunk, e.g. "nestjs". Sanitized on ingest.
	Framework string

	// Version optionally tags the documentation release, e.g. "10.2.1".
	Version string
}

// Ingestor splits, embeds, and stores documentation.
//
// Thread Safety: safe for concurrent use as long as its dependencies are.
type Ingestor struct {
	embedder  embedding.Provider
	store     DocumentWriter
	chunkSize int
	logger    *slog.Logger
}

// New creates an Ingestor. A non-positive chunkSize falls back to
// DefaultChunkSize; a nil logger falls back to slog.Default().
func New(embedder embedding.Provider, store DocumentWriter, chunkSize int, logger *slog.Logger) (*Ingestor, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingest: document writer must not be nil")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		embedder:  embedder,
		store:     store,
		chunkSize: chunkSize,
		logger:    logger,
	}, nil
}

// IngestDocument splits, embeds, and upserts one document.
//
// # Description
//
// The content is split with the separator ladder matching the source's file
// extension, each chunk is embedded (batches of 64, at most 4 in flight),
// and the chunks land in the documentation table in one bulk upsert keyed
// on (framework, source, section). Re-ingesting a document overwrites its
// earlier chunks in place.
//
// # Inputs
//   - ctx: Context for cancellation/timeout.
//   - doc: The document. Source must be non-blank; Framework must pass
//     validation and is lowercased.
//
// # Outputs
//   - int: Chunks written.
//   - error: Wrapped ErrInvalidDocument on bad input, otherwise embedding
//     or storage failure.
func (in *Ingestor) IngestDocument(ctx context.Context, doc Document) (int, error) {
	ctx, span := tracer.Start(ctx, "Ingest.Document",
		trace.WithAttributes(attribute.String("ingest.source", doc.Source)),
	)
	defer span.End()

	if strings.TrimSpace(doc.Source) == "" {
		err := fmt.Errorf("%w: source must not be empty", ErrInvalidDocument)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	framework, err := validation.SanitizeFramework(doc.Framework)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	pieces, err := in.split(doc.Source, doc.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "split failed")
		return 0, fmt.Errorf("ingest: split %s: %w", doc.Source, err)
	}
	if len(pieces) == 0 {
		in.logger.Warn("ingest_no_chunks", slog.String("source", doc.Source))
		return 0, nil
	}

	vectors, err := in.embedChunks(ctx, pieces)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return 0, fmt.Errorf("ingest: embed %s: %w", doc.Source, err)
	}

	chunks := make([]datatypes.DocumentationChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = datatypes.DocumentationChunk{
			Content:   piece,
			Embedding: vectors[i],
			Source:    doc.Source,
			Framework: framework,
			Section:   fmt.Sprintf("part_%d", i+1),
			Version:   doc.Version,
		}
	}

	written, err := in.store.UpsertDocuments(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return 0, fmt.Errorf("ingest: store %s: %w", doc.Source, err)
	}

	span.SetAttributes(
		attribute.Int("ingest.chunks", len(chunks)),
		attribute.Int("ingest.written", written),
	)
	span.SetStatus(codes.Ok, "")
	in.logger.Info("document_ingested",
		slog.String("source", doc.Source),
		slog.String("framework", framework),
		slog.Int("chunks", len(chunks)),
		slog.Int("written", written))
	return written, nil
}

// IngestPath ingests a file, or every ingestible file under a directory.
//
// Directory walks skip hidden entries and files whose extension has no
// splitter. The first failing file aborts the walk; upserts are idempotent,
// so rerunning after a fix is safe.
func (in *Ingestor) IngestPath(ctx context.Context, path, framework, version string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	if !info.IsDir() {
		return in.ingestFile(ctx, path, framework, version)
	}

	total := 0
	files := 0
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !ingestibleExtensions[filepath.Ext(p)] {
			return nil
		}
		n, err := in.ingestFile(ctx, p, framework, version)
		if err != nil {
			return err
		}
		total += n
		files++
		return nil
	})
	if walkErr != nil {
		return total, fmt.Errorf("ingest: walk %s: %w", path, walkErr)
	}
	if files == 0 {
		return 0, fmt.Errorf("%w: no ingestible files under %s", ErrInvalidDocument, path)
	}

	in.logger.Info("path_ingested",
		slog.String("path", path),
		slog.Int("files", files),
		slog.Int("chunks", total))
	return total, nil
}

func (in *Ingestor) ingestFile(ctx context.Context, path, framework, version string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return in.IngestDocument(ctx, Document{
		Content:   string(data),
		Source:    path,
		Framework: framework,
		Version:   version,
	})
}

// split chunks content with the separator ladder for the source's
// extension.
func (in *Ingestor) split(source, content string) ([]string, error) {
	return splitterFor(source, in.chunkSize).SplitText(content)
}

// embedChunks embeds every chunk, batching embedBatchSize texts per call
// with at most embedWorkers batches in flight. The result is index-aligned
// with the input.
func (in *Ingestor) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			batch, err := in.embedder.EmbedBatch(gctx, chunks[start:end])
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("batch [%d:%d]: provider returned %d vectors", start, end, len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// splitterFor picks the separator ladder by file extension, the same
// heuristic for URLs since they carry extensions too.
func splitterFor(source string, chunkSize int) textsplitter.TextSplitter {
	overlap := chunkSize / 10

	separators := defaultSeparators
	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		separators = markdownSeparators
	case ".py":
		separators = pythonSeparators
	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		separators = cStyleSeparators
	}

	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separators),
	)
}
