// Package merge folds precomputed per-dependency document stores into a
// project store without re-running extraction.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeusData/callgraph-mcp/internal/docstore"
	"github.com/DeusData/callgraph-mcp/internal/metrics"
)

// DefaultPageSize is the number of documents copied per bulk add.
const DefaultPageSize = 500

// Opener opens a source store read-only.
type Opener func(path string) (docstore.Backend, error)

// Engine merges source stores into one target.
type Engine struct {
	target   docstore.Backend
	open     Opener
	pageSize int
}

// New returns an Engine writing into target.
func New(target docstore.Backend, open Opener, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Engine{target: target, open: open, pageSize: pageSize}
}

// MergeFrom copies the store at sourcePath into the target and returns the number
// of documents copied. limit > 0 caps the copy. An empty target that supports
// replication takes a raw copy of an unlimited merge; every other merge goes
// through paged bulk adds.
func (e *Engine) MergeFrom(ctx context.Context, sourcePath string, limit int) (int, error) {
	start := time.Now()
	if n, ok, err := e.replicate(sourcePath, limit); err != nil || ok {
		if err == nil {
			metrics.MergeDocuments.WithLabelValues("raw").Add(float64(n))
		}
		return n, err
	}

	src, err := e.open(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("open source %s: %w", sourcePath, err)
	}
	defer src.Close()

	total, err := src.Count(nil)
	if err != nil {
		return 0, fmt.Errorf("count source: %w", err)
	}
	if limit > 0 && limit < total {
		total = limit
	}

	copied := 0
	sawVectors := false
	for offset := 0; offset < total; offset += e.pageSize {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		page, err := src.Get(nil, min(e.pageSize, total-offset), offset)
		if err != nil {
			return copied, fmt.Errorf("read page at %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		if docstore.HasVectors(page) {
			sawVectors = true
		}
		if err := e.target.AddBatch(page); err != nil {
			return copied, fmt.Errorf("add page at %d: %w", offset, err)
		}
		copied += len(page)
		metrics.MergeDocuments.WithLabelValues("paged").Add(float64(len(page)))
		slog.Debug("merge.page", "source", sourcePath, "offset", offset, "size", len(page))
	}

	if copied > 0 && !sawVectors {
		if err := e.markUnembedded(); err != nil {
			return copied, err
		}
	}
	slog.Info("merge.done", "source", sourcePath, "copied", copied, "elapsed", time.Since(start))
	return copied, nil
}

func (e *Engine) replicate(sourcePath string, limit int) (int, bool, error) {
	if limit > 0 {
		return 0, false, nil
	}
	r, ok := e.target.(docstore.Replicator)
	if !ok {
		return 0, false, nil
	}
	empty, err := r.Empty()
	if err != nil || !empty {
		return 0, false, err
	}
	if err := r.ReplicateFrom(sourcePath); err != nil {
		return 0, false, fmt.Errorf("replicate %s: %w", sourcePath, err)
	}
	n, err := e.target.Count(nil)
	if err != nil {
		return 0, false, err
	}
	slog.Info("merge.raw_copy", "source", sourcePath, "documents", n)
	return n, true, nil
}

// markUnembedded records the no-embeddings sentinel unless a model is already set.
func (e *Engine) markUnembedded() error {
	if _, ok, err := e.target.Meta(docstore.MetaEmbeddingModel); err != nil || ok {
		return err
	}
	return e.target.SetMeta(docstore.MetaEmbeddingModel, docstore.NoEmbeddings)
}

// MergeAll merges every package cached in dir, in sorted order. A package that
// fails to merge is logged and skipped. Returns documents copied per package.
func (e *Engine) MergeAll(ctx context.Context, dir *CacheDir) (map[string]int, error) {
	pkgs, err := dir.Packages()
	if err != nil {
		return nil, err
	}
	result := make(map[string]int, len(pkgs))
	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, err := e.MergeFrom(ctx, dir.Path(pkg), 0)
		if err != nil {
			slog.Warn("merge.package.err", "package", pkg, "err", err)
			continue
		}
		result[pkg] = n
	}
	return result, nil
}
