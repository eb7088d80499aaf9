// Package ingest funnels facts from concurrent producers through one consumer
// goroutine. Each batch is committed in a single graph transaction, so readers
// see either none or all of it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/DeusData/callgraph-mcp/internal/docstore"
	"github.com/DeusData/callgraph-mcp/internal/fact"
	"github.com/DeusData/callgraph-mcp/internal/metrics"
	"github.com/DeusData/callgraph-mcp/internal/store"
)

// DefaultBatchSize is the number of facts committed per transaction.
const DefaultBatchSize = 500

// ErrClosed is returned by Submit and Flush after Close.
var ErrClosed = errors.New("ingest writer closed")

// Fact is one ingest record. Exactly one field is set.
type Fact struct {
	Node  *fact.Node  `json:"node,omitempty"`
	Edge  *fact.Edge  `json:"edge,omitempty"`
	Usage *fact.Usage `json:"usage,omitempty"`
}

func (f Fact) kind() string {
	switch {
	case f.Node != nil:
		return "node"
	case f.Edge != nil:
		return "edge"
	case f.Usage != nil:
		return "usage"
	}
	return "empty"
}

// Config wires a Writer to its stores.
type Config struct {
	Graph *store.Store
	// Docs receives usage facts as documents. Without it usage facts are skipped.
	Docs      docstore.Backend
	BatchSize int
	// UpdateIfExists lets declarations replace existing nodes, including stubs.
	UpdateIfExists bool
	// NoStubs disables placeholder nodes for unseen edge endpoints.
	NoStubs bool
	// Assigner fills missing origin packages before each commit.
	Assigner *Assigner
}

// Stats counts what the writer committed.
type Stats struct {
	Nodes   int64 `json:"nodes"`
	Edges   int64 `json:"edges"`
	Usages  int64 `json:"usages"`
	Skipped int64 `json:"skipped"`
}

type item struct {
	fact  Fact
	reply chan error
}

// Writer is the single submission path for graph and document writes.
type Writer struct {
	cfg  Config
	in   chan item
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error

	nodes, edges, usages, skipped atomic.Int64
}

// NewWriter starts the consumer goroutine.
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	w := &Writer{
		cfg:  cfg,
		in:   make(chan item, cfg.BatchSize),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues f. It blocks while the queue is full.
func (w *Writer) Submit(ctx context.Context, f Fact) error {
	return w.send(ctx, item{fact: f})
}

// Flush commits everything submitted before the call.
func (w *Writer) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := w.send(ctx, item{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) send(ctx context.Context, it item) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.in <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close commits the pending batch, stops the consumer and returns the first
// commit error seen over the writer's lifetime.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.in)
	}
	w.mu.Unlock()
	<-w.done

	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Stats returns the running totals.
func (w *Writer) Stats() Stats {
	return Stats{
		Nodes:   w.nodes.Load(),
		Edges:   w.edges.Load(),
		Usages:  w.usages.Load(),
		Skipped: w.skipped.Load(),
	}
}

func (w *Writer) loop() {
	defer close(w.done)
	batch := make([]Fact, 0, w.cfg.BatchSize)
	for it := range w.in {
		if it.reply != nil {
			it.reply <- w.commit(&batch)
			continue
		}
		batch = append(batch, it.fact)
		if len(batch) >= w.cfg.BatchSize {
			_ = w.commit(&batch)
		}
	}
	_ = w.commit(&batch)
}

func (w *Writer) commit(batch *[]Fact) error {
	if len(*batch) == 0 {
		return nil
	}
	err := w.write(*batch)
	*batch = (*batch)[:0]
	if err != nil {
		slog.Warn("ingest.flush.err", "err", err)
		w.errMu.Lock()
		if w.err == nil {
			w.err = err
		}
		w.errMu.Unlock()
	}
	return err
}

func (w *Writer) write(batch []Fact) error {
	start := time.Now()
	defer func() { metrics.IngestFlushDuration.Observe(time.Since(start).Seconds()) }()

	if w.cfg.Assigner != nil {
		w.cfg.Assigner.Assign(batch)
	}

	var (
		nodes []*fact.Node
		edges []*fact.Edge
		docs  []docstore.Record
	)
	for _, f := range batch {
		if err := w.validate(f); err != nil {
			slog.Warn("ingest.fact.skip", "kind", f.kind(), "err", err)
			metrics.IngestFacts.WithLabelValues(f.kind(), "skipped").Inc()
			w.skipped.Add(1)
			continue
		}
		switch {
		case f.Node != nil:
			if f.Node.Kind == "" {
				f.Node.Kind = store.InferKind(f.Node.FQN)
			}
			nodes = append(nodes, f.Node)
		case f.Edge != nil:
			edges = append(edges, f.Edge)
		case f.Usage != nil:
			docs = append(docs, docstore.Record{
				ID:    uuid.NewString(),
				Text:  f.Usage.Text(),
				Attrs: f.Usage.Attrs(),
			})
		}
	}

	if len(nodes)+len(edges) > 0 {
		err := w.cfg.Graph.WithTransaction(func(tx *store.Store) error {
			if err := tx.UpsertNodes(nodes, w.cfg.UpdateIfExists); err != nil {
				return err
			}
			return tx.AddEdges(edges, !w.cfg.NoStubs)
		})
		if err != nil {
			metrics.IngestFacts.WithLabelValues("node", "failed").Add(float64(len(nodes)))
			metrics.IngestFacts.WithLabelValues("edge", "failed").Add(float64(len(edges)))
			return fmt.Errorf("commit graph batch: %w", err)
		}
		w.nodes.Add(int64(len(nodes)))
		w.edges.Add(int64(len(edges)))
		metrics.IngestFacts.WithLabelValues("node", "written").Add(float64(len(nodes)))
		metrics.IngestFacts.WithLabelValues("edge", "written").Add(float64(len(edges)))
	}

	if len(docs) > 0 {
		if err := w.cfg.Docs.AddBatch(docs); err != nil {
			metrics.IngestFacts.WithLabelValues("usage", "failed").Add(float64(len(docs)))
			return fmt.Errorf("add usage documents: %w", err)
		}
		w.usages.Add(int64(len(docs)))
		metrics.IngestFacts.WithLabelValues("usage", "written").Add(float64(len(docs)))
	}

	slog.Debug("ingest.flush", "nodes", len(nodes), "edges", len(edges), "usages", len(docs), "elapsed", time.Since(start))
	return nil
}

func (w *Writer) validate(f Fact) error {
	switch {
	case f.Node != nil:
		if f.Node.FQN == "" {
			return errors.New("node without fqn")
		}
		if w.cfg.Graph == nil {
			return errors.New("no graph store")
		}
	case f.Edge != nil:
		if f.Edge.From == "" || f.Edge.To == "" {
			return fmt.Errorf("edge %q -> %q missing an endpoint", f.Edge.From, f.Edge.To)
		}
		switch f.Edge.Type {
		case fact.EdgeCall, fact.EdgeInheritance, fact.EdgeMemberOf:
		default:
			return fmt.Errorf("unknown edge type %q", f.Edge.Type)
		}
		if w.cfg.Graph == nil {
			return errors.New("no graph store")
		}
	case f.Usage != nil:
		if f.Usage.CalleeSymbol == "" && f.Usage.CallerSymbol == "" {
			return errors.New("usage without symbols")
		}
		if w.cfg.Docs == nil {
			return errors.New("no document backend")
		}
	default:
		return errors.New("empty fact")
	}
	return nil
}
