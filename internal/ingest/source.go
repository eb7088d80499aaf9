package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/DeusData/callgraph-mcp/internal/fact"
)

// Producer emits facts until it is exhausted or emit fails.
type Producer func(ctx context.Context, emit func(Fact) error) error

// Run drives producers concurrently into w and flushes once all have finished.
func Run(ctx context.Context, w *Writer, producers ...Producer) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range producers {
		g.Go(func() error {
			return p(gctx, func(f Fact) error { return w.Submit(gctx, f) })
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return w.Flush(ctx)
}

// maxLine bounds one JSONL record.
const maxLine = 4 << 20

// ReadJSONL returns a producer over newline-delimited flat facts. Lines that do
// not decode are logged and skipped.
func ReadJSONL(r io.Reader, name string) Producer {
	return func(ctx context.Context, emit func(Fact) error) error {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		lineNo := 0
		for sc.Scan() {
			lineNo++
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			f, err := DecodeFact(line)
			if err != nil {
				slog.Warn("ingest.decode.err", "source", name, "line", lineNo, "err", err)
				continue
			}
			if err := emit(f); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		return nil
	}
}

// DecodeFact decodes one flat fact. Edges carry edgeType, usages carry
// usageType, and anything else with an fqn is a node declaration.
func DecodeFact(data []byte) (Fact, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Fact{}, fmt.Errorf("decode fact: %w", err)
	}
	switch {
	case probe["edgeType"] != nil:
		var e fact.Edge
		if err := json.Unmarshal(data, &e); err != nil {
			return Fact{}, fmt.Errorf("decode edge: %w", err)
		}
		return Fact{Edge: &e}, nil
	case probe["usageType"] != nil:
		var u fact.Usage
		if err := json.Unmarshal(data, &u); err != nil {
			return Fact{}, fmt.Errorf("decode usage: %w", err)
		}
		return Fact{Usage: &u}, nil
	case probe["fqn"] != nil:
		var n fact.Node
		if err := json.Unmarshal(data, &n); err != nil {
			return Fact{}, fmt.Errorf("decode node: %w", err)
		}
		return Fact{Node: &n}, nil
	}
	return Fact{}, errors.New("decode fact: no fqn, edgeType or usageType")
}

// Slice returns a producer over facts already in memory.
func Slice(facts []Fact) Producer {
	return func(ctx context.Context, emit func(Fact) error) error {
		for _, f := range facts {
			if err := emit(f); err != nil {
				return err
			}
		}
		return nil
	}
}
