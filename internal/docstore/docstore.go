// Package docstore holds usage documents: an id, a text, an attribute map and an
// optional embedding vector. Backends support bulk insert, equality filters
// over attributes and a raw copy of a whole store of the same format.
package docstore

import (
	"errors"
	"math"
	"reflect"
)

// Collection metadata keys.
const (
	MetaEmbeddingModel  = "embedding_model_name"
	MetaStrategyVersion = "document_strategy_version"
	MetaScanTimestamp   = "scan_timestamp"
)

// NoEmbeddings is the embedding model name of a collection without vectors.
const NoEmbeddings = "none"

// ErrUnsupportedFilter is returned for filter keys a backend cannot evaluate.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// Record is one stored document.
type Record struct {
	ID     string         `json:"id"`
	Text   string         `json:"text"`
	Attrs  map[string]any `json:"attrs"`
	Vector []float32      `json:"vector,omitempty"`
}

// Filter is a conjunction of attribute equalities. An empty filter matches everything.
type Filter map[string]any

// Backend is a document store.
type Backend interface {
	// AddBatch inserts records; ids already present are left untouched.
	AddBatch(records []Record) error
	// Get returns matching records in insertion order.
	Get(where Filter, limit, offset int) ([]Record, error)
	// Count returns the number of matching records.
	Count(where Filter) (int, error)
	Meta(key string) (string, bool, error)
	SetMeta(key, value string) error
	Close() error
}

// Replicator is implemented by file-backed stores that can absorb a raw copy of
// another store in the same format without per-row processing.
type Replicator interface {
	// Empty reports whether the store holds no documents.
	Empty() (bool, error)
	// ReplicateFrom copies every document and metadata entry from the store at path.
	ReplicateFrom(path string) error
}

// HasVectors reports whether any record carries a vector.
func HasVectors(records []Record) bool {
	for _, r := range records {
		if len(r.Vector) > 0 {
			return true
		}
	}
	return false
}

// Matches reports whether attrs satisfies every equality in f. Numbers compare by
// value whatever their Go type, since attributes decoded from JSON become float64.
func (f Filter) Matches(attrs map[string]any) bool {
	for k, want := range f {
		got, ok := attrs[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, !math.IsNaN(x)
	}
	return 0, false
}
